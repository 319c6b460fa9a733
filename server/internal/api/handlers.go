package api

import (
	"errors"
	"fmt"
	"net/http"

	"learnlm/server/internal/domain"
	"learnlm/server/internal/model"
	"learnlm/server/internal/orchestrator"
	"learnlm/server/internal/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleHealthz 返回服务健康状态。
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type catalogResponse struct {
	Intents    []domain.Intent    `json:"intents"`
	Mistakes   []domain.Mistake   `json:"mistakes"`
	Situations []domain.Situation `json:"situations"`
	Profiles   []domain.Profile   `json:"profiles"`
	Greeting   string             `json:"greeting"`
}

// handleCatalog 返回当前目录与全部学生画像，供前端渲染配置面板。
func (s *Server) handleCatalog(c *gin.Context) {
	b := s.factory.Bundle()
	cat := b.Catalog()
	c.JSON(http.StatusOK, catalogResponse{
		Intents:    cat.Intents(),
		Mistakes:   cat.Mistakes(),
		Situations: cat.Situations(),
		Profiles:   b.Profiles,
		Greeting:   b.Prompts.Greeting,
	})
}

type sessionResponse struct {
	State    model.SessionState `json:"state"`
	Snapshot model.Snapshot     `json:"snapshot"`
}

func sessionView(o *orchestrator.Orchestrator) sessionResponse {
	return sessionResponse{State: o.State(), Snapshot: o.Snapshot()}
}

// handleCreateSession 按画像与覆盖项创建会话，配置不一致时返回 422。
func (s *Server) handleCreateSession(c *gin.Context) {
	var ov orchestrator.Overrides
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&ov); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	o, err := s.factory.Build(s.newID(), ov)
	if err != nil {
		s.writeError(c, nil, err)
		return
	}
	s.liveMu.Lock()
	s.live[o.ID()] = o
	s.liveMu.Unlock()

	c.JSON(http.StatusCreated, sessionView(o))
}

// handleListSessions 返回会话快照列表（不含活跃状态之外的信息）。
func (s *Server) handleListSessions(c *gin.Context) {
	states, err := s.store.List(c.Request.Context())
	if err != nil {
		s.writeError(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": states})
}

func (s *Server) handleGetSession(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionView(o))
}

// handleDeleteSession 停止并移除会话，同时清理快照与时间线。
func (s *Server) handleDeleteSession(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok {
		return
	}
	// Close 之后进行中的回合不会再写快照与时间线。
	o.Close()
	s.liveMu.Lock()
	delete(s.live, o.ID())
	s.liveMu.Unlock()

	if err := s.store.Delete(c.Request.Context(), o.ID()); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.writeError(c, nil, err)
		return
	}
	if d, ok := s.timeline.(interface{ Drop(string) }); ok {
		d.Drop(o.ID())
	}
	c.Status(http.StatusNoContent)
}

// checkWeights 是界面层校验：意图概率之和必须为 100。
func checkWeights(c *gin.Context, o *orchestrator.Orchestrator) bool {
	if err := domain.CheckPercentTotal(o.Config().IntentWeights); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return false
	}
	return true
}

type stepResponse struct {
	Message     *model.Message     `json:"message,omitempty"`
	Termination *model.Termination `json:"termination,omitempty"`
	State       model.SessionState `json:"state"`
}

// handleStep 同步执行一个回合。
func (s *Server) handleStep(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok || !checkWeights(c, o) {
		return
	}
	out, err := o.Step(c.Request.Context())
	if err != nil {
		s.writeError(c, o, err)
		return
	}
	c.JSON(http.StatusOK, stepResponse{Message: out.Message, Termination: out.Termination, State: o.State()})
}

// handleRun 在后台启动运行循环，立即返回 202；进度通过 stream 推送。
func (s *Server) handleRun(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok || !checkWeights(c, o) {
		return
	}
	done, err := o.Start(s.ctx)
	if err != nil {
		s.writeError(c, o, err)
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if err := <-done; err != nil {
			s.logger.Warn("run loop ended with error", zap.String("session_id", o.ID()), zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"state": o.State()})
}

func (s *Server) handleStop(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok {
		return
	}
	o.Stop()
	c.JSON(http.StatusOK, gin.H{"state": o.State()})
}

func (s *Server) handleReset(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok {
		return
	}
	if err := o.Reset(c.Request.Context()); err != nil {
		s.writeError(c, o, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": o.State()})
}

type openingRequest struct {
	Text string `json:"text"`
}

// handleOpening 设置学生的脚本化开场白。
func (s *Server) handleOpening(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok {
		return
	}
	var req openingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := o.SubmitOpening(req.Text); err != nil {
		s.writeError(c, o, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": o.State()})
}

// handleExport 以附件形式下载 {config, messages}。
func (s *Server) handleExport(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="dialog-%s.json"`, o.ID()))
	c.IndentedJSON(http.StatusOK, o.Snapshot())
}
