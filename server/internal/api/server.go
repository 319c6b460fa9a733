package api

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"learnlm/server/internal/config"
	"learnlm/server/internal/orchestrator"
	"learnlm/server/internal/session"
	"learnlm/server/internal/timeline"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server 承载会话的 HTTP 控制面：创建、单步、连续运行、停止、清空、导出与事件流。
type Server struct {
	config   *config.Config
	factory  *orchestrator.Factory
	store    session.Store
	timeline timeline.Store
	logger   *zap.Logger
	now      func() time.Time

	// live 管理所有活跃会话 (sessionID -> Orchestrator)
	live   map[string]*orchestrator.Orchestrator
	liveMu sync.RWMutex

	// runs 跟踪后台运行循环，Close 时等待它们退出。
	runs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	upgrader websocket.Upgrader
	newID    func() string
}

func NewServer(cfg *config.Config, factory *orchestrator.Factory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		factory:  factory,
		store:    factory.Sessions(),
		timeline: factory.Timeline(),
		logger:   logger,
		now:      time.Now,
		live:     make(map[string]*orchestrator.Orchestrator),
		ctx:      ctx,
		cancel:   cancel,
		newID:    uuid.NewString,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.originAllowed}
	return s
}

func (s *Server) Routes() http.Handler {
	// Gin 统一承载中间件与路由。
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), s.corsMiddleware())
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/api/catalog", s.handleCatalog)

	sessions := engine.Group("/api/sessions")
	sessions.GET("", s.handleListSessions)
	sessions.POST("", s.handleCreateSession)
	sessions.GET("/:id", s.handleGetSession)
	sessions.DELETE("/:id", s.handleDeleteSession)
	sessions.POST("/:id/step", s.handleStep)
	sessions.POST("/:id/run", s.handleRun)
	sessions.POST("/:id/stop", s.handleStop)
	sessions.POST("/:id/reset", s.handleReset)
	sessions.POST("/:id/opening", s.handleOpening)
	sessions.GET("/:id/export", s.handleExport)
	sessions.GET("/:id/stream", s.handleSessionStream)
	return engine
}

// Close 停止所有运行循环并等待退出。进行中的模型调用会被取消。
func (s *Server) Close() {
	s.liveMu.RLock()
	for _, o := range s.live {
		o.Stop()
	}
	s.liveMu.RUnlock()
	s.cancel()
	s.runs.Wait()
}

func (s *Server) lookup(c *gin.Context) (*orchestrator.Orchestrator, bool) {
	id := c.Param("id")
	s.liveMu.RLock()
	o, ok := s.live[id]
	s.liveMu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": session.ErrNotFound.Error()})
		return nil, false
	}
	return o, true
}

// writeError 把编排器错误映射成状态码。
func (s *Server) writeError(c *gin.Context, o *orchestrator.Orchestrator, err error) {
	var turnErr *orchestrator.TurnFailedError
	switch {
	case errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, orchestrator.ErrSessionSolved),
		errors.Is(err, orchestrator.ErrOpeningTooLate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrSessionClosed):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, orchestrator.ErrInvalidSession):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &turnErr):
		// 上游失败：会话保持可恢复，返回当前状态便于前端展示。
		resp := gin.H{"error": err.Error(), "role": turnErr.Role}
		if o != nil {
			resp["state"] = o.State()
		}
		c.JSON(http.StatusBadGateway, resp)
	default:
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.config.Server.AllowedOrigins, origin) || slices.Contains(s.config.Server.AllowedOrigins, "*")
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && s.originAllowed(c.Request) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
