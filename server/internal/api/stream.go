package api

import (
	"net/http"
	"strconv"
	"time"

	"learnlm/server/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// handleSessionStream 升级为 WebSocket：先回放该会话的全部时间线事件，再推送新事件。
// 客户端可传 ?after=<seq> 跳过已经收到的事件。
func (s *Server) handleSessionStream(c *gin.Context) {
	o, ok := s.lookup(c)
	if !ok {
		return
	}
	var after int64
	if v := c.Query("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
			return
		}
		after = n
	}

	// 先订阅再列出历史，避免两者之间的事件丢失；按 seq 去重。
	events, cancel := s.timeline.Subscribe(o.ID())
	defer cancel()
	history, err := s.timeline.List(c.Request.Context(), o.ID())
	if err != nil {
		s.writeError(c, o, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.String("session_id", o.ID()), zap.Error(err))
		return
	}
	defer conn.Close()
	logger := s.logger.With(zap.String("session_id", o.ID()))
	logger.Info("stream connected", zap.String("remote", c.Request.RemoteAddr))

	// 读协程只负责感知断开；客户端不需要发送任何消息。
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	cur := &streamCursor{
		last: after,
		list: func() ([]model.Event, error) { return s.timeline.List(s.ctx, o.ID()) },
		send: func(evt model.Event) error {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			return conn.WriteJSON(evt)
		},
	}
	for _, evt := range history {
		if err := cur.push(evt); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), time.Now().Add(time.Second))
				return
			}
			if err := cur.push(evt); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			logger.Info("stream disconnected")
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// streamCursor 保证按 seq 连续发送：订阅缓冲溢出丢掉的事件从 timeline 补齐，重复的跳过。
type streamCursor struct {
	last int64
	list func() ([]model.Event, error)
	send func(model.Event) error
}

func (c *streamCursor) push(evt model.Event) error {
	if evt.Seq <= c.last {
		return nil
	}
	if evt.Seq > c.last+1 {
		events, err := c.list()
		if err != nil {
			return err
		}
		for _, missed := range events {
			if missed.Seq <= c.last || missed.Seq >= evt.Seq {
				continue
			}
			if err := c.send(missed); err != nil {
				return err
			}
			c.last = missed.Seq
		}
	}
	if err := c.send(evt); err != nil {
		return err
	}
	c.last = evt.Seq
	return nil
}
