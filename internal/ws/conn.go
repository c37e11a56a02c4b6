package ws

import (
	"context"
	"net/http"
	"time"

	"chatrelay/internal/metrics"
	"chatrelay/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Dispatcher 处理一帧入站数据，错误已由实现方记录。
type Dispatcher interface {
	Dispatch(ctx context.Context, connID string, raw []byte) error
}

// Limiter 按连接限制入站事件速率。
type Limiter interface {
	Allow(key string) bool
	Forget(key string)
}

// Server 把 WebSocket 连接接入会话注册表和事件路由。
type Server struct {
	reg        *session.Registry
	dispatcher Dispatcher
	limiter    Limiter
	maxBytes   int64
	upgrader   websocket.Upgrader
}

func NewServer(reg *session.Registry, d Dispatcher, limiter Limiter, maxMessageBytes int64) *Server {
	return &Server{
		reg:        reg,
		dispatcher: d,
		limiter:    limiter,
		maxBytes:   maxMessageBytes,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve 升级连接、注册会话，并在当前 goroutine 上运行读循环直到连接断开。
func (s *Server) Serve(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws upgrade")
		return
	}
	connID := uuid.NewString()
	sess := s.reg.Connect(connID)
	log.Info().Str("conn_id", connID).Str("remote", c.Request.RemoteAddr).Msg("ws connected")

	go s.writePump(conn, sess)
	s.readPump(c.Request.Context(), conn, connID)
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, connID string) {
	defer func() {
		s.reg.Disconnect(connID)
		s.limiter.Forget(connID)
		_ = conn.Close()
		log.Info().Str("conn_id", connID).Msg("ws disconnected")
	}()
	conn.SetReadLimit(s.maxBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", connID).Msg("ws read")
			}
			return
		}
		if !s.limiter.Allow(connID) {
			metrics.WsEventsTotal.WithLabelValues("throttled", "rate_limited").Inc()
			continue
		}
		// 错误已在分发器内记录并计数，客户端不会收到错误帧
		_ = s.dispatcher.Dispatch(ctx, connID, data)
	}
}

func (s *Server) writePump(conn *websocket.Conn, sess *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case message, ok := <-sess.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
