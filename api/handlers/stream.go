package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/api"
	"github.com/BaSui01/agentrelay/relay"
	"github.com/BaSui01/agentrelay/types"
)

// streamWriteTimeout 单条消息的写超时
const streamWriteTimeout = 10 * time.Second

// =============================================================================
// 🔌 WebSocket 会话流
// =============================================================================

// streamConn 包装 WebSocket 连接，写操作通过 mutex 保护，WebSocket 不支持并发写。
type streamConn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

func (c *streamConn) send(ctx context.Context, ev relay.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection closed")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *streamConn) sendError(ctx context.Context, sessionID string, err error) {
	ev := relay.Event{Type: relay.EventError, SessionID: sessionID, Error: AsTypedError(err)}
	if werr := c.send(ctx, ev); werr != nil {
		c.logger.Debug("failed to deliver error event", zap.Error(werr))
	}
}

func (c *streamConn) close(code websocket.StatusCode, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	_ = c.conn.Close(code, reason)
}

// HandleStream 在 WebSocket 上承载会话的多轮对话
// @Summary 会话事件流
// @Description 升级为 WebSocket；客户端发送 chat/cancel/return 消息，服务端推送 stream、handoff、result、error 事件
// @Tags 会话
// @Param id path string true "会话 ID"
// @Success 101 "协议切换"
// @Router /api/relay/sessions/{id}/stream [get]
func (h *RelayHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := validateStreamSession(sessionID); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 长连接不受服务器读写超时约束
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	sc := &streamConn{
		conn:   conn,
		logger: h.logger.With(zap.String("session_id", sessionID)),
	}
	defer sc.close(websocket.StatusNormalClosure, "closing")

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	sc.logger.Debug("stream opened")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && !errors.Is(err, context.Canceled) {
				sc.logger.Debug("stream read ended", zap.Error(err))
			}
			return
		}

		var msg api.StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sc.sendError(ctx, sessionID, types.NewError(types.ErrInvalidRequest, "invalid stream message").
				WithCause(err).WithHTTPStatus(http.StatusBadRequest))
			continue
		}

		switch msg.Type {
		case api.StreamMessageChat:
			in := toInput(msg.ChatRequest)
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.streamChat(ctx, sc, sessionID, in)
			}()

		case api.StreamMessageCancel:
			cancelled := h.relay.Cancel(sessionID)
			sc.logger.Debug("cancel requested", zap.Bool("cancelled", cancelled))

		case api.StreamMessageReturn:
			dec, _, err := h.relay.Return(ctx, sessionID, msg.Reason)
			if err != nil {
				sc.sendError(ctx, sessionID, err)
				continue
			}
			if dec.Change != nil {
				_ = sc.send(ctx, relay.Event{
					Type:      relay.EventHandoff,
					SessionID: sessionID,
					AgentID:   dec.Change.To,
					Handoff:   dec.Change,
				})
			}

		default:
			sc.sendError(ctx, sessionID, types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("unknown message type %q", msg.Type)).WithHTTPStatus(http.StatusBadRequest))
		}
	}
}

func (h *RelayHandler) streamChat(ctx context.Context, sc *streamConn, sessionID string, in relay.Input) {
	emit := func(ev relay.Event) {
		if err := sc.send(ctx, ev); err != nil {
			sc.logger.Debug("failed to deliver event",
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
	if _, err := h.relay.ChatStream(ctx, sessionID, in, emit); err != nil {
		sc.sendError(ctx, sessionID, err)
	}
}

func validateStreamSession(id string) *types.Error {
	if id == "" {
		return types.NewError(types.ErrInvalidRequest, "session id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}
