package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"skillswap-chat/internal/event"
	"skillswap-chat/internal/model"
	"skillswap-chat/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Conn 是一条已认证的 socket 连接，写操作串行化
type Conn struct {
	ws     *websocket.Conn
	userID string

	writeMu sync.Mutex
}

// Dial 用 bearer token 建立连接，userID 用于识别自己发出的消息
func Dial(ctx context.Context, url, token, userID string) (*Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &Conn{ws: ws, userID: userID}, nil
}

func (c *Conn) UserID() string {
	return c.userID
}

func (c *Conn) Emit(name string, data any) error {
	frame, err := event.Encode(name, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// SendDirect 先追加临时消息再发送，发送失败时立即标记失败
func (c *Conn) SendDirect(tl *Timeline, receiverID, content string) (Entry, error) {
	e := tl.AddProvisional(content)
	err := c.Emit(event.SendMessage, event.SendMessagePayload{ReceiverID: receiverID, Content: e.Content, ClientMsgID: e.TempID})
	if err != nil {
		tl.Fail(e.TempID, err.Error())
	}
	return e, err
}

func (c *Conn) SendGroup(tl *Timeline, groupID, content string) (Entry, error) {
	e := tl.AddProvisional(content)
	err := c.Emit(event.GroupMessage, event.GroupMessagePayload{GroupID: groupID, Content: e.Content, ClientMsgID: e.TempID})
	if err != nil {
		tl.Fail(e.TempID, err.Error())
	}
	return e, err
}

func (c *Conn) JoinConversation(peerID string) error {
	return c.Emit(event.JoinConversation, event.RoomPayload{UserID: peerID})
}

func (c *Conn) JoinGroup(groupID string) error {
	return c.Emit(event.JoinGroup, event.RoomPayload{GroupID: groupID})
}

// TypingDebouncer 返回一个按键去抖器，状态变化时发送 typing / stopTyping
func (c *Conn) TypingDebouncer(roomKey string, delay time.Duration) *Debouncer {
	payload := event.TypingPayload{RoomKey: roomKey}
	return NewDebouncer(delay,
		func() {
			if err := c.Emit(event.Typing, payload); err != nil {
				logger.L.Debug("Failed to emit typing", zap.Error(err))
			}
		},
		func() {
			if err := c.Emit(event.StopTyping, payload); err != nil {
				logger.L.Debug("Failed to emit stopTyping", zap.Error(err))
			}
		})
}

// Run 读取服务端事件直到连接关闭或 ctx 结束。
// 新消息合并进 tl，带 client_msg_id 的错误把对应临时消息标记为失败，
// 其余事件交给 other（可以为 nil）
func (c *Conn) Run(ctx context.Context, tl *Timeline, other func(event.Envelope)) error {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		env, err := event.Decode(frame)
		if err != nil {
			logger.L.Warn("Dropping malformed frame", zap.Error(err))
			continue
		}
		if !Reconcile(tl, env) && other != nil {
			other(env)
		}
	}
}

// Reconcile 处理与时间线相关的事件，返回 false 表示事件与时间线无关
func Reconcile(tl *Timeline, env event.Envelope) bool {
	switch env.Event {
	case event.NewMessage, event.NewGroupMessage:
		var msg model.Message
		if err := env.Bind(&msg); err != nil {
			logger.L.Warn("Dropping malformed message", zap.String("event", env.Event), zap.Error(err))
			return true
		}
		tl.Apply(msg)
		return true
	case event.MessageError:
		var p event.ErrorPayload
		if err := env.Bind(&p); err != nil || p.ClientMsgID == "" {
			return false
		}
		tl.Fail(p.ClientMsgID, p.Message)
		return true
	default:
		return false
	}
}

func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		logger.L.Debug("Failed to send close frame", zap.Error(err))
	}
	return c.ws.Close()
}
