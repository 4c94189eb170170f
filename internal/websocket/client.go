package websocket

import (
	"context"
	"sync"
	"time"

	"skillswap-chat/internal/event"
	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/metrics"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultWriteWait      = 10 * time.Second // 写超时
	defaultPongWait       = 60 * time.Second // 等待pong的最大时间
	defaultMaxMessageSize = 16 * 1024        // 消息最大长度
	sendBufferSize        = 256
)

type Client struct {
	id      string
	UserID  string
	Name    string
	Conn    *websocket.Conn
	Send    chan []byte
	mu      sync.Mutex
	closed  bool
	limiter *rate.Limiter
	handler interfaces.EventHandler
	manager interfaces.ConnectionManager

	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	maxMessageSize int64
}

func NewClient(userID, name string, conn *websocket.Conn, handler interfaces.EventHandler, manager interfaces.ConnectionManager) *Client {
	wsConfig := config.GlobalConfig.WebSocket

	writeWait := time.Duration(wsConfig.WriteWaitSeconds) * time.Second
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	pongWait := time.Duration(wsConfig.PongWaitSeconds) * time.Second
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	maxMessageSize := int64(wsConfig.MaxMessageSize)
	if maxMessageSize <= 0 {
		maxMessageSize = defaultMaxMessageSize
	}
	eventsPerSecond := wsConfig.EventsPerSecond
	if eventsPerSecond <= 0 {
		eventsPerSecond = 20
	}
	burst := wsConfig.EventBurst
	if burst <= 0 {
		burst = eventsPerSecond
	}

	return &Client{
		id:             uuid.NewString(),
		UserID:         userID,
		Name:           name,
		Conn:           conn,
		Send:           make(chan []byte, sendBufferSize),
		limiter:        rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
		handler:        handler,
		manager:        manager,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     (pongWait * 9) / 10, // 发送ping的周期
		maxMessageSize: maxMessageSize,
	}
}

func (c *Client) ConnID() string      { return c.id }
func (c *Client) GetUserID() string   { return c.UserID }
func (c *Client) DisplayName() string { return c.Name }

// QueueBytes 不阻塞，缓冲区满时由 Hub 决定重试还是断开
func (c *Client) QueueBytes(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close 关闭发送通道，WritePump 随后发送关闭帧并退出
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.manager.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	for {
		messageType, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L.Warn("Unexpected close error", zap.String("userID", c.UserID), zap.String("connID", c.id), zap.Error(err))
			} else {
				logger.L.Debug("Read loop finished", zap.String("userID", c.UserID), zap.String("connID", c.id), zap.Error(err))
			}
			break
		}

		if messageType != websocket.TextMessage {
			logger.L.Warn("Received non-text message, ignoring", zap.String("userID", c.UserID), zap.Int("type", messageType))
			continue
		}

		if !c.limiter.Allow() {
			metrics.RateLimited.Inc()
			if frame, err := event.Encode(event.MessageError, event.ErrorPayload{Code: "rate_limited", Message: "too many events"}); err == nil {
				_ = c.QueueBytes(frame)
			}
			continue
		}

		// 连接断开不取消已经开始的持久化
		c.handler.HandleEvent(context.Background(), c, messageBytes)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case messageBytes, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// Send 通道已关闭
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, messageBytes); err != nil {
				logger.L.Warn("Failed to write message", zap.String("connID", c.id), zap.Error(err))
				return
			}

			n := len(c.Send)
			for i := 0; i < n; i++ {
				batchBytes, ok := <-c.Send
				if !ok {
					c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, batchBytes); err != nil {
					logger.L.Warn("Failed to write batched message", zap.String("connID", c.id), zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.L.Debug("Failed to send ping", zap.String("connID", c.id), zap.Error(err))
				return
			}
		}
	}
}
