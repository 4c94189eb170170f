package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"skillswap-chat/internal/event"
	"skillswap-chat/internal/interfaces"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"go.uber.org/zap"
)

const defaultTypingTimeout = 5 * time.Second

var ErrNotInRoom = errors.New("connection has not joined this room")

type typingKey struct {
	connID string
	room   string
}

type typingState struct {
	userID string
	timer  *time.Timer
	gen    uint64
}

// Typing 转发输入状态，不落库
// 超过 timeout 没有刷新或连接断开时，服务端代发 userStoppedTyping
type Typing struct {
	hub     interfaces.ConnectionManager
	timeout time.Duration

	mu     sync.Mutex
	active map[typingKey]*typingState
	gen    uint64
}

func NewTyping(hub interfaces.ConnectionManager) *Typing {
	timeout := time.Duration(config.GlobalConfig.WebSocket.TypingTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTypingTimeout
		logger.L.Warn("Invalid typing timeout, using default", zap.Duration("default", timeout))
	}
	return &Typing{
		hub:     hub,
		timeout: timeout,
		active:  make(map[typingKey]*typingState),
	}
}

func (t *Typing) NotifyTyping(ctx context.Context, client interfaces.Client, room string) error {
	if room == "" {
		return fmt.Errorf("%w: room_key is required", ErrInvalidRequest)
	}
	if !t.hub.InRoom(client.ConnID(), room) {
		return ErrNotInRoom
	}

	frame, err := event.Encode(event.UserTyping, event.TypingPayload{
		RoomKey:  room,
		UserID:   client.GetUserID(),
		UserName: client.DisplayName(),
	})
	if err != nil {
		return err
	}

	key := typingKey{connID: client.ConnID(), room: room}
	t.mu.Lock()
	t.gen++
	gen := t.gen
	if st, ok := t.active[key]; ok {
		st.timer.Stop()
	}
	t.active[key] = &typingState{
		userID: client.GetUserID(),
		gen:    gen,
		timer:  time.AfterFunc(t.timeout, func() { t.expire(key, gen) }),
	}
	t.mu.Unlock()

	return t.hub.BroadcastToRoom(ctx, room, frame, client.ConnID())
}

func (t *Typing) NotifyStoppedTyping(ctx context.Context, client interfaces.Client, room string) error {
	if room == "" {
		return fmt.Errorf("%w: room_key is required", ErrInvalidRequest)
	}
	key := typingKey{connID: client.ConnID(), room: room}
	wasTyping := t.clear(key)
	if !wasTyping && !t.hub.InRoom(client.ConnID(), room) {
		return ErrNotInRoom
	}
	return t.broadcastStopped(ctx, room, client.GetUserID(), client.ConnID())
}

// ConnectionClosed 为断开的连接清理所有未结束的输入状态
func (t *Typing) ConnectionClosed(client interfaces.Client) {
	connID := client.ConnID()

	t.mu.Lock()
	var rooms []string
	for key, st := range t.active {
		if key.connID == connID {
			st.timer.Stop()
			delete(t.active, key)
			rooms = append(rooms, key.room)
		}
	}
	t.mu.Unlock()

	for _, room := range rooms {
		if err := t.broadcastStopped(context.Background(), room, client.GetUserID(), connID); err != nil {
			logger.L.Warn("Failed to broadcast stopped typing on disconnect", zap.String("room", room), zap.Error(err))
		}
	}
}

// IsTyping 用于测试和诊断
func (t *Typing) IsTyping(connID, room string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[typingKey{connID: connID, room: room}]
	return ok
}

func (t *Typing) clear(key typingKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.active[key]
	if ok {
		st.timer.Stop()
		delete(t.active, key)
	}
	return ok
}

func (t *Typing) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	st, ok := t.active[key]
	if !ok || st.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.active, key)
	t.mu.Unlock()

	logger.L.Debug("Typing indicator expired", zap.String("room", key.room), zap.String("userID", st.userID))
	if err := t.broadcastStopped(context.Background(), key.room, st.userID, key.connID); err != nil {
		logger.L.Warn("Failed to broadcast typing expiry", zap.String("room", key.room), zap.Error(err))
	}
}

func (t *Typing) broadcastStopped(ctx context.Context, room, userID, exceptConnID string) error {
	frame, err := event.Encode(event.UserStoppedTyping, event.TypingPayload{RoomKey: room, UserID: userID})
	if err != nil {
		return err
	}
	return t.hub.BroadcastToRoom(ctx, room, frame, exceptConnID)
}
