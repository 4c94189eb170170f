package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"skillswap-chat/internal/event"
	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/metrics"
	"skillswap-chat/internal/presence"
	"skillswap-chat/pkg/config"
	"skillswap-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUnknownConnection = errors.New("connection not registered")
	ErrEmptyRoom         = errors.New("room key is empty")
	ErrSendBufferFull    = errors.New("client send buffer full")
	ErrClientClosed      = errors.New("client closed")
)

// delivery 是广播队列中的一项，room 为空且 presence 为 true 时发给所有连接
type delivery struct {
	room     string
	data     []byte
	except   string
	remote   bool
	presence bool
}

// Hub 维护本进程的连接、房间和在线列表
// 所有房间广播都经过同一个 FIFO 队列，由 Run 按入队顺序投递
type Hub struct {
	mu      sync.RWMutex
	clients map[string]interfaces.Client
	rooms   map[string]map[string]struct{} // room -> connIDs
	joined  map[string]map[string]struct{} // connID -> rooms

	broadcast       chan delivery
	presencePending atomic.Bool

	presence     *presence.Registry
	bus          Bus
	instanceID   string
	eventHandler interfaces.ConnectionEventHandler

	retryCount    int
	retryInterval time.Duration
}

// instanceID 为空时自动生成，跨进程总线用它过滤自己发布的消息
func NewHub(registry *presence.Registry, bus Bus, instanceID string) *Hub {
	wsConfig := config.GlobalConfig.WebSocket

	retryCount := wsConfig.MessageRetryCount
	if retryCount <= 0 {
		retryCount = 3
		logger.L.Warn("Invalid retryCount, using default", zap.Int("default", retryCount))
	}

	retryInterval := time.Duration(wsConfig.MessageRetryIntervalMs) * time.Millisecond
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
		logger.L.Warn("Invalid retryInterval, using default", zap.Duration("default", retryInterval))
	}

	broadcastBufferSize := wsConfig.BroadcastBufferSize
	if broadcastBufferSize <= 0 {
		broadcastBufferSize = 256
		logger.L.Warn("Invalid BroadcastBufferSize, using default", zap.Int("default", broadcastBufferSize))
	}

	if registry == nil {
		registry = presence.NewRegistry()
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	return &Hub{
		clients:       make(map[string]interfaces.Client),
		rooms:         make(map[string]map[string]struct{}),
		joined:        make(map[string]map[string]struct{}),
		broadcast:     make(chan delivery, broadcastBufferSize),
		presence:      registry,
		bus:           bus,
		instanceID:    instanceID,
		retryCount:    retryCount,
		retryInterval: retryInterval,
	}
}

func (h *Hub) InstanceID() string {
	return h.instanceID
}

func (h *Hub) Presence() *presence.Registry {
	return h.presence
}

// Close 释放跨进程总线，Run 应已随 ctx 结束
func (h *Hub) Close() error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Close()
}

func (h *Hub) SetEventHandler(handler interfaces.ConnectionEventHandler) {
	h.eventHandler = handler
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register 在Hub中注册客户端并广播新的在线列表
func (h *Hub) Register(client interfaces.Client) {
	connID := client.ConnID()

	h.mu.Lock()
	if _, exists := h.clients[connID]; exists {
		h.mu.Unlock()
		return
	}
	h.clients[connID] = client
	h.joined[connID] = make(map[string]struct{})
	h.mu.Unlock()

	h.presence.Register(connID, client.GetUserID(), client.DisplayName())
	metrics.ActiveConnections.Inc()
	metrics.OnlineUsers.Set(float64(h.presence.Len()))
	logger.L.Info("Client registered",
		zap.String("userID", client.GetUserID()),
		zap.String("connID", connID))

	h.schedulePresence()

	if h.eventHandler != nil {
		go h.eventHandler.HandleClientConnected(client)
	}
}

// Unregister 注销客户端，离开它加入的所有房间，可重复调用
func (h *Hub) Unregister(client interfaces.Client) {
	connID := client.ConnID()

	h.mu.Lock()
	registered, ok := h.clients[connID]
	if !ok || registered != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, connID)
	rooms := make([]string, 0, len(h.joined[connID]))
	for room := range h.joined[connID] {
		rooms = append(rooms, room)
		h.removeFromRoomLocked(connID, room)
	}
	delete(h.joined, connID)
	h.mu.Unlock()

	sort.Strings(rooms)
	client.Close()

	h.presence.Unregister(connID, client.GetUserID())
	metrics.ActiveConnections.Dec()
	metrics.OnlineUsers.Set(float64(h.presence.Len()))
	logger.L.Info("Client unregistered",
		zap.String("userID", client.GetUserID()),
		zap.String("connID", connID),
		zap.Strings("rooms", rooms))

	h.schedulePresence()

	if h.eventHandler != nil {
		go h.eventHandler.HandleClientDisconnected(client, rooms)
	}
}

func (h *Hub) removeFromRoomLocked(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) Join(connID, room string) error {
	if room == "" {
		return ErrEmptyRoom
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	rooms, ok := h.joined[connID]
	if !ok {
		return ErrUnknownConnection
	}
	rooms[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[room] = members
	}
	members[connID] = struct{}{}
	return nil
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rooms, ok := h.joined[connID]; ok {
		delete(rooms, room)
	}
	h.removeFromRoomLocked(connID, room)
}

func (h *Hub) InRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

func (h *Hub) Rooms(connID string) []string {
	h.mu.RLock()
	rooms := make([]string, 0, len(h.joined[connID]))
	for room := range h.joined[connID] {
		rooms = append(rooms, room)
	}
	h.mu.RUnlock()
	sort.Strings(rooms)
	return rooms
}

// BroadcastToRoom 入队一帧，入队顺序即投递顺序
func (h *Hub) BroadcastToRoom(ctx context.Context, room string, data []byte, exceptConnID string) error {
	if room == "" {
		return ErrEmptyRoom
	}
	d := delivery{room: room, data: data, except: exceptConnID}
	select {
	case h.broadcast <- d:
		logger.L.Debug("Frame queued for broadcast", zap.String("room", room))
		return nil
	case <-ctx.Done():
		logger.L.Warn("Broadcast not queued before context ended", zap.String("room", room), zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// SendToConn 直接发给单个连接，不经过队列，连接不存在时返回 false
func (h *Hub) SendToConn(connID string, data []byte) bool {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := client.QueueBytes(data); err != nil {
		logger.L.Warn("Failed to queue frame to connection", zap.String("connID", connID), zap.Error(err))
		return false
	}
	return true
}

// 在线列表在投递时才生成快照，多次变化只需要一次投递
func (h *Hub) schedulePresence() {
	if !h.presencePending.CompareAndSwap(false, true) {
		return
	}
	select {
	case h.broadcast <- delivery{presence: true}:
	default:
		// 队列已满，可能正处于 Run 内部，避免自锁
		go func() { h.broadcast <- delivery{presence: true} }()
	}
}

func (h *Hub) presenceFrame() ([]byte, error) {
	snapshot := h.presence.Snapshot()
	users := make([]event.OnlineUser, 0, len(snapshot))
	for _, e := range snapshot {
		users = append(users, event.OnlineUser{
			UserID:       e.UserID,
			UserName:     e.DisplayName,
			ConnectionID: e.ConnectionID,
			Connections:  e.Connections,
		})
	}
	return event.Encode(event.UpdateOnlineUsers, users)
}

func (h *Hub) targets(d delivery) []interfaces.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if d.presence {
		out := make([]interfaces.Client, 0, len(h.clients))
		for _, c := range h.clients {
			out = append(out, c)
		}
		return out
	}
	members := h.rooms[d.room]
	out := make([]interfaces.Client, 0, len(members))
	for connID := range members {
		if connID == d.except {
			continue
		}
		if c, ok := h.clients[connID]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) trySendMessage(client interfaces.Client, data []byte) {
	err := client.QueueBytes(data)
	if err == nil || errors.Is(err, ErrClientClosed) {
		return
	}
	for i := 0; i < h.retryCount; i++ {
		logger.L.Warn("Client send buffer full, retry attempt",
			zap.String("connID", client.ConnID()),
			zap.Int("attempt", i+1))
		time.Sleep(h.retryInterval)
		if err = client.QueueBytes(data); err == nil || errors.Is(err, ErrClientClosed) {
			return
		}
	}
	// 所有重试失败 关闭连接
	logger.L.Error("Client send buffer still full after retries, closing connection",
		zap.String("userID", client.GetUserID()),
		zap.String("connID", client.ConnID()),
		zap.Int("attempts", h.retryCount))
	h.Unregister(client)
}

func (h *Hub) dispatch(ctx context.Context, d delivery) {
	source := "room"
	if d.presence {
		h.presencePending.Store(false)
		data, err := h.presenceFrame()
		if err != nil {
			logger.L.Error("Failed to encode presence snapshot", zap.Error(err))
			return
		}
		d.data = data
		source = "presence"
	} else if d.remote {
		source = "remote"
	}

	for _, client := range h.targets(d) {
		h.trySendMessage(client, d.data)
	}
	metrics.Broadcasts.WithLabelValues(source).Inc()

	if h.bus != nil && !d.presence && !d.remote {
		env := BusEnvelope{Origin: h.instanceID, Room: d.room, Except: d.except, Payload: d.data}
		if err := h.bus.Publish(ctx, env); err != nil {
			metrics.BusErrors.WithLabelValues("publish").Inc()
			logger.L.Error("Failed to publish frame to bus", zap.String("room", d.room), zap.Error(err))
		}
	}
}

// Run 按入队顺序投递广播，直到 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	if h.bus != nil {
		go h.consumeBus(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			logger.L.Info("Hub stopped")
			return
		case d := <-h.broadcast:
			h.dispatch(ctx, d)
		}
	}
}

// 其他实例发布的房间广播只投递给本地连接
func (h *Hub) consumeBus(ctx context.Context) {
	err := h.bus.Consume(ctx, func(env BusEnvelope) {
		if env.Origin == h.instanceID || env.Room == "" {
			return
		}
		select {
		case h.broadcast <- delivery{room: env.Room, data: env.Payload, except: env.Except, remote: true}:
		case <-ctx.Done():
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.BusErrors.WithLabelValues("consume").Inc()
		logger.L.Error("Bus consumer stopped", zap.Error(err))
	}
}
