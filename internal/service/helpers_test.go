package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"skillswap-chat/internal/event"
	"skillswap-chat/internal/interfaces"
	"skillswap-chat/internal/model"
	"skillswap-chat/internal/repository"

	"github.com/stretchr/testify/require"
)

type sentFrame struct {
	room   string
	except string
	env    event.Envelope
}

// recordingHub 记录广播，不做真实投递
type recordingHub struct {
	mu         sync.Mutex
	conns      map[string]bool
	rooms      map[string]map[string]bool
	broadcasts []sentFrame
	direct     map[string][]event.Envelope
}

func newRecordingHub() *recordingHub {
	return &recordingHub{
		conns:  make(map[string]bool),
		rooms:  make(map[string]map[string]bool),
		direct: make(map[string][]event.Envelope),
	}
}

func (h *recordingHub) Register(c interfaces.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ConnID()] = true
}

func (h *recordingHub) Unregister(c interfaces.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c.ConnID())
	for _, members := range h.rooms {
		delete(members, c.ConnID())
	}
}

func (h *recordingHub) SetEventHandler(interfaces.ConnectionEventHandler) {}

func (h *recordingHub) Join(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][connID] = true
	return nil
}

func (h *recordingHub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms[room], connID)
}

func (h *recordingHub) InRoom(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[room][connID]
}

func (h *recordingHub) Rooms(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for room, members := range h.rooms {
		if members[connID] {
			out = append(out, room)
		}
	}
	return out
}

func (h *recordingHub) BroadcastToRoom(_ context.Context, room string, data []byte, except string) error {
	env, err := event.Decode(data)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasts = append(h.broadcasts, sentFrame{room: room, except: except, env: env})
	return nil
}

func (h *recordingHub) SendToConn(connID string, data []byte) bool {
	env, err := event.Decode(data)
	if err != nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.conns[connID] {
		return false
	}
	h.direct[connID] = append(h.direct[connID], env)
	return true
}

func (h *recordingHub) sent() []sentFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]sentFrame(nil), h.broadcasts...)
}

func (h *recordingHub) sentTo(connID string) []event.Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]event.Envelope(nil), h.direct[connID]...)
}

type fakeClient struct {
	id, userID, name string
}

func (c *fakeClient) ConnID() string            { return c.id }
func (c *fakeClient) GetUserID() string         { return c.userID }
func (c *fakeClient) DisplayName() string       { return c.name }
func (c *fakeClient) QueueBytes(_ []byte) error { return nil }
func (c *fakeClient) Close()                    {}

// 三个成员 u1,u2,u3 的群 g1，u4 不是成员
func newTestService(t *testing.T) (*ChatService, *recordingHub, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	for _, u := range []model.User{{ID: "u1", Name: "Alice"}, {ID: "u2", Name: "Bob"}, {ID: "u3", Name: "Carol"}, {ID: "u4", Name: "Dave"}} {
		store.AddUser(u)
	}
	for _, id := range []string{"u1", "u2", "u3"} {
		store.AddMember("g1", id)
	}
	hub := newRecordingHub()
	svc := NewChatService(hub, store, repository.MemoryUsers{MemoryStore: store}, store)
	return svc, hub, store
}

func connect(hub *recordingHub, id, userID, name string) *fakeClient {
	c := &fakeClient{id: id, userID: userID, name: name}
	hub.Register(c)
	return c
}

func frame(t *testing.T, name string, payload any) []byte {
	t.Helper()
	data, err := event.Encode(name, payload)
	require.NoError(t, err)
	return data
}

func decodeMessage(t *testing.T, env event.Envelope) model.Message {
	t.Helper()
	var msg model.Message
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	return msg
}

func decodeError(t *testing.T, env event.Envelope) event.ErrorPayload {
	t.Helper()
	require.Equal(t, event.MessageError, env.Event)
	var p event.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	return p
}
