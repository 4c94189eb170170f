// Package presence keeps the process-local set of connected users.
package presence

import (
	"sort"
	"sync"
	"time"
)

// Entry 是一个在线用户的快照
type Entry struct {
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"user_name"`
	ConnectionID string    `json:"connection_id"` // 最近一次建立的连接
	Connections  int       `json:"connections"`
	ConnectedAt  time.Time `json:"connected_at"`
}

type session struct {
	entry Entry
	conns map[string]time.Time
}

// Registry 按用户记录连接集合，最后一个连接关闭后用户才下线
type Registry struct {
	mu    sync.RWMutex
	users map[string]*session
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*session),
		now:   time.Now,
	}
}

// Register 记录一个已认证的连接，返回该用户是否是新上线
func (r *Registry) Register(connID, userID, displayName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	s, ok := r.users[userID]
	if !ok {
		s = &session{
			entry: Entry{UserID: userID, ConnectedAt: now},
			conns: make(map[string]time.Time),
		}
		r.users[userID] = s
	}
	s.conns[connID] = now
	s.entry.DisplayName = displayName
	s.entry.ConnectionID = connID
	s.entry.Connections = len(s.conns)
	return !ok
}

// Unregister 移除一个连接，返回该用户是否已完全下线
func (r *Registry) Unregister(connID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := s.conns[connID]; !ok {
		return false
	}
	delete(s.conns, connID)
	if len(s.conns) == 0 {
		delete(r.users, userID)
		return true
	}

	// 回退到剩余连接里最新的一个
	var latest string
	var at time.Time
	for id, t := range s.conns {
		if latest == "" || t.After(at) || (t.Equal(at) && id > latest) {
			latest, at = id, t
		}
	}
	s.entry.ConnectionID = latest
	s.entry.Connections = len(s.conns)
	return false
}

// Snapshot 按用户ID排序
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.users))
	for _, s := range r.users {
		out = append(out, s.entry)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
