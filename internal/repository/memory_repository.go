package repository

import (
	"context"
	"sync"
	"time"

	"skillswap-chat/internal/model"
)

// MemoryStore 用于本地开发和测试，进程重启后数据丢失
type MemoryStore struct {
	mu       sync.RWMutex
	messages []*model.Message
	byID     map[string]*model.Message
	users    map[string]*model.User
	members  map[string]map[string]struct{} // groupID -> userIDs
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*model.Message),
		users:   make(map[string]*model.User),
		members: make(map[string]map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *MemoryStore) AddMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.members[groupID]
	if !ok {
		set = make(map[string]struct{})
		s.members[groupID] = set
	}
	set[userID] = struct{}{}
}

func (s *MemoryStore) Insert(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	msg.ID = model.NewID()
	if msg.Kind == "" {
		msg.Kind = model.KindText
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now
	stored := *msg
	stored.SenderName = ""
	stored.ClientMsgID = ""
	s.messages = append(s.messages, &stored)
	s.byID[stored.ID] = &stored
	return nil
}

func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.byID[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) FindByFilePath(_ context.Context, filePath string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.FilePath == filePath {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) filter(match func(*model.Message) bool, limit, offset int) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Message{}
	skipped := 0
	for _, m := range s.messages {
		if !match(m) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (s *MemoryStore) FindByConversation(_ context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	return s.filter(func(m *model.Message) bool { return m.ConversationID == conversationID }, limit, offset), nil
}

func (s *MemoryStore) FindByGroup(_ context.Context, groupID string, limit, offset int) ([]model.Message, error) {
	return s.filter(func(m *model.Message) bool { return m.GroupID == groupID }, limit, offset), nil
}

func (s *MemoryStore) MarkRead(_ context.Context, conversationID, receiverID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.ReceiverID == receiverID && !m.IsRead {
			m.IsRead = true
			m.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]model.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// 插入顺序即创建顺序，倒序遍历得到最新的消息在前
	var mine []model.Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		if m.ConversationID != "" && (m.SenderID == userID || m.ReceiverID == userID) {
			mine = append(mine, *m)
		}
	}
	return summarize(mine, userID), nil
}

func (s *MemoryStore) FindUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) IsMember(_ context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[groupID][userID]
	return ok, nil
}

// MemoryUsers 让 MemoryStore 满足 UserDirectory 接口
type MemoryUsers struct{ *MemoryStore }

func (u MemoryUsers) FindByID(ctx context.Context, id string) (*model.User, error) {
	return u.FindUser(ctx, id)
}
