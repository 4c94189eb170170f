// Package client merges optimistic local sends with the authoritative
// broadcasts coming back from the relay.
package client

import (
	"sort"
	"strings"
	"sync"
	"time"

	"skillswap-chat/internal/model"

	"github.com/google/uuid"
)

type Status int

const (
	StatusProvisional Status = iota
	StatusConfirmed
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProvisional:
		return "provisional"
	case StatusConfirmed:
		return "confirmed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry 是时间线上的一条消息。临时消息没有服务端 ID，只有 TempID
type Entry struct {
	model.Message
	TempID string
	Status Status
	Error  string
}

// Timeline 维护当前会话或群的消息列表，按创建时间排序且不重复
type Timeline struct {
	mu      sync.Mutex
	self    string
	entries []Entry
	ids     map[string]struct{}
	now     func() time.Time
}

func NewTimeline(selfID string) *Timeline {
	return &Timeline{
		self: selfID,
		ids:  make(map[string]struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// 服务端保存去掉首尾空白的内容，两边按同样规则比较
func normalizeContent(content string) string {
	return strings.TrimSpace(content)
}

// AddProvisional 立即追加一条临时消息，TempID 同时作为 client_msg_id 发送
func (t *Timeline) AddProvisional(content string) Entry {
	content = normalizeContent(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	e := Entry{
		Message: model.Message{
			SenderID:  t.self,
			Content:   content,
			Kind:      model.KindText,
			CreatedAt: t.now(),
		},
		TempID: "tmp-" + uuid.NewString(),
		Status: StatusProvisional,
	}
	t.entries = append(t.entries, e)
	return e
}

// Apply 合并一条权威消息，返回 false 表示已经存在
//
// 匹配顺序：相同服务端 ID 忽略；client_msg_id 对应的临时消息原地替换；
// 自己发送的同内容临时消息原地替换；否则按创建时间插入。
func (t *Timeline) Apply(msg model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyLocked(msg)
}

func (t *Timeline) applyLocked(msg model.Message) bool {
	if msg.ID != "" {
		if _, seen := t.ids[msg.ID]; seen {
			return false
		}
	}

	if i := t.provisionalFor(msg); i >= 0 {
		tempID := t.entries[i].TempID
		t.entries[i] = Entry{Message: msg, TempID: tempID, Status: StatusConfirmed}
		t.remember(msg.ID)
		return true
	}

	t.insertLocked(Entry{Message: msg, Status: StatusConfirmed})
	t.remember(msg.ID)
	return true
}

func (t *Timeline) remember(id string) {
	if id != "" {
		t.ids[id] = struct{}{}
	}
}

func (t *Timeline) provisionalFor(msg model.Message) int {
	if msg.ClientMsgID != "" {
		for i, e := range t.entries {
			if e.Status != StatusConfirmed && e.TempID == msg.ClientMsgID {
				return i
			}
		}
	}
	// 没有关联标识时按内容匹配，同内容连发时按顺序依次替换
	if msg.SenderID != t.self {
		return -1
	}
	content := normalizeContent(msg.Content)
	for i, e := range t.entries {
		if e.Status == StatusProvisional && normalizeContent(e.Content) == content {
			return i
		}
	}
	return -1
}

func (t *Timeline) insertLocked(e Entry) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].CreatedAt.After(e.CreatedAt)
	})
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

// Fail 把临时消息标记为失败，保留在列表中供界面显示错误
func (t *Timeline) Fail(tempID, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.entries {
		if e.TempID == tempID && e.Status == StatusProvisional {
			t.entries[i].Status = StatusFailed
			t.entries[i].Error = reason
			return true
		}
	}
	return false
}

// Load 用 REST 拉取的历史填充时间线，已有的消息不会重复
func (t *Timeline) Load(history []model.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	added := 0
	for _, msg := range history {
		if t.applyLocked(msg) {
			added++
		}
	}
	return added
}

func (t *Timeline) Messages() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
