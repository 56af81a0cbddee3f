package session

import (
	"sort"

	"github.com/google/uuid"
)

// Session 保存一次流水线执行期间的共享状态。
// 状态仅由 Runner 在阶段提交时写入，执行期间由 Runner 独占，
// 不做内部加锁；并发的多次执行各自持有独立的 Session。
type Session struct {
	id    string
	state map[string]any
}

// New 创建一个空状态的 Session，并分配唯一执行标识。
func New() *Session {
	return &Session{
		id:    uuid.NewString(),
		state: make(map[string]any),
	}
}

// ID 返回本次执行的唯一标识。
func (s *Session) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

// Get 读取指定键的值。第二个返回值区分「键不存在」与「存了空值」。
func (s *Session) Get(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	value, ok := s.state[key]
	return value, ok
}

// Set 写入指定键的值。
func (s *Session) Set(key string, value any) {
	if s == nil {
		return
	}
	s.state[key] = value
}

// Has 判断指定键是否存在。
func (s *Session) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.state[key]
	return ok
}

// Remove 删除指定键。
func (s *Session) Remove(key string) {
	if s == nil {
		return
	}
	delete(s.state, key)
}

// Keys 返回当前状态中按字典序排列的全部键。
func (s *Session) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.state))
	for key := range s.state {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot 返回状态的深拷贝，阶段通过快照读取状态，
// 对快照的任何改动都不会影响已提交的状态。
func (s *Session) Snapshot() map[string]any {
	if s == nil {
		return nil
	}
	snapshot := make(map[string]any, len(s.state))
	for key, value := range s.state {
		snapshot[key] = cloneValue(value)
	}
	return snapshot
}

// cloneValue 对 JSON 形态的值做递归拷贝，标量原样返回。
func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(v))
		for key, item := range v {
			clone[key] = cloneValue(item)
		}
		return clone
	case []any:
		clone := make([]any, len(v))
		for idx, item := range v {
			clone[idx] = cloneValue(item)
		}
		return clone
	default:
		return value
	}
}
