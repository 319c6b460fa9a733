package timeline

import (
	"context"
	"sync"

	"learnlm/server/internal/model"
)

// subscriberBuffer 是每个订阅者的缓冲大小；消费过慢的订阅者会丢事件，可依据 seq 从 List 补齐。
const subscriberBuffer = 64

// InMemoryStore 是一个基于内存的 Timeline 存储实现。
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]model.Event
	seq    map[string]int64
	subs   map[string]map[int]chan model.Event
	nextID int
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[string][]model.Event),
		seq:    make(map[string]int64),
		subs:   make(map[string]map[int]chan model.Event),
	}
}

// Append 追加事件到 timeline，并为该 session 分配单调递增 seq，随后推送给订阅者。
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq[sessionID]++
	seq := s.seq[sessionID]

	eventCopy := *evt
	eventCopy.Seq = seq
	eventCopy.SessionID = sessionID
	s.events[sessionID] = append(s.events[sessionID], eventCopy)

	for _, ch := range s.subs[sessionID] {
		select {
		case ch <- eventCopy:
		default:
		}
	}
	return seq, nil
}

// List 返回某个 session 的全部 timeline 事件（按 seq 顺序）。
// 返回切片副本，避免调用方修改内部数据。
func (s *InMemoryStore) List(_ context.Context, sessionID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[sessionID]
	out := make([]model.Event, len(events))
	copy(out, events)
	return out, nil
}

func (s *InMemoryStore) Subscribe(sessionID string) (<-chan model.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	ch := make(chan model.Event, subscriberBuffer)
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[int]chan model.Event)
	}
	s.subs[sessionID][id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Drop 可能已经关闭了通道。
		if _, ok := s.subs[sessionID][id]; !ok {
			return
		}
		delete(s.subs[sessionID], id)
		if len(s.subs[sessionID]) == 0 {
			delete(s.subs, sessionID)
		}
		close(ch)
	}
	return ch, cancel
}

// Drop 删除会话的全部事件并关闭其订阅。
func (s *InMemoryStore) Drop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, sessionID)
	delete(s.seq, sessionID)
	for id, ch := range s.subs[sessionID] {
		close(ch)
		delete(s.subs[sessionID], id)
	}
	delete(s.subs, sessionID)
}
