package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"learnlm/server/internal/model"
)

var ErrNotFound = errors.New("session not found")

// InMemoryStore 是一个基于内存的 Session 存储实现。
// 注意：重启即丢数据。
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]model.SessionState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]model.SessionState)}
}

// Get 根据 SessionID 获取 SessionState 的副本。
func (s *InMemoryStore) Get(_ context.Context, id string) (model.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[id]
	if !ok {
		return model.SessionState{}, ErrNotFound
	}
	return state.Clone(), nil
}

// Save 保存或更新 SessionState。
func (s *InMemoryStore) Save(_ context.Context, state model.SessionState) error {
	if state.SessionID == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[state.SessionID] = state.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[id]; !ok {
		return ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// List 按创建时间返回全部会话。
func (s *InMemoryStore) List(_ context.Context) ([]model.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SessionState, 0, len(s.data))
	for _, st := range s.data {
		out = append(out, st.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
