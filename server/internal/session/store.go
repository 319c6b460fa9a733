package session

import (
	"context"

	"learnlm/server/internal/model"
)

// Store 保存会话状态快照，供列表与重连恢复使用。权威状态仍由编排器持有。
type Store interface {
	Get(ctx context.Context, id string) (model.SessionState, error)
	Save(ctx context.Context, s model.SessionState) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.SessionState, error)
}
