package timeline

import (
	"context"

	"learnlm/server/internal/model"
)

// Store 是会话事件的追加日志。编排器先写日志，再归约状态。
type Store interface {
	Append(ctx context.Context, sessionID string, evt *model.Event) (int64, error)
	List(ctx context.Context, sessionID string) ([]model.Event, error)
	// Subscribe 返回之后追加的事件流，调用 cancel 结束订阅并关闭通道。
	Subscribe(sessionID string) (events <-chan model.Event, cancel func())
}
