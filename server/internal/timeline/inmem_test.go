package timeline

import (
	"context"
	"testing"
	"time"

	"learnlm/server/internal/model"
)

// TestInMemoryStoreAppendAssignsSeq 验证 Append 方法为事件分配正确的 seq。
// 场景：连续追加两个事件，验证 seq 递增，且不同 session 互不影响。
func TestInMemoryStoreAppendAssignsSeq(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	seq1, err := store.Append(ctx, "s1", &model.Event{Type: model.EventMessageAppended})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if seq1 != 1 {
		t.Fatalf("expected seq 1, got %d", seq1)
	}

	seq2, err := store.Append(ctx, "s1", &model.Event{Type: model.EventMessageAppended})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("expected seq 2, got %d", seq2)
	}

	other, err := store.Append(ctx, "s2", &model.Event{Type: model.EventReset})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if other != 1 {
		t.Fatalf("expected independent seq for s2, got %d", other)
	}
}

// TestInMemoryStoreListReturnsCopy 验证 List 方法返回事件切片的副本，防止外部修改影响内部状态。
func TestInMemoryStoreListReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "s1", &model.Event{Type: model.EventMessageAppended}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	events[0].Type = "mutated"

	eventsAgain, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list events again: %v", err)
	}
	if eventsAgain[0].Type != model.EventMessageAppended {
		t.Fatalf("expected internal data unchanged, got %q", eventsAgain[0].Type)
	}
	if eventsAgain[0].SessionID != "s1" || eventsAgain[0].Seq != 1 {
		t.Fatalf("expected session id and seq stamped, got %+v", eventsAgain[0])
	}
}

// TestInMemoryStoreSubscribe 验证订阅者只收到订阅之后的事件，cancel 后通道关闭。
func TestInMemoryStoreSubscribe(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "s1", &model.Event{Type: model.EventMessageAppended}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, cancel := store.Subscribe("s1")

	if _, err := store.Append(ctx, "s1", &model.Event{Type: model.EventTerminated}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	select {
	case evt := <-events:
		if evt.Seq != 2 || evt.Type != model.EventTerminated {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected event on subscription")
	}

	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

// TestInMemoryStoreDropClosesSubscribers 验证 Drop 清空事件并关闭订阅，之后 cancel 仍然安全。
func TestInMemoryStoreDropClosesSubscribers(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	if _, err := store.Append(ctx, "s1", &model.Event{Type: model.EventMessageAppended}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, cancel := store.Subscribe("s1")

	store.Drop("s1")
	if _, ok := <-events; ok {
		t.Fatalf("expected closed channel after drop")
	}
	cancel()

	listed, _ := store.List(ctx, "s1")
	if len(listed) != 0 {
		t.Fatalf("expected no events after drop, got %d", len(listed))
	}
}
