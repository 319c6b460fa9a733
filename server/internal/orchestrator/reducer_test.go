package orchestrator

import (
	"testing"
	"time"

	"learnlm/server/internal/model"
)

// TestReducePhases 验证 Reduce 按最后一条消息推导下一位发言者，终止态优先。
func TestReducePhases(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	state := &model.SessionState{SessionID: "s1"}

	Reduce(state, model.Event{Type: model.EventMessageAppended, Message: &model.Message{Role: model.RoleTeacher, Content: "hi"}}, now)
	if state.Phase != model.PhaseStudentTurn {
		t.Fatalf("expected student turn, got %s", state.Phase)
	}

	Reduce(state, model.Event{Type: model.EventMessageAppended, Message: &model.Message{Role: model.RoleStudent, Content: "yo"}}, now)
	if state.Phase != model.PhaseTeacherTurn {
		t.Fatalf("expected teacher turn, got %s", state.Phase)
	}

	Reduce(state, model.Event{Type: model.EventTurnFailed, Termination: &model.Termination{Reason: model.ReasonError}}, now)
	if state.Phase != model.PhaseTerminated || len(state.Messages) != 2 {
		t.Fatalf("expected terminated with transcript intact, got %s / %d", state.Phase, len(state.Messages))
	}

	Reduce(state, model.Event{Type: model.EventMessageAppended, Message: &model.Message{Role: model.RoleTeacher, Content: "ok"}, StepCount: 1}, now)
	if state.Termination != nil || state.StepCount != 1 {
		t.Fatalf("expected error termination cleared by next message, got %+v", state)
	}

	Reduce(state, model.Event{Type: model.EventReset}, now)
	if len(state.Messages) != 0 || state.StepCount != 0 || state.Phase != model.PhaseIdle {
		t.Fatalf("expected reset state, got %+v", state)
	}
	if !state.UpdatedAt.Equal(now) {
		t.Fatalf("expected UpdatedAt stamped")
	}
}

func TestReduceNilState(t *testing.T) {
	if Reduce(nil, model.Event{Type: model.EventReset}, time.Now()) != nil {
		t.Fatalf("expected nil")
	}
}
