package orchestrator

import (
	"time"

	"learnlm/server/internal/model"
)

// Reduce 只做“事实归约”，不触发外部调用。按 seq 顺序回放 timeline 可以重建同一份状态。
func Reduce(state *model.SessionState, evt model.Event, now time.Time) *model.SessionState {
	if state == nil {
		return nil
	}

	switch evt.Type {
	case model.EventMessageAppended:
		if evt.Message != nil {
			state.Messages = append(state.Messages, *evt.Message)
		}
		state.StepCount = evt.StepCount
		state.Termination = nil
	case model.EventTurnFailed, model.EventTerminated:
		if evt.Termination != nil {
			t := *evt.Termination
			state.Termination = &t
		}
	case model.EventReset:
		state.Messages = nil
		state.StepCount = 0
		state.Termination = nil
	}
	state.Phase = phaseOf(state)
	state.UpdatedAt = now
	return state
}

// phaseOf 返回下一个该行动的一方。
func phaseOf(state *model.SessionState) model.Phase {
	if state.Termination != nil {
		return model.PhaseTerminated
	}
	last, ok := state.Last()
	if !ok {
		return model.PhaseIdle
	}
	if last.Role == model.RoleTeacher {
		return model.PhaseStudentTurn
	}
	return model.PhaseTeacherTurn
}

// Replay 从 timeline 重建状态。
func Replay(sessionID string, events []model.Event) model.SessionState {
	state := model.SessionState{SessionID: sessionID, Phase: model.PhaseIdle}
	for _, evt := range events {
		Reduce(&state, evt, evt.ServerTS)
	}
	return state
}
