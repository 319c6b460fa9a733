package transcript

import (
	"testing"

	"learnlm/server/internal/llm"
	"learnlm/server/internal/model"

	"github.com/google/go-cmp/cmp"
)

func TestProjectFlipsRoles(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleTeacher, Content: "hi", Reasoning: "secret plan"},
		{Role: model.RoleStudent, Content: "yo", IntentID: "chat", Reasoning: "bored"},
		{Role: model.RoleTeacher, Content: "let's start"},
	}

	teacherView := Project(msgs, model.RoleTeacher)
	wantTeacher := []llm.Message{
		{Role: llm.RoleSelf, Content: "hi"},
		{Role: llm.RoleOther, Content: "yo"},
		{Role: llm.RoleSelf, Content: "let's start"},
	}
	if diff := cmp.Diff(wantTeacher, teacherView); diff != "" {
		t.Fatalf("teacher view mismatch (-want +got):\n%s", diff)
	}

	studentView := Project(msgs, model.RoleStudent)
	wantStudent := []llm.Message{
		{Role: llm.RoleOther, Content: "hi"},
		{Role: llm.RoleSelf, Content: "yo"},
		{Role: llm.RoleOther, Content: "let's start"},
	}
	if diff := cmp.Diff(wantStudent, studentView); diff != "" {
		t.Fatalf("student view mismatch (-want +got):\n%s", diff)
	}
}

func TestTail(t *testing.T) {
	h := make([]llm.Message, 15)
	for i := range h {
		h[i] = llm.Message{Content: string(rune('a' + i))}
	}
	got := Tail(h, 10)
	if len(got) != 10 || got[0].Content != "f" {
		t.Fatalf("expected last 10 starting at f, got %d starting at %q", len(got), got[0].Content)
	}
	if len(Tail(h[:3], 10)) != 3 {
		t.Fatalf("expected short history unchanged")
	}
	if Tail(h, 0) != nil {
		t.Fatalf("expected nil for n=0")
	}
}
