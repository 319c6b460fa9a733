package actor

import (
	"context"
	"strings"
	"testing"

	"learnlm/server/internal/director"
	"learnlm/server/internal/domain"
	"learnlm/server/internal/llm"
	"learnlm/server/internal/model"
)

func defaultBundle(t *testing.T) *domain.Bundle {
	t.Helper()
	b, err := domain.Default()
	if err != nil {
		t.Fatalf("default bundle: %v", err)
	}
	return b
}

func mustIntent(t *testing.T, b *domain.Bundle, id domain.IntentID) domain.Intent {
	t.Helper()
	in, ok := b.Catalog().Intent(id)
	if !ok {
		t.Fatalf("intent %s not in catalog", id)
	}
	return in
}

// TestComposeAnswerAlwaysCorrect 验证正确率 100 时每次都要求答对。
func TestComposeAnswerAlwaysCorrect(t *testing.T) {
	b := defaultBundle(t)
	c := NewComposer(b.Catalog(), b.Prompts, director.NewDice(1))
	answer := mustIntent(t, b, domain.IntentAnswer)

	for i := 0; i < 500; i++ {
		d := c.Compose(answer, 100, domain.MistakeWeights{"careless": 1})
		if d.Answer == nil || !d.Answer.Correct {
			t.Fatalf("draw %d: expected correct answer plan, got %+v", i, d.Answer)
		}
		if !strings.Contains(d.Block, strings.TrimSpace(b.Prompts.AnswerCorrect)) {
			t.Fatalf("draw %d: missing correct sub-directive:\n%s", i, d.Block)
		}
	}
}

// TestComposeAnswerAlwaysWrong 验证正确率 0 时每次都注入错误类型描述。
func TestComposeAnswerAlwaysWrong(t *testing.T) {
	b := defaultBundle(t)
	c := NewComposer(b.Catalog(), b.Prompts, director.NewDice(2))
	answer := mustIntent(t, b, domain.IntentAnswer)
	misconception, ok := b.Catalog().Mistake("misconception")
	if !ok {
		t.Fatalf("expected misconception mistake type")
	}

	for i := 0; i < 500; i++ {
		d := c.Compose(answer, 0, domain.MistakeWeights{"misconception": 3})
		if d.Answer == nil || d.Answer.Correct || d.Answer.MistakeID != "misconception" {
			t.Fatalf("draw %d: expected misconception plan, got %+v", i, d.Answer)
		}
		if !strings.Contains(d.Block, misconception.Description) {
			t.Fatalf("draw %d: mistake description not injected:\n%s", i, d.Block)
		}
		if strings.Contains(d.Block, "{mistake_description}") {
			t.Fatalf("draw %d: placeholder left in block", i)
		}
	}
}

// TestComposeNonAnswerHasNoCorrectness 验证非 answer 意图从不附加正误子指令。
func TestComposeNonAnswerHasNoCorrectness(t *testing.T) {
	b := defaultBundle(t)
	c := NewComposer(b.Catalog(), b.Prompts, director.NewDice(3))

	for _, in := range b.Catalog().Intents() {
		if in.ID == domain.IntentAnswer {
			continue
		}
		for _, prob := range []int{0, 50, 100} {
			d := c.Compose(in, prob, domain.MistakeWeights{"careless": 1})
			if d.Answer != nil {
				t.Fatalf("intent %s: unexpected answer plan", in.ID)
			}
			if d.Block != taskHeader+"\n"+strings.TrimSpace(in.Directive) {
				t.Fatalf("intent %s: unexpected block:\n%s", in.ID, d.Block)
			}
		}
	}
}

func TestSystemPromptPutsDirectiveFirst(t *testing.T) {
	d := Directive{Block: "[Current Task]\nask"}
	got := SystemPrompt(d, "  persona  ")
	if got != "[Current Task]\nask\n\n---\n\npersona" {
		t.Fatalf("unexpected system prompt: %q", got)
	}
	if SystemPrompt(d, "") != d.Block {
		t.Fatalf("expected bare block when base is empty")
	}
}

// TestStudentRespond 验证学生代理以自己的视角发送历史，并把意图写进消息。
func TestStudentRespond(t *testing.T) {
	b := defaultBundle(t)
	dice := director.NewDice(4)
	p := llm.NewScriptedProvider("student", llm.Reply{Response: llm.Response{Text: "  hi there \n", Reasoning: "thinking"}})
	chat := domain.IntentWeights{domain.IntentChat: 1}

	s := NewStudent(StudentOptions{
		Provider:   p,
		BasePrompt: "persona",
		Strategy:   director.NewWeightedStrategy(b.Catalog(), chat, dice.Intent),
		Composer:   NewComposer(b.Catalog(), b.Prompts, dice),
		Params:     Params{Temperature: 0.7, MaxTokens: 512},
	})
	msgs := []model.Message{
		{Role: model.RoleTeacher, Content: "hello", Reasoning: "secret"},
	}
	got, err := s.Respond(context.Background(), msgs)
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got.Role != model.RoleStudent || got.Content != "hi there" || got.IntentID != "chat" || got.Reasoning != "thinking" {
		t.Fatalf("unexpected message: %+v", got)
	}

	req := p.Requests()[0]
	if !strings.HasPrefix(req.SystemPrompt, taskHeader) || !strings.HasSuffix(req.SystemPrompt, "persona") {
		t.Fatalf("unexpected system prompt:\n%s", req.SystemPrompt)
	}
	if len(req.History) != 1 || req.History[0].Role != llm.RoleOther || req.History[0].Content != "hello" {
		t.Fatalf("unexpected history: %+v", req.History)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 512 {
		t.Fatalf("unexpected params: %+v", req)
	}
}

func TestTeacherRespondWrapsError(t *testing.T) {
	p := llm.NewScriptedProvider("teacher", llm.Fail(&llm.APIError{Provider: "x", StatusCode: 503}))
	teacher := NewTeacher(p, "tutor", Params{Temperature: 1, MaxTokens: 256})

	_, err := teacher.Respond(context.Background(), []model.Message{{Role: model.RoleTeacher, Content: "hi"}, {Role: model.RoleStudent, Content: "yo"}})
	if err == nil || !llm.IsTransient(err) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	req := p.Requests()[0]
	if req.History[0].Role != llm.RoleSelf || req.History[1].Role != llm.RoleOther {
		t.Fatalf("teacher history not projected from teacher view: %+v", req.History)
	}
}
