package actor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"learnlm/server/internal/director"
	"learnlm/server/internal/domain"
	"learnlm/server/internal/llm"
	"learnlm/server/internal/model"
	"learnlm/server/internal/transcript"

	"go.uber.org/zap"
)

// Params 是生成参数，老师与学生共用。
type Params struct {
	Temperature float64
	MaxTokens   int
}

// Agent 根据当前转写生成下一条消息。
type Agent interface {
	Role() model.Role
	Respond(ctx context.Context, messages []model.Message) (model.Message, error)
}

// Teacher 是老师代理：固定系统提示词，以老师视角调用模型。
type Teacher struct {
	provider llm.Provider
	prompt   string
	params   Params
	now      func() time.Time
}

func NewTeacher(provider llm.Provider, prompt string, params Params) *Teacher {
	return &Teacher{provider: provider, prompt: prompt, params: params, now: time.Now}
}

func (t *Teacher) Role() model.Role { return model.RoleTeacher }

func (t *Teacher) Respond(ctx context.Context, messages []model.Message) (model.Message, error) {
	resp, err := t.provider.Generate(ctx, llm.Request{
		SystemPrompt: t.prompt,
		History:      transcript.Project(messages, model.RoleTeacher),
		Temperature:  t.params.Temperature,
		MaxTokens:    t.params.MaxTokens,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("teacher generate via %s: %w", t.provider.Name(), err)
	}
	return model.Message{
		Role:      model.RoleTeacher,
		Content:   strings.TrimSpace(resp.Text),
		Reasoning: resp.Reasoning,
		TS:        t.now(),
	}, nil
}

// StudentOptions 是 Student 的构造参数。
type StudentOptions struct {
	Provider          llm.Provider
	BasePrompt        string
	Strategy          director.Strategy
	Composer          *Composer
	CorrectAnswerProb int
	MistakeWeights    domain.MistakeWeights
	Params            Params
	Logger            *zap.Logger
}

// Student 是学生代理：每个回合先选意图，再把意图指令放在人设之前调用模型。
type Student struct {
	opts   StudentOptions
	logger *zap.Logger
	now    func() time.Time
}

func NewStudent(opts StudentOptions) *Student {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Student{opts: opts, logger: logger, now: time.Now}
}

func (s *Student) Role() model.Role { return model.RoleStudent }

func (s *Student) Respond(ctx context.Context, messages []model.Message) (model.Message, error) {
	history := transcript.Project(messages, model.RoleStudent)

	sel := s.opts.Strategy.Select(ctx, history)
	d := s.opts.Composer.Compose(sel.Intent, s.opts.CorrectAnswerProb, s.opts.MistakeWeights)

	fields := []zap.Field{zap.String("intent", string(sel.Intent.ID)), zap.Bool("fallback", sel.Fallback)}
	if d.Answer != nil {
		fields = append(fields, zap.Bool("correct", d.Answer.Correct), zap.String("mistake", d.Answer.MistakeID))
	}
	s.logger.Debug("student directive composed", fields...)

	resp, err := s.opts.Provider.Generate(ctx, llm.Request{
		SystemPrompt: SystemPrompt(d, s.opts.BasePrompt),
		History:      history,
		Temperature:  s.opts.Params.Temperature,
		MaxTokens:    s.opts.Params.MaxTokens,
	})
	if err != nil {
		return model.Message{}, fmt.Errorf("student generate via %s: %w", s.opts.Provider.Name(), err)
	}
	return model.Message{
		Role:      model.RoleStudent,
		Content:   strings.TrimSpace(resp.Text),
		IntentID:  string(sel.Intent.ID),
		Reasoning: resp.Reasoning,
		Situation: string(sel.Situation),
		Answer:    d.Answer,
		TS:        s.now(),
	}, nil
}
