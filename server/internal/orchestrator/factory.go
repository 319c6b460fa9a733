package orchestrator

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"learnlm/server/internal/config"
	"learnlm/server/internal/director"
	"learnlm/server/internal/domain"
	"learnlm/server/internal/llm"
	"learnlm/server/internal/session"
	"learnlm/server/internal/timeline"

	"go.uber.org/zap"
)

var (
	// ErrInvalidSession 包装所有会话创建阶段的配置错误。
	ErrInvalidSession = errors.New("invalid session config")
	ErrUnknownProfile = errors.New("unknown profile")
)

const solvedMarkerPlaceholder = "{solved_marker}"

// Overrides 是创建会话时对画像默认值的覆盖，零值字段不覆盖。
type Overrides struct {
	Profile           string                  `json:"profile,omitempty"`
	IntentMode        string                  `json:"intent_mode,omitempty"`
	IntentWeights     domain.IntentWeights    `json:"intent_weights,omitempty"`
	MistakeWeights    domain.MistakeWeights   `json:"mistake_weights,omitempty"`
	SituationWeights  domain.SituationWeights `json:"situation_weights,omitempty"`
	CorrectAnswerProb *int                    `json:"correct_answer_prob,omitempty"`
	Temperature       *float64                `json:"temperature,omitempty"`
	MaxTokens         *int                    `json:"max_tokens,omitempty"`
	MaxSteps          *int                    `json:"max_steps,omitempty"`
	TeacherPrompt     string                  `json:"teacher_prompt,omitempty"`
	StudentPrompt     string                  `json:"student_prompt,omitempty"`
	// Seed 固定随机源，便于复现一次模拟。
	Seed *uint64 `json:"seed,omitempty"`
}

// Factory 把全局配置、目录和已构造的模型组装成会话。
type Factory struct {
	cfg       *config.Config
	bundle    *domain.Bundle
	providers Providers
	prompts   domain.Prompts
	teacher   string
	student   string // 为空时使用画像自带的人设
	timeline  timeline.Store
	sessions  session.Store
	logger    *zap.Logger
}

// FactoryOptions 是 NewFactory 的参数。
type FactoryOptions struct {
	Config    *config.Config
	Bundle    *domain.Bundle
	Providers map[string]llm.Provider
	Timeline  timeline.Store
	Sessions  session.Store
	Logger    *zap.Logger
}

// NewFactory 解析提示词覆盖并按名称绑定模型。
func NewFactory(opts FactoryOptions) (*Factory, error) {
	cfg, b := opts.Config, opts.Bundle
	lookup := func(role, name string) (llm.Provider, error) {
		p, ok := opts.Providers[name]
		if !ok {
			return nil, fmt.Errorf("%s provider %q not constructed", role, name)
		}
		return p, nil
	}
	var (
		ps  Providers
		err error
	)
	if ps.Teacher, err = lookup("teacher", cfg.Teacher.Provider); err != nil {
		return nil, err
	}
	if ps.Student, err = lookup("student", cfg.Student.Provider); err != nil {
		return nil, err
	}
	if ps.Classifier, err = lookup("classifier", cfg.Classifier.Provider); err != nil {
		return nil, err
	}

	prompts := b.Prompts
	if cfg.Dialog.Greeting != "" {
		prompts.Greeting = cfg.Dialog.Greeting
	}
	if prompts.Classifier, err = cfg.Classifier.ResolvePrompt(prompts.Classifier); err != nil {
		return nil, err
	}
	teacher, err := cfg.Teacher.ResolvePrompt(prompts.Teacher)
	if err != nil {
		return nil, err
	}
	student, err := cfg.Student.ResolvePrompt("")
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeline == nil {
		opts.Timeline = timeline.NewInMemoryStore()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}
	return &Factory{
		cfg:       cfg,
		bundle:    b,
		providers: ps,
		prompts:   prompts,
		teacher:   teacher,
		student:   student,
		timeline:  opts.Timeline,
		sessions:  opts.Sessions,
		logger:    logger,
	}, nil
}

func (f *Factory) Bundle() *domain.Bundle { return f.bundle }

func (f *Factory) Timeline() timeline.Store { return f.timeline }

func (f *Factory) Sessions() session.Store { return f.sessions }

// SessionConfig 以画像为基础叠加覆盖项，并校验结果。
func (f *Factory) SessionConfig(ov Overrides) (SessionConfig, error) {
	profileID := ov.Profile
	if profileID == "" {
		profileID = f.cfg.Dialog.Profile
	}
	p, ok := f.bundle.Profile(profileID)
	if !ok {
		return SessionConfig{}, fmt.Errorf("%w: %w %q", ErrInvalidSession, ErrUnknownProfile, profileID)
	}

	sc := SessionConfig{
		Catalog:           f.bundle.Catalog(),
		Prompts:           f.prompts,
		StudentType:       p.Name,
		TeacherPrompt:     f.teacher,
		StudentPrompt:     p.StudentPrompt,
		IntentMode:        director.Mode(f.cfg.Dialog.IntentMode),
		IntentWeights:     p.IntentWeights,
		SituationWeights:  p.SituationWeights,
		MistakeWeights:    p.MistakeWeights,
		CorrectAnswerProb: p.CorrectAnswerProb,
		Temperature:       f.cfg.Dialog.Temperature,
		MaxTokens:         f.cfg.Dialog.MaxTokens,
		MaxSteps:          f.cfg.Dialog.MaxSteps,
		SolvedMarker:      f.cfg.Dialog.SolvedMarker,
		TurnDelay:         f.cfg.Dialog.TurnDelay,
	}
	if f.student != "" {
		sc.StudentPrompt = f.student
	}
	if ov.IntentMode != "" {
		sc.IntentMode = director.Mode(ov.IntentMode)
	}
	if ov.IntentWeights != nil {
		sc.IntentWeights = maps.Clone(ov.IntentWeights)
		// 自定义权重恰好等于某个画像时沿用该画像名。
		if match, ok := f.bundle.ProfileFor(ov.IntentWeights); ok {
			sc.StudentType = match.Name
		} else {
			sc.StudentType = "Custom"
		}
	}
	if ov.MistakeWeights != nil {
		sc.MistakeWeights = maps.Clone(ov.MistakeWeights)
	}
	if ov.SituationWeights != nil {
		sc.SituationWeights = ov.SituationWeights
	}
	if ov.CorrectAnswerProb != nil {
		sc.CorrectAnswerProb = *ov.CorrectAnswerProb
	}
	if ov.Temperature != nil {
		sc.Temperature = *ov.Temperature
	}
	if ov.MaxTokens != nil {
		sc.MaxTokens = *ov.MaxTokens
	}
	if ov.MaxSteps != nil {
		sc.MaxSteps = *ov.MaxSteps
	}
	if ov.TeacherPrompt != "" {
		sc.TeacherPrompt = ov.TeacherPrompt
	}
	if ov.StudentPrompt != "" {
		sc.StudentPrompt = ov.StudentPrompt
	}
	// 老师只有知道标记才能发出它。
	sc.TeacherPrompt = strings.ReplaceAll(sc.TeacherPrompt, solvedMarkerPlaceholder, sc.SolvedMarker)

	if sc.Temperature < config.MinTemperature || sc.Temperature > config.MaxTemperature {
		return SessionConfig{}, fmt.Errorf("%w: temperature must be within [%.1f, %.1f], got %.2f",
			ErrInvalidSession, config.MinTemperature, config.MaxTemperature, sc.Temperature)
	}
	if sc.MaxTokens < config.MinMaxTokens || sc.MaxTokens > config.MaxMaxTokens {
		return SessionConfig{}, fmt.Errorf("%w: max_tokens must be within [%d, %d], got %d",
			ErrInvalidSession, config.MinMaxTokens, config.MaxMaxTokens, sc.MaxTokens)
	}
	if err := sc.Validate(); err != nil {
		return SessionConfig{}, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	return sc, nil
}

// Build 创建一个新的会话编排器。
func (f *Factory) Build(id string, ov Overrides) (*Orchestrator, error) {
	sc, err := f.SessionConfig(ov)
	if err != nil {
		return nil, err
	}
	dice := director.NewRandomDice()
	if ov.Seed != nil {
		dice = director.NewDice(*ov.Seed)
	}
	o, err := New(Options{
		SessionID: id,
		Config:    sc,
		Providers: f.providers,
		Dice:      dice,
		Timeline:  f.timeline,
		Sessions:  f.sessions,
		Logger:    f.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	f.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("student_type", sc.StudentType),
		zap.String("intent_mode", string(sc.IntentMode)))
	return o, nil
}
