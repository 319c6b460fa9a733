package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"learnlm/server/internal/director"
	"learnlm/server/internal/domain"
	"learnlm/server/internal/llm"
)

// SessionConfig 是一次会话的全部输入，构造后在会话期间不可变。
type SessionConfig struct {
	Catalog *domain.Catalog
	Prompts domain.Prompts

	// StudentType 是画像名称，仅用于导出。
	StudentType       string
	TeacherPrompt     string
	StudentPrompt     string
	IntentMode        director.Mode
	IntentWeights     domain.IntentWeights
	SituationWeights  domain.SituationWeights
	MistakeWeights    domain.MistakeWeights
	CorrectAnswerProb int

	Temperature float64
	MaxTokens   int
	MaxSteps    int
	// SolvedMarker 出现在老师回复中时会话以 Solved 结束。
	SolvedMarker string
	// TurnDelay 是 Run 两个回合之间的间隔。
	TurnDelay time.Duration
}

// Providers 是老师、学生与分类器各自使用的模型。
type Providers struct {
	Teacher    llm.Provider
	Student    llm.Provider
	Classifier llm.Provider
}

// Validate 在会话创建时校验配置一致性，回合中途不会再出现未定义的 id。
func (c SessionConfig) Validate() error {
	if c.Catalog == nil {
		return errors.New("session config: catalog is required")
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("session config: max_steps must be >= 1, got %d", c.MaxSteps)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("session config: max_tokens must be >= 1, got %d", c.MaxTokens)
	}
	if c.CorrectAnswerProb < 0 || c.CorrectAnswerProb > 100 {
		return fmt.Errorf("session config: correct_answer_prob must be within [0,100], got %d", c.CorrectAnswerProb)
	}
	if c.SolvedMarker == "" {
		return errors.New("session config: solved marker is required")
	}
	if c.Prompts.Greeting == "" {
		return errors.New("session config: greeting is required")
	}
	if _, err := director.ParseMode(string(c.IntentMode)); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Catalog.ValidateIntentWeights("intent_weights", c.IntentWeights); err != nil {
		return err
	}
	if err := c.Catalog.ValidateMistakeWeights("mistake_weights", c.MistakeWeights); err != nil {
		return err
	}
	if err := c.Catalog.ValidateSituationWeights("situation_weights", c.SituationWeights); err != nil {
		return err
	}
	return nil
}

func (p Providers) validate(mode director.Mode) error {
	if p.Teacher == nil || p.Student == nil {
		return errors.New("teacher and student providers are required")
	}
	if mode == director.ModeLLM && p.Classifier == nil {
		return director.ErrNoClassifier
	}
	return nil
}
