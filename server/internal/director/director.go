// Package director 决定学生在下一个回合要做什么（意图），支持加权随机与 LLM 情境分类两种策略。
package director

import (
	"context"
	"errors"
	"fmt"

	"learnlm/server/internal/domain"
	"learnlm/server/internal/llm"

	"go.uber.org/zap"
)

// Mode 是意图策略的选择开关。
type Mode string

const (
	ModeRandom Mode = "random"
	ModeLLM    Mode = "llm"
)

// ParseMode 解析配置中的策略名。
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeRandom, ModeLLM:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown intent mode %q", s)
	}
}

// Selection 是一次意图决策的结果。
type Selection struct {
	Intent domain.Intent
	// Situation 是分类器给出的情境（仅 llm 模式，可能为空）。
	Situation domain.SituationID
	// Fallback 表示结果来自聚合分布。
	Fallback bool
	// Failure 记录导致降级的分类失败；正常路径为 nil。
	Failure *ClassificationFailure
}

// Strategy 选择学生下一回合的意图。它总是返回目录中的合法意图，从不失败。
type Strategy interface {
	Select(ctx context.Context, history []llm.Message) Selection
}

// WeightedStrategy 按固定意图权重随机抽取。
type WeightedStrategy struct {
	catalog *domain.Catalog
	weights domain.IntentWeights
	roller  Roller
}

func NewWeightedStrategy(catalog *domain.Catalog, weights domain.IntentWeights, roller Roller) *WeightedStrategy {
	return &WeightedStrategy{catalog: catalog, weights: weights, roller: roller}
}

func (s *WeightedStrategy) Select(_ context.Context, _ []llm.Message) Selection {
	return Selection{Intent: SelectIntent(s.weights, s.catalog, s.roller)}
}

// Config 汇总构造策略所需的输入。
type Config struct {
	Mode             Mode
	Catalog          *domain.Catalog
	IntentWeights    domain.IntentWeights
	SituationWeights domain.SituationWeights
	// ClassifierTemplate 含 {situations} 占位符。
	ClassifierTemplate string
	Classifier         llm.Provider
	Roller             Roller
	Logger             *zap.Logger
}

var ErrNoClassifier = errors.New("llm intent mode requires a classifier provider")

// NewStrategy 按 Mode 构造策略。
func NewStrategy(cfg Config) (Strategy, error) {
	if cfg.Catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg.Roller == nil {
		cfg.Roller = NewRandomDice().Intent
	}
	switch cfg.Mode {
	case ModeRandom:
		return NewWeightedStrategy(cfg.Catalog, cfg.IntentWeights, cfg.Roller), nil
	case ModeLLM:
		if cfg.Classifier == nil {
			return nil, ErrNoClassifier
		}
		return NewClassifierStrategy(ClassifierOptions{
			Catalog:          cfg.Catalog,
			Provider:         cfg.Classifier,
			SituationWeights: cfg.SituationWeights,
			Template:         cfg.ClassifierTemplate,
			Roller:           cfg.Roller,
			Logger:           cfg.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown intent mode %q", cfg.Mode)
	}
}
