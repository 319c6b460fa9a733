package director

import (
	"context"
	"fmt"
	"strings"

	"learnlm/server/internal/domain"
	"learnlm/server/internal/llm"
	"learnlm/server/internal/transcript"

	"go.uber.org/zap"
)

const (
	// classifierWindow 分类只看最近的上下文。
	classifierWindow      = 10
	classifierTemperature = 0.3
	classifierMaxTokens   = 50
)

// FailureKind 是分类失败的原因。
type FailureKind string

const (
	FailureProvider         FailureKind = "provider_error"
	FailureUnknown          FailureKind = "unknown_situation"
	FailureNoPositiveIntent FailureKind = "no_positive_intent"
)

// ClassificationFailure 描述一次可预期的分类失败。它只在策略内部被兜底分支消费，从不上抛为回合错误。
type ClassificationFailure struct {
	Kind      FailureKind
	Raw       string
	Situation domain.SituationID
	Err       error
}

func (f *ClassificationFailure) Error() string {
	switch f.Kind {
	case FailureProvider:
		return fmt.Sprintf("classifier call failed: %v", f.Err)
	case FailureNoPositiveIntent:
		return fmt.Sprintf("situation %q has no positive-weight intents", f.Situation)
	default:
		return fmt.Sprintf("classifier returned unknown situation %q", f.Raw)
	}
}

func (f *ClassificationFailure) Unwrap() error { return f.Err }

// ClassifierOptions 是 ClassifierStrategy 的构造参数。
type ClassifierOptions struct {
	Catalog          *domain.Catalog
	Provider         llm.Provider
	SituationWeights domain.SituationWeights
	Template         string
	Roller           Roller
	Logger           *zap.Logger
}

// ClassifierStrategy 先让辅助模型判定“老师刚才在做什么”（情境），再按该情境的意图分布抽取。
// 分类失败时退回到所有情境权重之和的聚合分布。
type ClassifierStrategy struct {
	catalog   *domain.Catalog
	provider  llm.Provider
	weights   domain.SituationWeights
	aggregate domain.IntentWeights
	prompt    string
	roller    Roller
	logger    *zap.Logger
}

func NewClassifierStrategy(opts ClassifierOptions) *ClassifierStrategy {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassifierStrategy{
		catalog:   opts.Catalog,
		provider:  opts.Provider,
		weights:   opts.SituationWeights,
		aggregate: Aggregate(opts.SituationWeights, opts.Catalog),
		prompt:    BuildClassifierPrompt(opts.Template, opts.Catalog.Situations()),
		roller:    opts.Roller,
		logger:    logger,
	}
}

// Prompt 返回发送给分类器的系统提示词。
func (s *ClassifierStrategy) Prompt() string { return s.prompt }

func (s *ClassifierStrategy) Select(ctx context.Context, history []llm.Message) Selection {
	sel, failure := s.classify(ctx, history)
	if failure == nil {
		s.logger.Info("situation classified",
			zap.String("situation", string(sel.Situation)),
			zap.String("intent", string(sel.Intent.ID)))
		return sel
	}

	s.logger.Warn("intent classification failed, falling back to aggregate",
		zap.String("kind", string(failure.Kind)),
		zap.String("raw", failure.Raw),
		zap.Error(failure))
	return Selection{
		Intent:    SelectIntent(s.aggregate, s.catalog, s.roller),
		Situation: failure.Situation,
		Fallback:  true,
		Failure:   failure,
	}
}

// classify 是正常路径：成功时返回选择，可预期的失败以 *ClassificationFailure 返回。
func (s *ClassifierStrategy) classify(ctx context.Context, history []llm.Message) (Selection, *ClassificationFailure) {
	resp, err := s.provider.Generate(ctx, llm.Request{
		SystemPrompt: s.prompt,
		History:      transcript.Tail(history, classifierWindow),
		Temperature:  classifierTemperature,
		MaxTokens:    classifierMaxTokens,
		// 50 个 token 装不下思考预算
		DisableThinking: true,
	})
	if err != nil {
		return Selection{}, &ClassificationFailure{Kind: FailureProvider, Err: err}
	}

	sid := NormalizeSituation(resp.Text)
	weights, ok := s.weights[sid]
	if !ok {
		return Selection{}, &ClassificationFailure{Kind: FailureUnknown, Raw: resp.Text}
	}
	valid := positiveWeights(weights, s.catalog)
	if len(valid) == 0 {
		return Selection{}, &ClassificationFailure{Kind: FailureNoPositiveIntent, Raw: resp.Text, Situation: sid}
	}
	return Selection{Intent: SelectIntent(valid, s.catalog, s.roller), Situation: sid}, nil
}

// NormalizeSituation 去掉首尾空白与标点并转小写。
func NormalizeSituation(raw string) domain.SituationID {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, ".,!?;:\"'` \t\r\n")
	return domain.SituationID(s)
}

// BuildClassifierPrompt 把情境列表填进 {situations} 占位符；模板中没有占位符时追加在末尾。
func BuildClassifierPrompt(template string, situations []domain.Situation) string {
	var list strings.Builder
	for i, s := range situations {
		if i > 0 {
			list.WriteString("\n")
		}
		list.WriteString("- ")
		list.WriteString(string(s.ID))
		if s.Description != "" {
			list.WriteString(": ")
			list.WriteString(s.Description)
		}
	}
	if strings.Contains(template, "{situations}") {
		return strings.ReplaceAll(template, "{situations}", list.String())
	}
	if template == "" {
		return "Reply with exactly one situation id:\n" + list.String()
	}
	return template + "\n\n" + list.String()
}
