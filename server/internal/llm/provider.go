package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"learnlm/server/internal/config"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Role 是以调用方为视角的消息角色：self 是被调用的代理自己，other 是对话另一方。
type Role string

const (
	RoleSelf  Role = "self"
	RoleOther Role = "other"
)

// Message 是投影后的历史消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 是一次生成调用的抽象契约。
type Request struct {
	SystemPrompt string
	History      []Message
	Temperature  float64
	MaxTokens    int
	// DisableThinking 关闭提供商配置的思考预算，用于输出上限很小的辅助调用。
	DisableThinking bool
}

// Response 是一次生成调用的结果。Reasoning 是可选的推理旁路。
type Response struct {
	Text      string `json:"text"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Provider 是远程模型调用。任何上游故障都必须返回可区分的错误，不能静默返回空文本。
type Provider interface {
	Generate(ctx context.Context, req Request) (Response, error)
	// Name 用于日志与导出，例如 "gemini:gemini-2.5-flash"。
	Name() string
}

// ErrEmptyResponse 表示上游返回了成功状态但没有可用文本。
var ErrEmptyResponse = errors.New("empty response from provider")

// APIError 是上游返回的非成功状态。
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Transient 报告该错误是否值得重试：服务端错误与限流。
func (e *APIError) Transient() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

// IsTransient 判断错误是否为可重试的上游瞬时故障。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

// openerText 在历史为空时代替第一条用户消息；大多数接口不接受空的消息列表。
const openerText = "Start the dialogue."

// normalizeHistory 丢弃空白消息，并在历史为空时补一条 other 开场。
func normalizeHistory(history []Message) []Message {
	out := make([]Message, 0, len(history)+1)
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		out = append(out, Message{Role: RoleOther, Content: openerText})
	}
	return out
}

// NewProvider 按配置创建 Provider，并包上有限次数的重试。
func NewProvider(ctx context.Context, cfg config.LLMProviderConfig, retry config.RetryConfig, logger *zap.Logger) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Kind {
	case "openai":
		p = NewOpenAIClient(cfg)
	case "anthropic":
		p = NewAnthropicClient(cfg)
	case "gemini":
		p, err = NewGeminiClient(ctx, cfg)
	case "ollama":
		p, err = NewOllamaClient(cfg)
	case "mock":
		p = NewEchoProvider(cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported LLM provider kind: %s", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return NewRetryProvider(p, retry, logger), nil
}

// NewProviders 只构造 teacher/student/classifier 实际引用到的提供商，同名引用共享同一个实例。
func NewProviders(ctx context.Context, cfg *config.Config, logger *zap.Logger) (map[string]Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	names := lo.Uniq([]string{cfg.Teacher.Provider, cfg.Student.Provider, cfg.Classifier.Provider})
	out := make(map[string]Provider, len(names))
	for _, name := range names {
		pc, ok := cfg.Providers[name]
		if !ok {
			return nil, fmt.Errorf("provider %q is not configured", name)
		}
		p, err := NewProvider(ctx, pc, cfg.Retry, logger.With(zap.String("provider", name)))
		if err != nil {
			return nil, fmt.Errorf("create provider %s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}
