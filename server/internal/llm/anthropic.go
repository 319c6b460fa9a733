package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"learnlm/server/internal/config"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient 通过官方 SDK 调用 Messages 接口。
type AnthropicClient struct {
	config config.LLMProviderConfig
	client anthropic.Client
}

// NewAnthropicClient 创建 Anthropic 客户端。SDK 自带重试关闭，由 RetryProvider 统一处理。
func NewAnthropicClient(cfg config.LLMProviderConfig) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.APIURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &AnthropicClient{
		config: cfg,
		client: anthropic.NewClient(opts...),
	}
}

func (c *AnthropicClient) Name() string { return "anthropic:" + c.config.Model }

// Generate 完成文本生成（Anthropic）
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	history := normalizeHistory(req.History)
	// Messages 接口要求第一条为 user。
	if history[0].Role == RoleSelf {
		history = append([]Message{{Role: RoleOther, Content: openerText}}, history...)
	}

	messages := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleSelf {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if c.config.ThinkingBudget > 0 && !req.DisableThinking {
		// 开启 extended thinking 时接口只接受默认温度。
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: int64(c.config.ThinkingBudget)},
		}
	} else {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Response{}, &APIError{Provider: "anthropic", StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
		}
		return Response{}, fmt.Errorf("call anthropic: %w", err)
	}

	var text, reasoning strings.Builder
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(b.Text)
		case anthropic.ThinkingBlock:
			reasoning.WriteString(b.Thinking)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return Response{}, fmt.Errorf("no text blocks in response: %w", ErrEmptyResponse)
	}
	return Response{Text: text.String(), Reasoning: reasoning.String()}, nil
}
