package llm

import (
	"context"
	"fmt"
	"strings"

	"learnlm/server/internal/config"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaClient 通过 langchaingo 调用本地 Ollama 模型，便于离线调试。
type OllamaClient struct {
	config config.LLMProviderConfig
	llm    *ollama.LLM
}

// NewOllamaClient 创建 Ollama 客户端
func NewOllamaClient(cfg config.LLMProviderConfig) (*OllamaClient, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.APIURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.APIURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaClient{config: cfg, llm: llm}, nil
}

func (c *OllamaClient) Name() string { return "ollama:" + c.config.Model }

// Generate 完成文本生成（Ollama）
func (c *OllamaClient) Generate(ctx context.Context, req Request) (Response, error) {
	history := normalizeHistory(req.History)
	messages := make([]llms.MessageContent, 0, len(history)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPrompt))
	}
	for _, m := range history {
		msgType := llms.ChatMessageTypeHuman
		if m.Role == RoleSelf {
			msgType = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(msgType, m.Content))
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	resp, err := c.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(req.MaxTokens))
	if err != nil {
		return Response{}, fmt.Errorf("call ollama: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return Response{}, fmt.Errorf("no choices in response: %w", ErrEmptyResponse)
	}
	return Response{Text: resp.Choices[0].Content}, nil
}
