package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"learnlm/server/internal/config"

	"google.golang.org/genai"
)

// GeminiClient 通过 google genai SDK 调用 Gemini。
type GeminiClient struct {
	config config.LLMProviderConfig
	client *genai.Client
}

// NewGeminiClient 创建 Gemini 客户端
func NewGeminiClient(ctx context.Context, cfg config.LLMProviderConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APIURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.APIURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{config: cfg, client: client}, nil
}

func (c *GeminiClient) Name() string { return "gemini:" + c.config.Model }

// Generate 完成文本生成（Gemini）。thought 部分作为推理旁路返回。
func (c *GeminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	history := normalizeHistory(req.History)
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleSelf {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	switch {
	case req.DisableThinking:
		// 思考 token 计入输出上限；pro 系列不允许关闭思考，只能保持默认。
		if !strings.Contains(c.config.Model, "-pro") {
			gc.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)}
		}
	case c.config.ThinkingBudget > 0:
		gc.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(c.config.ThinkingBudget)),
		}
	}

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, gc)
	if err != nil {
		return Response{}, wrapGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Response{}, fmt.Errorf("no candidates in response: %w", ErrEmptyResponse)
	}

	var text, reasoning strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			reasoning.WriteString(part.Text)
			continue
		}
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return Response{}, fmt.Errorf("no text parts in response: %w", ErrEmptyResponse)
	}
	return Response{Text: text.String(), Reasoning: reasoning.String()}, nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "gemini", StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return &APIError{Provider: "gemini", StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("call gemini: %w", err)
}
