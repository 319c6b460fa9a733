package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"learnlm/server/internal/config"
)

// OpenAIClient 调用 OpenAI 兼容的 chat/completions 接口（OpenAI、云厂商兼容网关等）。
type OpenAIClient struct {
	config     config.LLMProviderConfig
	httpClient *http.Client
}

// NewOpenAIClient 创建 OpenAI 兼容客户端
func NewOpenAIClient(cfg config.LLMProviderConfig) *OpenAIClient {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *OpenAIClient) Name() string { return "openai:" + c.config.Model }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generate 完成文本生成（OpenAI）
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	messages := make([]openAIMessage, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range normalizeHistory(req.History) {
		messages = append(messages, openAIMessage{Role: openAIRole(m.Role), Content: m.Content})
	}

	reqBody := map[string]any{
		"model":                 c.config.Model,
		"messages":              messages,
		"temperature":           req.Temperature,
		"max_completion_tokens": req.MaxTokens,
	}
	if req.DisableThinking && strings.HasPrefix(c.config.Model, "gpt-5") {
		reqBody["reasoning_effort"] = "minimal"
	} else if c.config.ReasoningEffort != "" {
		reqBody["reasoning_effort"] = c.config.ReasoningEffort
	} else if isOpenAIReasoningModel(c.config.Model) {
		// gpt-5 / o 系列可能把预算全部花在 reasoning 上导致 content 为空，默认压到 low。
		reqBody["reasoning_effort"] = "low"
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.config.APIURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if c.config.Project != "" {
		httpReq.Header.Set("OpenAI-Project", c.config.Project)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, &APIError{Provider: "openai", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content          string `json:"content"`
				ReasoningContent string `json:"reasoning_content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return Response{}, fmt.Errorf("no choices in response: %w", ErrEmptyResponse)
	}

	msg := result.Choices[0].Message
	if strings.TrimSpace(msg.Content) == "" {
		return Response{}, fmt.Errorf("empty content in response: %w", ErrEmptyResponse)
	}
	return Response{Text: msg.Content, Reasoning: msg.ReasoningContent}, nil
}

func openAIRole(r Role) string {
	if r == RoleSelf {
		return "assistant"
	}
	return "user"
}

func isOpenAIReasoningModel(model string) bool {
	// 经验规则：gpt-5 / o1 等会产出 reasoning tokens。
	return strings.HasPrefix(model, "gpt-5") || strings.HasPrefix(model, "o1")
}
