package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"learnlm/server/internal/config"
)

// TestOpenAIClientMapsRolesAndReasoning 验证角色映射（self->assistant，other->user）与推理旁路的提取。
func TestOpenAIClientMapsRolesAndReasoning(t *testing.T) {
	var got struct {
		Model    string          `json:"model"`
		Messages []openAIMessage `json:"messages"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("OpenAI-Project") != "folder-1" {
			t.Errorf("expected project header, got %q", r.Header.Get("OpenAI-Project"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello world","reasoning_content":"thinking..."}}]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL, APIKey: "dummy", Model: "gpt-test", Project: "folder-1", Timeout: 5 * time.Second})
	resp, err := client.Generate(context.Background(), Request{
		SystemPrompt: "sys",
		History: []Message{
			{Role: RoleOther, Content: "hi"},
			{Role: RoleSelf, Content: "   "},
			{Role: RoleSelf, Content: "hello"},
		},
		Temperature: 0.3,
		MaxTokens:   30,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "hello world" || resp.Reasoning != "thinking..." {
		t.Fatalf("unexpected response: %+v", resp)
	}

	want := []openAIMessage{{"system", "sys"}, {"user", "hi"}, {"assistant", "hello"}}
	if len(got.Messages) != len(want) {
		t.Fatalf("expected %d messages (blank dropped), got %d", len(want), len(got.Messages))
	}
	for i := range want {
		if got.Messages[i] != want[i] {
			t.Fatalf("message %d: expected %+v, got %+v", i, want[i], got.Messages[i])
		}
	}
}

// TestOpenAIClientEmptyHistoryGetsOpener 验证空历史会补一条开场消息。
func TestOpenAIClientEmptyHistoryGetsOpener(t *testing.T) {
	var got struct {
		Messages []openAIMessage `json:"messages"`
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL, Model: "gpt-test"})
	if _, err := client.Generate(context.Background(), Request{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != openerText {
		t.Fatalf("expected single opener message, got %+v", got.Messages)
	}
}

// TestOpenAIClientErrors 验证上游错误可区分：5xx 为瞬时错误，空内容不会被当作成功。
func TestOpenAIClientErrors(t *testing.T) {
	status := http.StatusBadGateway
	body := `{"error":"upstream"}`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL, Model: "gpt-test"})

	_, err := client.Generate(context.Background(), Request{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected APIError 502, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatalf("expected 502 to be transient")
	}

	status = http.StatusBadRequest
	_, err = client.Generate(context.Background(), Request{})
	if IsTransient(err) {
		t.Fatalf("expected 400 to be non-transient, got %v", err)
	}

	status = http.StatusOK
	body = `{"choices":[{"message":{"content":""}}]}`
	_, err = client.Generate(context.Background(), Request{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}
