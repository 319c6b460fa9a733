package config

import (
	"strings"
	"testing"
	"time"
)

// TestParseAppliesDefaults 验证最小配置补齐默认值。
func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
teacher: {provider: local}
student: {provider: local}
providers:
  local: {kind: mock, model: echo}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Dialog.MaxSteps != 50 || cfg.Dialog.MaxTokens != 4096 || cfg.Dialog.Temperature != 1.0 {
		t.Fatalf("unexpected dialog defaults: %+v", cfg.Dialog)
	}
	if cfg.Dialog.IntentMode != "llm" || cfg.Dialog.SolvedMarker != "[SOLVED]" {
		t.Fatalf("unexpected dialog defaults: %+v", cfg.Dialog)
	}
	if cfg.Classifier.Provider != "local" {
		t.Fatalf("expected classifier to default to student provider, got %q", cfg.Classifier.Provider)
	}
	if cfg.Retry.Attempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Providers["local"].Timeout != 60*time.Second {
		t.Fatalf("expected provider timeout default, got %v", cfg.Providers["local"].Timeout)
	}
}

// TestParseAPIKeyFromEnv 验证 api_key_env 指定的环境变量覆盖配置文件中的密钥。
func TestParseAPIKeyFromEnv(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "from-env")
	cfg, err := Parse([]byte(`
teacher: {provider: g}
student: {provider: g}
providers:
  g: {kind: gemini, model: gemini-2.5-flash, api_key: from-file, api_key_env: TEST_GEMINI_KEY}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.Providers["g"].APIKey; got != "from-env" {
		t.Fatalf("expected key from env, got %q", got)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing key",
			yaml: "teacher: {provider: g}\nstudent: {provider: g}\nproviders:\n  g: {kind: gemini, model: m, api_key_env: NOPE_NOT_SET}\n",
			want: "NOPE_NOT_SET",
		},
		{
			name: "dangling provider",
			yaml: "teacher: {provider: x}\nstudent: {provider: m}\nproviders:\n  m: {kind: mock, model: echo}\n",
			want: "unknown provider",
		},
		{
			name: "temperature range",
			yaml: "dialog: {temperature: 3}\nteacher: {provider: m}\nstudent: {provider: m}\nproviders:\n  m: {kind: mock, model: echo}\n",
			want: "temperature",
		},
		{
			name: "max tokens range",
			yaml: "dialog: {max_tokens: 10}\nteacher: {provider: m}\nstudent: {provider: m}\nproviders:\n  m: {kind: mock, model: echo}\n",
			want: "max_tokens",
		},
		{
			name: "intent mode",
			yaml: "dialog: {intent_mode: psychic}\nteacher: {provider: m}\nstudent: {provider: m}\nproviders:\n  m: {kind: mock, model: echo}\n",
			want: "intent_mode",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

// TestValidateOnlyRequiresKeysForUsedProviders 验证未被引用的提供商缺少密钥不影响加载。
func TestValidateOnlyRequiresKeysForUsedProviders(t *testing.T) {
	cfg, err := Parse([]byte(`
teacher: {provider: local}
student: {provider: local}
providers:
  local: {kind: ollama, model: llama3.1}
  spare: {kind: anthropic, model: claude-sonnet-4-5, api_key_env: NOPE_NOT_SET}
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Classifier.Provider != "local" {
		t.Fatalf("expected classifier to follow student, got %q", cfg.Classifier.Provider)
	}
}

// TestLoadExampleConfig 验证仓库自带的示例配置可以加载。
func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	cfg, err := Load("../../configs/learnlm.yaml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.Dialog.TurnDelay != 300*time.Millisecond || cfg.Server.Addr() != "127.0.0.1:8080" {
		t.Fatalf("unexpected example config: %+v", cfg.Server)
	}
	if cfg.Providers["gemini-pro"].ThinkingBudget != 1024 {
		t.Fatalf("expected thinking budget from example")
	}
}
