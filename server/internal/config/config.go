package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置
type Config struct {
	Server     ServerConfig                 `yaml:"server"`
	Dialog     DialogConfig                 `yaml:"dialog"`
	Teacher    AgentConfig                  `yaml:"teacher"`
	Student    AgentConfig                  `yaml:"student"`
	Classifier AgentConfig                  `yaml:"classifier"`
	Providers  map[string]LLMProviderConfig `yaml:"providers"`
	Retry      RetryConfig                  `yaml:"retry"`
	Logging    LoggingConfig                `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AllowedOrigins 允许跨域的前端地址。
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DialogConfig 对话生成与编排参数
type DialogConfig struct {
	MaxSteps    int     `yaml:"max_steps"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// IntentMode 决定意图策略：random | llm
	IntentMode string `yaml:"intent_mode"`
	// Profile 是默认学生画像 id（weak | medium | strong）
	Profile      string `yaml:"profile"`
	SolvedMarker string `yaml:"solved_marker"`
	// Greeting 覆盖目录中的固定问候语
	Greeting string `yaml:"greeting"`
	// TurnDelay 是连续运行时两回合之间的间隔
	TurnDelay time.Duration `yaml:"turn_delay"`
	// Catalog 指向目录文件；为空时使用内置目录
	Catalog string `yaml:"catalog"`
}

// AgentConfig 单个代理（老师/学生/分类器）的配置
type AgentConfig struct {
	// Provider 引用 providers 中的 key
	Provider string `yaml:"provider"`
	// Prompt / PromptPath 覆盖目录中的默认提示词，Prompt 优先
	Prompt     string `yaml:"prompt"`
	PromptPath string `yaml:"prompt_path"`
}

// LLMProviderConfig LLM 提供商配置
type LLMProviderConfig struct {
	// Kind: openai | anthropic | gemini | ollama | mock
	Kind      string `yaml:"kind"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
	APIURL    string `yaml:"api_url"`
	Model     string `yaml:"model"`
	// Project 对 OpenAI 兼容接口作为 OpenAI-Project 头发送（如云厂商的 folder id）
	Project string `yaml:"project"`
	// ReasoningEffort 用于支持推理的 OpenAI 兼容模型：low | medium | high
	ReasoningEffort string `yaml:"reasoning_effort"`
	// ThinkingBudget 用于 Gemini / Anthropic 的思考 token 预算，0 表示关闭
	ThinkingBudget int           `yaml:"thinking_budget"`
	Timeout        time.Duration `yaml:"timeout"`
}

// RetryConfig 上游瞬时错误的重试策略
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 256
	MaxMaxTokens   = 16384
)

// Default 返回可直接运行的默认配置（mock 提供商，无需密钥）。
func Default() *Config {
	cfg := &Config{
		Teacher:    AgentConfig{Provider: "mock"},
		Student:    AgentConfig{Provider: "mock"},
		Classifier: AgentConfig{Provider: "mock"},
		Providers: map[string]LLMProviderConfig{
			"mock": {Kind: "mock", Model: "echo"},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load 从文件加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析配置内容，补默认值，用环境变量覆盖敏感信息并校验。
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// 从环境变量覆盖敏感信息
	for name, p := range cfg.Providers {
		if p.APIKeyEnv == "" {
			continue
		}
		if key := os.Getenv(p.APIKeyEnv); key != "" {
			p.APIKey = key
			cfg.Providers[name] = p
		}
	}
	if addr := os.Getenv("LEARNLM_HOST"); addr != "" {
		cfg.Server.Host = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		// 单步请求需要等待一次模型调用（含重试）
		c.Server.WriteTimeout = 3 * time.Minute
	}
	if c.Dialog.MaxSteps == 0 {
		c.Dialog.MaxSteps = 50
	}
	if c.Dialog.Temperature == 0 {
		c.Dialog.Temperature = 1.0
	}
	if c.Dialog.MaxTokens == 0 {
		c.Dialog.MaxTokens = 4096
	}
	if c.Dialog.IntentMode == "" {
		c.Dialog.IntentMode = "llm"
	}
	if c.Dialog.Profile == "" {
		c.Dialog.Profile = "weak"
	}
	if c.Dialog.SolvedMarker == "" {
		c.Dialog.SolvedMarker = "[SOLVED]"
	}
	if c.Classifier.Provider == "" {
		c.Classifier.Provider = c.Student.Provider
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 8 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	for name, p := range c.Providers {
		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
			c.Providers[name] = p
		}
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Dialog.MaxSteps < 0 {
		return fmt.Errorf("dialog.max_steps must be >= 0, got %d", c.Dialog.MaxSteps)
	}
	if c.Dialog.Temperature < MinTemperature || c.Dialog.Temperature > MaxTemperature {
		return fmt.Errorf("dialog.temperature must be within [%.1f, %.1f], got %.2f", MinTemperature, MaxTemperature, c.Dialog.Temperature)
	}
	if c.Dialog.MaxTokens < MinMaxTokens || c.Dialog.MaxTokens > MaxMaxTokens {
		return fmt.Errorf("dialog.max_tokens must be within [%d, %d], got %d", MinMaxTokens, MaxMaxTokens, c.Dialog.MaxTokens)
	}
	if c.Dialog.IntentMode != "llm" && c.Dialog.IntentMode != "random" {
		return fmt.Errorf("dialog.intent_mode must be llm or random, got %q", c.Dialog.IntentMode)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be >= 1, got %d", c.Retry.Attempts)
	}
	used := make(map[string]bool, 3)
	for role, agent := range map[string]AgentConfig{"teacher": c.Teacher, "student": c.Student, "classifier": c.Classifier} {
		if agent.Provider == "" {
			return fmt.Errorf("%s.provider is required", role)
		}
		if _, ok := c.Providers[agent.Provider]; !ok {
			return fmt.Errorf("%s.provider references unknown provider %q", role, agent.Provider)
		}
		used[agent.Provider] = true
	}
	for name, p := range c.Providers {
		switch p.Kind {
		case "openai", "anthropic", "gemini":
			// 只要求被引用的提供商配置密钥
			if used[name] && p.APIKey == "" {
				return fmt.Errorf("providers.%s: API key is required (set %s or api_key)", name, envHint(p.APIKeyEnv))
			}
		case "ollama", "mock":
		default:
			return fmt.Errorf("providers.%s: unsupported kind %q", name, p.Kind)
		}
		if p.Model == "" {
			return fmt.Errorf("providers.%s: model is required", name)
		}
	}
	return nil
}

// ResolvePrompt 返回代理的提示词覆盖；都未设置时返回 fallback。
func (a AgentConfig) ResolvePrompt(fallback string) (string, error) {
	if a.Prompt != "" {
		return a.Prompt, nil
	}
	if a.PromptPath != "" {
		data, err := os.ReadFile(a.PromptPath)
		if err != nil {
			return "", fmt.Errorf("read prompt %s: %w", a.PromptPath, err)
		}
		return string(data), nil
	}
	return fallback, nil
}

func envHint(env string) string {
	if env == "" {
		return "api_key_env"
	}
	return env
}
