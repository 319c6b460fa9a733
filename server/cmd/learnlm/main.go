package main

import (
	"context"
	"fmt"
	"os"

	"learnlm/server/internal/config"
	"learnlm/server/internal/domain"
	"learnlm/server/internal/llm"
	"learnlm/server/internal/logging"
	"learnlm/server/internal/orchestrator"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	envFile    string
	logLevel   string

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "learnlm",
	Short: "Simulated teacher/student tutoring dialogues driven by LLMs",
	Long: `learnlm runs a two-party tutoring dialogue between an LLM teacher and an LLM student.

Every student turn is driven by an intent (ask, answer, stall, end the dialogue ...)
chosen by weighted sampling or by classifying what the teacher just did.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (default: built-in mock setup)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with API keys")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(serveCmd, simulateCmd, catalogCmd)
}

func main() {
	defer func() {
		if logger != nil {
			_ = logger.Sync()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app 是各子命令共享的装配结果。
type app struct {
	cfg     *config.Config
	bundle  *domain.Bundle
	factory *orchestrator.Factory
}

// loadApp 读取 .env 与配置文件，构造 logger、目录与会话工厂。
func loadApp(ctx context.Context) (*app, error) {
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	var err error
	if logger, err = logging.New(cfg.Logging); err != nil {
		return nil, err
	}

	bundle, err := domain.Load(cfg.Dialog.Catalog)
	if err != nil {
		return nil, err
	}
	providers, err := llm.NewProviders(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	factory, err := orchestrator.NewFactory(orchestrator.FactoryOptions{
		Config:    cfg,
		Bundle:    bundle,
		Providers: providers,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, bundle: bundle, factory: factory}, nil
}
