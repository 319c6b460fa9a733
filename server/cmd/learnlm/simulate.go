package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"learnlm/server/internal/orchestrator"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var simulateOpts struct {
	profile string
	mode    string
	steps   int
	out     string
	opening string
	seed    uint64
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run one dialogue to completion and write the {config, messages} export",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}

		ov := orchestrator.Overrides{Profile: simulateOpts.profile, IntentMode: simulateOpts.mode}
		if cmd.Flags().Changed("steps") {
			ov.MaxSteps = &simulateOpts.steps
		}
		if cmd.Flags().Changed("seed") {
			ov.Seed = &simulateOpts.seed
		}
		o, err := a.factory.Build(uuid.NewString(), ov)
		if err != nil {
			return err
		}
		if simulateOpts.opening != "" {
			if err := o.SubmitOpening(simulateOpts.opening); err != nil {
				return err
			}
		}

		runErr := o.Run(ctx)
		st := o.State()
		logger.Info("simulation finished",
			zap.String("session_id", o.ID()),
			zap.Int("steps", st.StepCount),
			zap.Int("messages", len(st.Messages)),
			zap.Any("termination", st.Termination))

		// 失败时仍然导出已有的转写。
		if err := writeSnapshot(cmd.OutOrStdout(), simulateOpts.out, o); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	},
}

func init() {
	f := simulateCmd.Flags()
	f.StringVar(&simulateOpts.profile, "profile", "", "student profile id (weak|medium|strong)")
	f.StringVar(&simulateOpts.mode, "mode", "", "intent mode (random|llm)")
	f.IntVar(&simulateOpts.steps, "steps", 0, "override dialog.max_steps")
	f.StringVarP(&simulateOpts.out, "out", "o", "", "write the export to this file instead of stdout")
	f.StringVar(&simulateOpts.opening, "opening", "", "scripted first student line")
	f.Uint64Var(&simulateOpts.seed, "seed", 0, "seed for intent, correctness and mistake draws")
}

func writeSnapshot(stdout io.Writer, path string, o *orchestrator.Orchestrator) error {
	w := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(o.Snapshot())
}
