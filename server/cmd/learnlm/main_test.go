package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"learnlm/server/internal/model"
)

// TestSimulateWritesExport 验证 simulate 用内置 mock 配置跑完对话并写出导出文件。
func TestSimulateWritesExport(t *testing.T) {
	out := filepath.Join(t.TempDir(), "dialog.json")
	rootCmd.SetArgs([]string{
		"simulate", "--env-file", filepath.Join(t.TempDir(), "missing.env"), "--log-level", "error",
		"--profile", "strong", "--mode", "random", "--steps", "2", "--seed", "5",
		"--opening", "hi, can you help me?", "--out", out,
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("simulate: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if snap.StepCount != 2 || len(snap.Messages) != 5 {
		t.Fatalf("expected 2 steps / 5 messages, got %d / %d", snap.StepCount, len(snap.Messages))
	}
	if snap.Messages[1].Content != "hi, can you help me?" {
		t.Fatalf("expected scripted opening, got %q", snap.Messages[1].Content)
	}
	if snap.Config.StudentType != "Strong" || snap.Config.IntentMode != "random" {
		t.Fatalf("unexpected export config: %+v", snap.Config)
	}
}

func TestCatalogPrintsYAML(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"catalog", "--env-file", filepath.Join(t.TempDir(), "none.env"), "--log-level", "error"})
	defer rootCmd.SetOut(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("catalog: %v", err)
	}
	for _, want := range []string{"intents:", "id: answer", "profiles:", "id: weak"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("expected %q in catalog output", want)
		}
	}
}
