package orchestrator

import (
	"context"
	"testing"

	"learnlm/server/internal/config"
	"learnlm/server/internal/director"
	"learnlm/server/internal/domain"
	"learnlm/server/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory(t *testing.T, mutate func(*config.Config)) *Factory {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	b, err := domain.Default()
	require.NoError(t, err)
	providers, err := llm.NewProviders(context.Background(), cfg, nil)
	require.NoError(t, err)

	f, err := NewFactory(FactoryOptions{Config: cfg, Bundle: b, Providers: providers})
	require.NoError(t, err)
	return f
}

func TestFactoryUsesProfileDefaults(t *testing.T) {
	f := testFactory(t, func(c *config.Config) { c.Dialog.Greeting = "Hello from config" })

	sc, err := f.SessionConfig(Overrides{Profile: "strong"})
	require.NoError(t, err)
	assert.Equal(t, "Strong", sc.StudentType)
	assert.Equal(t, 80, sc.CorrectAnswerProb)
	assert.Equal(t, director.ModeLLM, sc.IntentMode)
	assert.Equal(t, "Hello from config", sc.Prompts.Greeting)
	assert.Equal(t, 50, sc.MaxSteps)
	assert.NotEmpty(t, sc.StudentPrompt)
}

func TestFactoryOverrides(t *testing.T) {
	f := testFactory(t, nil)
	weak, _ := f.Bundle().Profile("weak")

	prob, steps := 100, 3
	sc, err := f.SessionConfig(Overrides{
		IntentMode:        "random",
		IntentWeights:     weak.IntentWeights,
		CorrectAnswerProb: &prob,
		MaxSteps:          &steps,
	})
	require.NoError(t, err)
	assert.Equal(t, "Weak", sc.StudentType, "weights equal to a profile keep its name")
	assert.Equal(t, director.ModeRandom, sc.IntentMode)
	assert.Equal(t, 100, sc.CorrectAnswerProb)
	assert.Equal(t, 3, sc.MaxSteps)

	sc, err = f.SessionConfig(Overrides{IntentWeights: domain.IntentWeights{domain.IntentAnswer: 100}})
	require.NoError(t, err)
	assert.Equal(t, "Custom", sc.StudentType)
}

func TestFactoryRejectsInvalid(t *testing.T) {
	f := testFactory(t, nil)
	hot := 5.0
	cases := map[string]Overrides{
		"unknown profile": {Profile: "genius"},
		"unknown intent":  {IntentWeights: domain.IntentWeights{"ghost": 1}},
		"bad mode":        {IntentMode: "psychic"},
		"temperature":     {Temperature: &hot},
	}
	for name, ov := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.Build("x", ov)
			assert.ErrorIs(t, err, ErrInvalidSession)
		})
	}
}

// TestFactoryBuildRunsWithEchoProvider 验证默认配置（mock 提供商）可以直接跑完一段对话。
func TestFactoryBuildRunsWithEchoProvider(t *testing.T) {
	f := testFactory(t, nil)
	seed := uint64(7)
	limit := 3
	o, err := f.Build("echo", Overrides{Seed: &seed, MaxSteps: &limit})
	require.NoError(t, err)

	require.NoError(t, o.Run(context.Background()))
	st := o.State()
	assert.Equal(t, 3, st.StepCount)
	require.NotNil(t, st.Termination)
	assert.Equal(t, "step_limit", string(st.Termination.Reason))
	assert.Len(t, st.Messages, 7)

	saved, err := f.Sessions().Get(context.Background(), "echo")
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 7)
}

// TestFactoryTeacherPromptNamesSolvedMarker 验证老师提示词中的完成标记与配置一致，覆盖的提示词同样填充。
func TestFactoryTeacherPromptNamesSolvedMarker(t *testing.T) {
	f := testFactory(t, func(c *config.Config) { c.Dialog.SolvedMarker = "<<DONE>>" })

	sc, err := f.SessionConfig(Overrides{})
	require.NoError(t, err)
	assert.Contains(t, sc.TeacherPrompt, "<<DONE>>")
	assert.NotContains(t, sc.TeacherPrompt, "{solved_marker}")
	assert.NotContains(t, sc.TeacherPrompt, "[SOLVED]")

	sc, err = f.SessionConfig(Overrides{TeacherPrompt: "Say {solved_marker} when finished."})
	require.NoError(t, err)
	assert.Equal(t, "Say <<DONE>> when finished.", sc.TeacherPrompt)
}
