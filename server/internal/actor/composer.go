// Package actor 组装每个回合的系统提示词，并驱动老师与学生两个代理完成一次生成。
package actor

import (
	"strings"

	"learnlm/server/internal/director"
	"learnlm/server/internal/domain"
	"learnlm/server/internal/model"
)

const (
	taskHeader = "[Current Task]"
	separator  = "\n\n---\n\n"
)

// Directive 是一次学生回合的意图指令块。
type Directive struct {
	Intent domain.Intent
	// Block 是放在人设提示词之前的指令文本。
	Block string
	// Answer 仅在 answer 意图下非空。
	Answer *model.AnswerPlan
}

// Composer 负责把意图、正误判定和错误类型拼成指令块。
// 正误判定与错误类型抽取使用各自独立的随机源。
type Composer struct {
	catalog     *domain.Catalog
	prompts     domain.Prompts
	correctness director.Roller
	mistake     director.Roller
}

// NewComposer 创建指令组装器，只使用 dice 中的 Correctness 与 Mistake 随机源。
func NewComposer(catalog *domain.Catalog, prompts domain.Prompts, dice director.Dice) *Composer {
	return &Composer{
		catalog:     catalog,
		prompts:     prompts,
		correctness: dice.Correctness,
		mistake:     dice.Mistake,
	}
}

// Compose 为已选定的意图生成指令块。
// 只有 answer 意图会额外掷一次 [1,100] 的正误骰子：不超过 correctProb 时要求答对，
// 否则按 mistakes 抽取一种错误类型并要求答错。
func (c *Composer) Compose(intent domain.Intent, correctProb int, mistakes domain.MistakeWeights) Directive {
	var sb strings.Builder
	sb.WriteString(taskHeader)
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(intent.Directive))

	d := Directive{Intent: intent}
	if intent.ID == domain.IntentAnswer {
		plan := &model.AnswerPlan{}
		roll := c.correctness.IntN(100) + 1
		if roll <= correctProb {
			plan.Correct = true
			sb.WriteString("\n\n")
			sb.WriteString(strings.TrimSpace(c.prompts.AnswerCorrect))
		} else {
			m := director.SelectMistake(mistakes, c.catalog, c.mistake)
			plan.MistakeID = string(m.ID)
			sb.WriteString("\n\n")
			sb.WriteString(strings.TrimSpace(strings.ReplaceAll(c.prompts.AnswerWrong, "{mistake_description}", m.Description)))
		}
		d.Answer = plan
	}
	d.Block = sb.String()
	return d
}

// SystemPrompt 把指令块放在人设提示词之前。
func SystemPrompt(d Directive, base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return d.Block
	}
	return d.Block + separator + base
}
