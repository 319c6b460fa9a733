// Package transcript 把共享转写投影成某一方视角的历史。
package transcript

import (
	"learnlm/server/internal/llm"
	"learnlm/server/internal/model"
)

// Project 以 self 的视角构造历史：self 发的消息为 RoleSelf，另一方为 RoleOther。
// 推理旁路只是元数据，不进入历史。
func Project(messages []model.Message, self model.Role) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		role := llm.RoleOther
		if m.Role == self {
			role = llm.RoleSelf
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}

// Tail 返回最后 n 条消息（n <= 0 时返回空）。返回的是原切片的子切片。
func Tail(history []llm.Message, n int) []llm.Message {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
