package director

import "math/rand/v2"

// Roller 是一次随机决策的随机源。*rand.Rand 满足该接口。
type Roller interface {
	IntN(n int) int
}

// Dice 把每一类随机决策隔离成独立命名、可单独设种的随机源：
// 意图抽取、正误判定、错误类型抽取互不影响。
type Dice struct {
	Intent      Roller
	Correctness Roller
	Mistake     Roller
}

// NewDice 用同一个种子派生三个独立的随机流，结果可复现。
func NewDice(seed uint64) Dice {
	return Dice{
		Intent:      rand.New(rand.NewPCG(seed, 1)),
		Correctness: rand.New(rand.NewPCG(seed, 2)),
		Mistake:     rand.New(rand.NewPCG(seed, 3)),
	}
}

// NewRandomDice 返回随机设种的 Dice。
func NewRandomDice() Dice {
	return NewDice(rand.Uint64())
}
