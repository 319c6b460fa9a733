package domain

import (
	"errors"
	"fmt"
	"sort"
)

// IntentID 标识学生在某个回合的交际意图。
type IntentID string

// 默认目录中的意图 id。只有 IntentAnswer 在核心逻辑中有特殊含义。
const (
	IntentChat           IntentID = "chat"
	IntentSetProblem     IntentID = "set-problem"
	IntentAnswer         IntentID = "answer"
	IntentGetExplanation IntentID = "get-explanation"
	IntentThankTutor     IntentID = "thank-tutor"
	IntentAgreeWithTutor IntentID = "agree-with-tutor"
	IntentFindMistake    IntentID = "find-mistake"
	IntentCriticizeTutor IntentID = "criticize-tutor"
	IntentEndDialog      IntentID = "end-dialog"
	IntentGetSolution    IntentID = "get-solution"
)

// MistakeID 标识一种教学性错误。
type MistakeID string

// SituationID 标识老师上一条消息在做什么。
type SituationID string

// Intent 是意图目录中的一项。
type Intent struct {
	ID        IntentID `yaml:"id" json:"id"`
	Name      string   `yaml:"name" json:"name"`
	Directive string   `yaml:"directive" json:"directive"`
}

// Mistake 是错误类型目录中的一项。
type Mistake struct {
	ID          MistakeID `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Description string    `yaml:"description" json:"description"`
}

// Situation 是情境目录中的一项，Description 会写进分类器提示词。
type Situation struct {
	ID          SituationID `yaml:"id" json:"id"`
	Description string      `yaml:"description" json:"description"`
}

// IntentWeights 意图 id -> 非负整数权重。
type IntentWeights map[IntentID]int

// MistakeWeights 错误类型 id -> 非负整数权重。
type MistakeWeights map[MistakeID]int

// SituationWeights 情境 id -> 该情境下的意图权重。
type SituationWeights map[SituationID]IntentWeights

var (
	ErrEmptyCatalog     = errors.New("empty catalog")
	ErrDuplicateID      = errors.New("duplicate id")
	ErrUnknownIntent    = errors.New("unknown intent")
	ErrUnknownMistake   = errors.New("unknown mistake type")
	ErrUnknownSituation = errors.New("unknown situation")
	ErrNegativeWeight   = errors.New("negative weight")
)

// ConfigError 表示目录与权重配置不一致。会话创建时即返回，不会拖到回合中途。
type ConfigError struct {
	Field string
	ID    string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v %q", e.Field, e.Err, e.ID)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Catalog 是一次会话内不可变的目录。构造时校验一次，之后按 id 查找不会失败于未定义项。
type Catalog struct {
	intents    []Intent
	mistakes   []Mistake
	situations []Situation

	intentIdx    map[IntentID]int
	mistakeIdx   map[MistakeID]int
	situationIdx map[SituationID]int
}

// NewCatalog 校验并建立目录。意图与错误类型不能为空；情境可为空（此时只能使用随机策略）。
func NewCatalog(intents []Intent, mistakes []Mistake, situations []Situation) (*Catalog, error) {
	if len(intents) == 0 {
		return nil, &ConfigError{Field: "intents", Err: ErrEmptyCatalog}
	}
	if len(mistakes) == 0 {
		return nil, &ConfigError{Field: "mistakes", Err: ErrEmptyCatalog}
	}

	c := &Catalog{
		intents:      append([]Intent(nil), intents...),
		mistakes:     append([]Mistake(nil), mistakes...),
		situations:   append([]Situation(nil), situations...),
		intentIdx:    make(map[IntentID]int, len(intents)),
		mistakeIdx:   make(map[MistakeID]int, len(mistakes)),
		situationIdx: make(map[SituationID]int, len(situations)),
	}
	for i, in := range c.intents {
		if in.ID == "" {
			return nil, &ConfigError{Field: "intents", Err: ErrUnknownIntent}
		}
		if _, dup := c.intentIdx[in.ID]; dup {
			return nil, &ConfigError{Field: "intents", ID: string(in.ID), Err: ErrDuplicateID}
		}
		c.intentIdx[in.ID] = i
	}
	for i, m := range c.mistakes {
		if m.ID == "" {
			return nil, &ConfigError{Field: "mistakes", Err: ErrUnknownMistake}
		}
		if _, dup := c.mistakeIdx[m.ID]; dup {
			return nil, &ConfigError{Field: "mistakes", ID: string(m.ID), Err: ErrDuplicateID}
		}
		c.mistakeIdx[m.ID] = i
	}
	for i, s := range c.situations {
		if s.ID == "" {
			return nil, &ConfigError{Field: "situations", Err: ErrUnknownSituation}
		}
		if _, dup := c.situationIdx[s.ID]; dup {
			return nil, &ConfigError{Field: "situations", ID: string(s.ID), Err: ErrDuplicateID}
		}
		c.situationIdx[s.ID] = i
	}
	return c, nil
}

// Intents 按声明顺序返回全部意图（副本）。
func (c *Catalog) Intents() []Intent { return append([]Intent(nil), c.intents...) }

// Mistakes 按声明顺序返回全部错误类型（副本）。
func (c *Catalog) Mistakes() []Mistake { return append([]Mistake(nil), c.mistakes...) }

// Situations 按声明顺序返回全部情境（副本）。
func (c *Catalog) Situations() []Situation { return append([]Situation(nil), c.situations...) }

func (c *Catalog) Intent(id IntentID) (Intent, bool) {
	i, ok := c.intentIdx[id]
	if !ok {
		return Intent{}, false
	}
	return c.intents[i], true
}

func (c *Catalog) Mistake(id MistakeID) (Mistake, bool) {
	i, ok := c.mistakeIdx[id]
	if !ok {
		return Mistake{}, false
	}
	return c.mistakes[i], true
}

func (c *Catalog) Situation(id SituationID) (Situation, bool) {
	i, ok := c.situationIdx[id]
	if !ok {
		return Situation{}, false
	}
	return c.situations[i], true
}

// ValidateIntentWeights 要求每个 key 都能在目录中解析，且权重非负。
func (c *Catalog) ValidateIntentWeights(field string, w IntentWeights) error {
	for _, id := range sortedKeys(w) {
		if _, ok := c.intentIdx[id]; !ok {
			return &ConfigError{Field: field, ID: string(id), Err: ErrUnknownIntent}
		}
		if w[id] < 0 {
			return &ConfigError{Field: field, ID: string(id), Err: ErrNegativeWeight}
		}
	}
	return nil
}

func (c *Catalog) ValidateMistakeWeights(field string, w MistakeWeights) error {
	for _, id := range sortedKeys(w) {
		if _, ok := c.mistakeIdx[id]; !ok {
			return &ConfigError{Field: field, ID: string(id), Err: ErrUnknownMistake}
		}
		if w[id] < 0 {
			return &ConfigError{Field: field, ID: string(id), Err: ErrNegativeWeight}
		}
	}
	return nil
}

// ValidateSituationWeights 校验情境表。没有正权重意图的情境是合法的，运行时会降级到聚合分布。
func (c *Catalog) ValidateSituationWeights(field string, sw SituationWeights) error {
	for _, sid := range sortedKeys(sw) {
		if _, ok := c.situationIdx[sid]; !ok {
			return &ConfigError{Field: field, ID: string(sid), Err: ErrUnknownSituation}
		}
		if err := c.ValidateIntentWeights(field+"."+string(sid), sw[sid]); err != nil {
			return err
		}
	}
	return nil
}

// sortedKeys 让校验报错稳定可复现。
func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
