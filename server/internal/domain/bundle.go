package domain

import (
	_ "embed"
	"fmt"
	"maps"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultBundle []byte

// Prompts 是目录附带的提示词模板。
type Prompts struct {
	Greeting string `yaml:"greeting" json:"greeting"`
	// Teacher 含 {solved_marker} 占位符，按会话配置的完成标记填充。
	Teacher string `yaml:"teacher" json:"teacher"`
	// AnswerCorrect/AnswerWrong 是 answer 意图的正误子指令；AnswerWrong 含 {mistake_description} 占位符。
	AnswerCorrect string `yaml:"answer_correct" json:"answer_correct"`
	AnswerWrong   string `yaml:"answer_wrong" json:"answer_wrong"`
	// Classifier 含 {situations} 占位符。
	Classifier string `yaml:"classifier" json:"classifier"`
}

// Profile 是一种学生画像的默认配置。
type Profile struct {
	ID                string           `yaml:"id" json:"id"`
	Name              string           `yaml:"name" json:"name"`
	StudentPrompt     string           `yaml:"student_prompt" json:"student_prompt"`
	CorrectAnswerProb int              `yaml:"correct_answer_prob" json:"correct_answer_prob"`
	IntentWeights     IntentWeights    `yaml:"intent_weights" json:"intent_weights"`
	MistakeWeights    MistakeWeights   `yaml:"mistake_weights" json:"mistake_weights"`
	SituationWeights  SituationWeights `yaml:"situation_weights" json:"situation_weights"`
}

// Clone 深拷贝画像，会话之间不共享权重表。
func (p Profile) Clone() Profile {
	out := p
	out.IntentWeights = maps.Clone(p.IntentWeights)
	out.MistakeWeights = maps.Clone(p.MistakeWeights)
	if p.SituationWeights != nil {
		out.SituationWeights = make(SituationWeights, len(p.SituationWeights))
		for sid, w := range p.SituationWeights {
			out.SituationWeights[sid] = maps.Clone(w)
		}
	}
	return out
}

// Validate 校验画像引用的 id 都在目录中。
func (p Profile) Validate(c *Catalog) error {
	if p.CorrectAnswerProb < 0 || p.CorrectAnswerProb > 100 {
		return fmt.Errorf("profile %s: correct_answer_prob must be within [0,100], got %d", p.ID, p.CorrectAnswerProb)
	}
	if err := c.ValidateIntentWeights("intent_weights", p.IntentWeights); err != nil {
		return fmt.Errorf("profile %s: %w", p.ID, err)
	}
	if err := c.ValidateMistakeWeights("mistake_weights", p.MistakeWeights); err != nil {
		return fmt.Errorf("profile %s: %w", p.ID, err)
	}
	if err := c.ValidateSituationWeights("situation_weights", p.SituationWeights); err != nil {
		return fmt.Errorf("profile %s: %w", p.ID, err)
	}
	return nil
}

// Bundle 是一份完整的目录文件。
type Bundle struct {
	Intents    []Intent    `yaml:"intents"`
	Mistakes   []Mistake   `yaml:"mistakes"`
	Situations []Situation `yaml:"situations"`
	Prompts    Prompts     `yaml:"prompts"`
	Profiles   []Profile   `yaml:"profiles"`

	catalog *Catalog
}

// Default 返回内置目录。每次调用都重新解析，调用方可随意修改返回值。
func Default() (*Bundle, error) {
	return Parse(defaultBundle)
}

// Load 从指定路径加载目录；path 为空时使用内置目录。
func Load(path string) (*Bundle, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse 解析并校验目录文件。
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	c, err := NewCatalog(b.Intents, b.Mistakes, b.Situations)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	b.catalog = c
	if len(b.Profiles) == 0 {
		return nil, fmt.Errorf("catalog defines no profiles")
	}
	for _, p := range b.Profiles {
		if err := p.Validate(c); err != nil {
			return nil, err
		}
	}
	return &b, nil
}

func (b *Bundle) Catalog() *Catalog { return b.catalog }

// Profile 按 id 查找画像，返回深拷贝。
func (b *Bundle) Profile(id string) (Profile, bool) {
	p, ok := lo.Find(b.Profiles, func(p Profile) bool { return p.ID == id })
	if !ok {
		return Profile{}, false
	}
	return p.Clone(), true
}

// ProfileFor 返回意图权重与 w 完全相同的第一个画像（按声明顺序），仅用于展示画像名称。
func (b *Bundle) ProfileFor(w IntentWeights) (Profile, bool) {
	p, ok := lo.Find(b.Profiles, func(p Profile) bool { return sameWeights(p.IntentWeights, w) })
	if !ok {
		return Profile{}, false
	}
	return p.Clone(), true
}

// sameWeights 把缺失项视为 0。
func sameWeights(a, b IntentWeights) bool {
	for _, id := range lo.Union(lo.Keys(a), lo.Keys(b)) {
		if a[id] != b[id] {
			return false
		}
	}
	return true
}

// CheckPercentTotal 是界面层的校验：意图概率之和必须为 100。引擎本身接受任意非负分布。
func CheckPercentTotal(w IntentWeights) error {
	total := lo.Sum(lo.Values(w))
	if total != 100 {
		return fmt.Errorf("intent weights sum to %d%%, want 100%%", total)
	}
	return nil
}
