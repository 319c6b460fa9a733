package director

import (
	"learnlm/server/internal/domain"
)

// pick 按权重做一次原子抽取（不是逐项伯努利试验），相对权重与目录大小无关。
// 负权重按 0 处理；总权重为 0 时退化为均匀分布。items 为空时返回 false。
func pick[T any](items []T, weight func(T) int, r Roller) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	total := 0
	for _, it := range items {
		total += max(weight(it), 0)
	}
	if total <= 0 {
		return items[r.IntN(len(items))], true
	}
	n := r.IntN(total)
	for _, it := range items {
		w := max(weight(it), 0)
		if n < w {
			return it, true
		}
		n -= w
	}
	return items[len(items)-1], true
}

// SelectIntent 按权重从目录中抽取一个意图。目录外的 key 被忽略，缺失的意图权重为 0。
// 返回值总是目录中的意图。
func SelectIntent(weights domain.IntentWeights, catalog *domain.Catalog, r Roller) domain.Intent {
	intent, _ := pick(catalog.Intents(), func(in domain.Intent) int { return weights[in.ID] }, r)
	return intent
}

// SelectMistake 按权重抽取一种错误类型，规则同 SelectIntent。
func SelectMistake(weights domain.MistakeWeights, catalog *domain.Catalog, r Roller) domain.Mistake {
	mistake, _ := pick(catalog.Mistakes(), func(m domain.Mistake) int { return weights[m.ID] }, r)
	return mistake
}

// Aggregate 把所有情境的意图权重相加成一张表，作为分类失败时的兜底分布。
// 只保留目录中能解析的意图。
func Aggregate(sw domain.SituationWeights, catalog *domain.Catalog) domain.IntentWeights {
	agg := make(domain.IntentWeights)
	for _, weights := range sw {
		for id, w := range weights {
			if _, ok := catalog.Intent(id); !ok {
				continue
			}
			agg[id] += w
		}
	}
	return agg
}

// positiveWeights 只保留正权重且目录中存在的意图。
func positiveWeights(weights domain.IntentWeights, catalog *domain.Catalog) domain.IntentWeights {
	out := make(domain.IntentWeights)
	for id, w := range weights {
		if w <= 0 {
			continue
		}
		if _, ok := catalog.Intent(id); !ok {
			continue
		}
		out[id] = w
	}
	return out
}
