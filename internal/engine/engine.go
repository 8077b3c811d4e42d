// Package engine 实现规则条件树对宿主事件的评估
package engine

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"campaignkit/pkg/domain"
	"campaignkit/pkg/rulespec"
)

// 事件上下文中的保留键
const (
	ContextKeyType   = "~type"
	ContextKeySource = "~source"
)

// Engine 规则决策引擎
type Engine struct {
	doc     *rulespec.Document
	mu      sync.RWMutex
	total   int64
	matched int64
	byRule  map[string]int64
}

// New 创建一个新的规则引擎实例
func New(doc *rulespec.Document) *Engine {
	return &Engine{
		doc:    doc,
		byRule: make(map[string]int64),
	}
}

// Update 整体替换当前规则集
func (e *Engine) Update(doc *rulespec.Document) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.doc = doc
}

// Document 返回当前规则集
func (e *Engine) Document() *rulespec.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc
}

// Evaluate 用事件评估全部规则，返回命中规则的消费体（保持规则顺序）
func (e *Engine) Evaluate(evt *domain.Event) []domain.Consequence {
	e.mu.Lock()
	e.total++
	doc := e.doc
	e.mu.Unlock()

	if evt == nil || doc == nil || len(doc.Rules) == 0 {
		return nil
	}

	evalCtx := flattenEvent(evt)

	var hits []domain.Consequence
	var hitRules []string
	for i := range doc.Rules {
		rule := &doc.Rules[i]
		if evalCondition(evalCtx, &rule.Condition) {
			hits = append(hits, rule.Consequences...)
			hitRules = append(hitRules, rule.ID)
		}
	}

	if len(hits) == 0 {
		return nil
	}

	// 更新统计
	e.mu.Lock()
	e.matched++
	for _, id := range hitRules {
		e.byRule[id]++
	}
	e.mu.Unlock()

	return hits
}

// Stats 引擎统计信息
type Stats struct {
	Total   int64
	Matched int64
	ByRule  map[string]int64
}

// GetStats 返回累计统计
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	byRule := make(map[string]int64, len(e.byRule))
	for k, v := range e.byRule {
		byRule[k] = v
	}
	return Stats{Total: e.total, Matched: e.matched, ByRule: byRule}
}

// ResetStats 清零统计
func (e *Engine) ResetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.total = 0
	e.matched = 0
	e.byRule = make(map[string]int64)
}

// flattenEvent 把事件展平为键值上下文。
// 事件类型和来源放在保留键下，嵌套的数据键用 "." 连接。
func flattenEvent(evt *domain.Event) map[string]any {
	out := map[string]any{
		ContextKeyType:   string(evt.Type),
		ContextKeySource: string(evt.Source),
	}
	flattenInto(out, "", evt.Data)
	return out
}

// flattenInto 递归展平嵌套 map
func flattenInto(out map[string]any, prefix string, data map[string]any) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// evalCondition 评估单个条件节点
func evalCondition(ctx map[string]any, c *rulespec.Condition) bool {
	switch c.Type {
	case rulespec.ConditionGroup:
		return evalGroup(ctx, c)
	case rulespec.ConditionMatcher:
		return evalMatcher(ctx, c)
	default:
		return false
	}
}

// evalGroup 评估组合节点。and 组在无子条件时成立，or 组不成立。
func evalGroup(ctx map[string]any, c *rulespec.Condition) bool {
	switch c.Logic {
	case rulespec.LogicAnd:
		for i := range c.Conditions {
			if !evalCondition(ctx, &c.Conditions[i]) {
				return false
			}
		}
		return true
	case rulespec.LogicOr:
		for i := range c.Conditions {
			if evalCondition(ctx, &c.Conditions[i]) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// evalMatcher 评估叶子节点
func evalMatcher(ctx map[string]any, c *rulespec.Condition) bool {
	actual, exists := ctx[c.Key]

	switch c.Matcher {
	case rulespec.MatcherExists:
		return exists
	case rulespec.MatcherNotExists:
		return !exists
	}

	if !exists {
		return false
	}

	switch c.Matcher {
	case rulespec.MatcherEquals:
		return anyValue(c.Values, func(want any) bool { return valueEquals(actual, want) })
	case rulespec.MatcherNotEquals:
		return !anyValue(c.Values, func(want any) bool { return valueEquals(actual, want) })
	case rulespec.MatcherContains:
		return anyValue(c.Values, func(want any) bool {
			return strings.Contains(lowered(actual), lowered(want))
		})
	case rulespec.MatcherNotContains:
		return !anyValue(c.Values, func(want any) bool {
			return strings.Contains(lowered(actual), lowered(want))
		})
	case rulespec.MatcherStartsWith:
		return anyValue(c.Values, func(want any) bool {
			return strings.HasPrefix(lowered(actual), lowered(want))
		})
	case rulespec.MatcherEndsWith:
		return anyValue(c.Values, func(want any) bool {
			return strings.HasSuffix(lowered(actual), lowered(want))
		})
	case rulespec.MatcherGreaterThan:
		return anyNumeric(actual, c.Values, func(a, b float64) bool { return a > b })
	case rulespec.MatcherGreaterOrEqual:
		return anyNumeric(actual, c.Values, func(a, b float64) bool { return a >= b })
	case rulespec.MatcherLessThan:
		return anyNumeric(actual, c.Values, func(a, b float64) bool { return a < b })
	case rulespec.MatcherLessOrEqual:
		return anyNumeric(actual, c.Values, func(a, b float64) bool { return a <= b })
	default:
		return false
	}
}

// anyValue 任一候选值满足断言即成立
func anyValue(values []any, pred func(any) bool) bool {
	for _, v := range values {
		if pred(v) {
			return true
		}
	}
	return false
}

// anyNumeric 任一候选值满足数值断言即成立，非数值不参与比较
func anyNumeric(actual any, values []any, cmp func(a, b float64) bool) bool {
	a, ok := toFloat(actual)
	if !ok {
		return false
	}
	for _, v := range values {
		b, ok := toFloat(v)
		if ok && cmp(a, b) {
			return true
		}
	}
	return false
}

// valueEquals 值相等比较。都是数值时按数值比较，否则按字符串比较（大小写不敏感）。
func valueEquals(actual, want any) bool {
	if a, ok := toFloat(actual); ok {
		if b, ok := toFloat(want); ok {
			return a == b
		}
	}
	return strings.EqualFold(stringify(actual), stringify(want))
}

// toFloat 尝试把值转换为 float64
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// lowered 字符串匹配统一小写比较
func lowered(v any) string {
	return strings.ToLower(stringify(v))
}

// stringify 把值转换为比较用的字符串
func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}
