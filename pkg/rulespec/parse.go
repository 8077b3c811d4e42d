package rulespec

import (
	"fmt"

	"github.com/tidwall/gjson"

	"campaignkit/pkg/domain"
)

// Parse 解析 rules.json 内容；结构非法时返回错误
func Parse(data []byte) (*Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("rules document is not valid json")
	}
	root := gjson.ParseBytes(data)

	doc := NewDocument()
	if v := root.Get("version"); v.Exists() {
		doc.Version = int(v.Int())
	}

	rulesNode := root.Get("rules")
	if !rulesNode.Exists() || !rulesNode.IsArray() {
		return nil, fmt.Errorf("rules document missing rules array")
	}

	var parseErr error
	rulesNode.ForEach(func(idx, r gjson.Result) bool {
		rule, err := parseRule(r)
		if err != nil {
			parseErr = fmt.Errorf("rule %d: %w", int(idx.Int()), err)
			return false
		}
		doc.Rules = append(doc.Rules, rule)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return doc, nil
}

func parseRule(r gjson.Result) (Rule, error) {
	rule := Rule{ID: r.Get("id").String()}

	cond := r.Get("condition")
	if !cond.Exists() {
		return rule, fmt.Errorf("missing condition")
	}
	c, err := parseCondition(cond)
	if err != nil {
		return rule, err
	}
	rule.Condition = c

	cons := r.Get("consequences")
	if !cons.Exists() || !cons.IsArray() {
		return rule, fmt.Errorf("missing consequences array")
	}
	cons.ForEach(func(_, cq gjson.Result) bool {
		rule.Consequences = append(rule.Consequences, parseConsequence(cq))
		return true
	})
	return rule, nil
}

func parseCondition(c gjson.Result) (Condition, error) {
	typ := ConditionType(c.Get("type").String())
	switch typ {
	case ConditionGroup:
		group := Condition{Type: ConditionGroup, Logic: LogicType(c.Get("logic").String())}
		if group.Logic != LogicAnd && group.Logic != LogicOr {
			return group, fmt.Errorf("group condition has unknown logic %q", group.Logic)
		}
		children := c.Get("conditions")
		if !children.IsArray() {
			return group, fmt.Errorf("group condition missing conditions array")
		}
		var childErr error
		children.ForEach(func(_, ch gjson.Result) bool {
			sub, err := parseCondition(ch)
			if err != nil {
				childErr = err
				return false
			}
			group.Conditions = append(group.Conditions, sub)
			return true
		})
		return group, childErr
	case ConditionMatcher:
		m := Condition{
			Type:    ConditionMatcher,
			Key:     c.Get("key").String(),
			Matcher: MatcherType(c.Get("matcher").String()),
		}
		if m.Key == "" {
			return m, fmt.Errorf("matcher condition missing key")
		}
		c.Get("values").ForEach(func(_, v gjson.Result) bool {
			m.Values = append(m.Values, v.Value())
			return true
		})
		return m, nil
	default:
		return Condition{}, fmt.Errorf("unknown condition type %q", typ)
	}
}

func parseConsequence(cq gjson.Result) domain.Consequence {
	out := domain.Consequence{
		ID:   cq.Get("id").String(),
		Type: cq.Get("type").String(),
	}
	if detail := cq.Get("detail"); detail.IsObject() {
		m, _ := detail.Value().(map[string]any)
		out.Detail = m
	}
	return out
}
