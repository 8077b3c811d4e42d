// Package rulespec 定义规则文件 rules.json 的类型规范
package rulespec

import (
	"github.com/google/uuid"

	"campaignkit/pkg/domain"
)

// 规则文件版本常量
const (
	DefaultVersion = 1 // 默认规则文件版本
)

// Document 规则文件根结构
type Document struct {
	Version int    `json:"version"`
	Rules   []Rule `json:"rules"`
}

// NewDocument 创建一个新的空规则文件
func NewDocument() *Document {
	return &Document{
		Version: DefaultVersion,
		Rules:   []Rule{},
	}
}

// Rule 单条规则：条件树命中后触发消费体列表
type Rule struct {
	ID           string               `json:"id,omitempty"`
	Condition    Condition            `json:"condition"`
	Consequences []domain.Consequence `json:"consequences"`
}

// NewRule 创建一条新规则（带 UUID）
func NewRule() Rule {
	return Rule{
		ID:           uuid.New().String(),
		Consequences: []domain.Consequence{},
	}
}

// ConditionType 条件节点类型
type ConditionType string

const (
	ConditionGroup   ConditionType = "group"   // 组合节点，按逻辑连接子条件
	ConditionMatcher ConditionType = "matcher" // 叶子节点，对事件字段做比较
)

// LogicType 组合节点的逻辑连接方式
type LogicType string

const (
	LogicAnd LogicType = "and"
	LogicOr  LogicType = "or"
)

// MatcherType 叶子节点比较算子
type MatcherType string

const (
	MatcherEquals         MatcherType = "eq" // 相等（大小写不敏感）
	MatcherNotEquals      MatcherType = "ne" // 不相等
	MatcherExists         MatcherType = "ex" // 键存在
	MatcherNotExists      MatcherType = "nx" // 键不存在
	MatcherContains       MatcherType = "co" // 包含子串
	MatcherNotContains    MatcherType = "nc" // 不包含子串
	MatcherStartsWith     MatcherType = "sw" // 前缀匹配
	MatcherEndsWith       MatcherType = "ew" // 后缀匹配
	MatcherGreaterThan    MatcherType = "gt" // 数值大于
	MatcherGreaterOrEqual MatcherType = "ge" // 数值大于等于
	MatcherLessThan       MatcherType = "lt" // 数值小于
	MatcherLessOrEqual    MatcherType = "le" // 数值小于等于
)

// Condition 条件树节点，Group 与 Matcher 二选一
type Condition struct {
	Type       ConditionType `json:"type"`
	Logic      LogicType     `json:"logic,omitempty"`      // 组合节点生效
	Conditions []Condition   `json:"conditions,omitempty"` // 组合节点生效
	Key        string        `json:"key,omitempty"`        // 叶子节点生效
	Matcher    MatcherType   `json:"matcher,omitempty"`    // 叶子节点生效
	Values     []any         `json:"values,omitempty"`     // 叶子节点生效
}

// IsGroup 是否为组合节点
func (c *Condition) IsGroup() bool { return c.Type == ConditionGroup }

// 消费体类型与模板常量
const (
	ConsequenceTypeInApp = "iam" // 应用内消息

	TemplateAlert             = "alert"
	TemplateFullScreen        = "fullscreen"
	TemplateLocalNotification = "local"
)
