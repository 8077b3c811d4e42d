package domain

// EventType 事件类型
type EventType string

// EventSource 事件来源
type EventSource string

const (
	EventTypeCampaign      EventType = "com.adobe.eventType.campaign"
	EventTypeConfiguration EventType = "com.adobe.eventType.configuration"
	EventTypeLifecycle     EventType = "com.adobe.eventType.lifecycle"
	EventTypeGenericData   EventType = "com.adobe.eventType.generic.data"
	EventTypeHub           EventType = "com.adobe.eventType.hub"

	EventSourceRequestContent  EventSource = "com.adobe.eventSource.requestContent"
	EventSourceResponseContent EventSource = "com.adobe.eventSource.responseContent"
	EventSourceRequestIdentity EventSource = "com.adobe.eventSource.requestIdentity"
	EventSourceRequestReset    EventSource = "com.adobe.eventSource.requestReset"
	EventSourceOS              EventSource = "com.adobe.eventSource.os"
	EventSourceSharedState     EventSource = "com.adobe.eventSource.sharedState"
)

// Event 宿主事件（配置变更、生命周期、数据上报等统一入口）
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    EventSource    `json:"source"`
	Timestamp int64          `json:"timestamp"` // Unix 毫秒
	Data      map[string]any `json:"data,omitempty"`
}

// PrivacyStatus 隐私授权状态
type PrivacyStatus string

const (
	PrivacyOptIn   PrivacyStatus = "optedin"
	PrivacyOptOut  PrivacyStatus = "optedout"
	PrivacyUnknown PrivacyStatus = "optunknown"
)

// ParsePrivacyStatus 解析隐私状态字符串，未知值归为 Unknown
func ParsePrivacyStatus(s string) PrivacyStatus {
	switch s {
	case string(PrivacyOptIn):
		return PrivacyOptIn
	case string(PrivacyOptOut):
		return PrivacyOptOut
	default:
		return PrivacyUnknown
	}
}

// Consequence 规则命中后的消费体（规则文件 rules.json 中定义）
type Consequence struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	AssetsPath string         `json:"assetsPath,omitempty"` // 规则包解压后资源根目录
	Detail     map[string]any `json:"detail,omitempty"`
}

// TrackInfo 消息交互上报信息
type TrackInfo struct {
	BroadlogID string `json:"broadlogId"`
	DeliveryID string `json:"deliveryId"`
	Action     string `json:"action"`
}

// 消息交互动作编码
const (
	ActionViewed    = "1"
	ActionClicked   = "2"
	ActionTriggered = "7"
)
