package messages

import (
	neturl "net/url"
	"strings"

	"campaignkit/internal/assets"
	"campaignkit/internal/logger"
	"campaignkit/pkg/domain"
	"campaignkit/pkg/errx"
	"campaignkit/pkg/rulespec"
)

// 应用内消息回传 URI 协议: adbinapp://{confirm|cancel}?id={broadlogId},{deliveryId},{tagId}&url={encoded}
const (
	SchemeInApp       = "adbinapp"
	SchemeHostConfirm = "confirm"
	SchemeHostCancel  = "cancel"
)

const (
	tagIDButtonOne   = 3
	tagIDButtonTwo   = 4
	tagIDButtonClose = 5

	idTokenCount   = 3
	tokenMessageID = "messageId"
)

// 交互回传查询参数键
const (
	InteractionKeyID   = "id"
	InteractionKeyURL  = "url"
	InteractionKeyType = "type"
)

// 埋点上下文数据键
const (
	ContextKeyMessageID        = "a.message.id"
	ContextKeyMessageTriggered = "a.message.triggered"
	ContextKeyMessageViewed    = "a.message.viewed"
	ContextKeyMessageClicked   = "a.message.clicked"
)

// consequence detail 字段键
const (
	detailKeyTemplate     = "template"
	detailKeyTitle        = "title"
	detailKeyContent      = "content"
	detailKeyConfirm      = "confirm"
	detailKeyCancel       = "cancel"
	detailKeyURL          = "url"
	detailKeyHTML         = "html"
	detailKeyRemoteAssets = "remoteAssets"
	detailKeyWait         = "wait"
	detailKeyFireDate     = "date"
	detailKeyDeeplink     = "adb_deeplink"
	detailKeySound        = "sound"
	detailKeyUserData     = "userData"
)

// userData 中的投递追踪键
const (
	UserDataKeyBroadlogID = "broadlogId"
	UserDataKeyDeliveryID = "deliveryId"
)

// Message 已解析的应用内消息，Show 将其交给宿主 UI 呈现
type Message interface {
	Show()
	ShouldDownloadAssets() bool
}

// AlertSetting 弹窗消息的呈现参数
type AlertSetting struct {
	Title   string
	Content string
	Confirm string
	Cancel  string
}

// AlertListener 弹窗交互回调，由宿主 UI 驱动
type AlertListener interface {
	OnShow()
	OnDismiss()
	OnPositive()
	OnNegative()
}

// FullScreenSetting 全屏 HTML 消息的呈现参数
type FullScreenSetting struct {
	HTML        string
	LocalAssets map[string]string // 远端资源 URL -> 本地缓存路径
}

// FullScreenListener 全屏消息交互回调
type FullScreenListener interface {
	OnShow()
	OnDismiss()
	// OverrideURLLoad 处理消息内点击的 URL，返回 true 表示已处理、宿主应关闭消息
	OverrideURLLoad(url string) bool
	OnShowFailure()
}

// NotificationSetting 本地通知的调度参数
type NotificationSetting struct {
	ID       string
	Content  string
	FireDate int64 // epoch 秒，>0 时优先于 Delay
	Delay    int   // 延迟秒数
	Deeplink string
	Sound    string
	Title    string
	UserData map[string]any
}

// UIService 宿主平台的 UI 渲染能力
type UIService interface {
	ShowAlert(s AlertSetting, l AlertListener)
	ShowFullScreen(s FullScreenSetting, l FullScreenListener)
	ShowLocalNotification(s NotificationSetting)
	OpenURL(url string) error
}

// Dispatcher 消息交互与投递信息的回发通道
type Dispatcher interface {
	DispatchMessageInteraction(data map[string]any)
	DispatchMessageInfo(broadlogID, deliveryID, action string)
}

// Deps 消息变体共享的协作者
type Deps struct {
	UI       UIService
	Dispatch Dispatcher
	Assets   *assets.Cache
	Log      logger.Logger
}

type parserFunc func(c domain.Consequence, deps Deps) (Message, error)

var parsers = map[string]parserFunc{
	rulespec.TemplateAlert:             newAlertMessage,
	rulespec.TemplateFullScreen:        newFullScreenMessage,
	rulespec.TemplateLocalNotification: newLocalNotificationMessage,
}

// CreateMessage 按 detail.template 构造消息变体。
// 未知模板不是错误，返回 (nil, nil) 并记录日志。
func CreateMessage(c domain.Consequence, deps Deps) (Message, error) {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	if c.ID == "" || c.Type != rulespec.ConsequenceTypeInApp || len(c.Detail) == 0 {
		return nil, errx.New(errx.CodeRequiredFieldMissing, "消息 consequence 缺少 id/type/detail")
	}

	tmpl := detailString(c.Detail, detailKeyTemplate)
	if tmpl == "" {
		return nil, errx.New(errx.CodeRequiredFieldMissing, "消息模板缺失")
	}

	parse, ok := parsers[tmpl]
	if !ok {
		deps.Log.Debug("未知的消息模板，跳过", "template", tmpl, "consequenceId", c.ID)
		return nil, nil
	}
	return parse(c, deps)
}

// ExtractAssetURLs 提取 consequence 中可下载的远端资源 URL，供预取使用
func ExtractAssetURLs(c domain.Consequence) []string {
	var urls []string
	for _, group := range detailAssetGroups(c.Detail) {
		for _, candidate := range group {
			if isRemoteURL(candidate) {
				urls = append(urls, candidate)
			}
		}
	}
	return urls
}

// base 各消息变体共享的埋点派发逻辑
type base struct {
	id   string
	deps Deps
}

func (b *base) triggered() { b.dispatchInteraction(ContextKeyMessageTriggered) }

func (b *base) viewed() { b.dispatchInteraction(ContextKeyMessageViewed) }

func (b *base) clickedThrough() { b.dispatchInteraction(ContextKeyMessageClicked) }

// clickedWithData 点击埋点带附加数据，url 值先解码再展开 messageId 标记并交给宿主打开
func (b *base) clickedWithData(data map[string]string) {
	messageData := make(map[string]any, len(data)+2)

	for key, value := range data {
		if key != InteractionKeyURL {
			messageData[key] = value
			continue
		}

		url := value
		if decoded, err := neturl.QueryUnescape(value); err == nil {
			url = decoded
		} else {
			b.deps.Log.Warn("消息点击 URL 解码失败", "url", value, "error", err.Error())
		}
		url = strings.ReplaceAll(url, tokenMessageID, b.id)

		if b.deps.UI != nil {
			if err := b.deps.UI.OpenURL(url); err != nil {
				b.deps.Log.Warn("打开消息点击 URL 失败", "url", url, "error", err.Error())
			}
		}
		messageData[key] = url
	}

	messageData[ContextKeyMessageID] = b.id
	messageData[ContextKeyMessageClicked] = "1"
	b.dispatch(messageData)
}

func (b *base) dispatchInteraction(key string) {
	b.dispatch(map[string]any{
		ContextKeyMessageID: b.id,
		key:                 "1",
	})
}

func (b *base) dispatch(data map[string]any) {
	if b.deps.Dispatch == nil {
		b.deps.Log.Warn("消息交互派发器不可用", "messageId", b.id)
		return
	}
	b.deps.Dispatch.DispatchMessageInteraction(data)
}

func detailString(detail map[string]any, key string) string {
	s, _ := detail[key].(string)
	return s
}

func detailInt64(detail map[string]any, key string, def int64) int64 {
	switch v := detail[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return def
	}
}

func detailMap(detail map[string]any, key string) map[string]any {
	m, _ := detail[key].(map[string]any)
	return m
}

// detailAssetGroups 解析 remoteAssets 字段，每组是一个有序候选列表
func detailAssetGroups(detail map[string]any) [][]string {
	raw, ok := detail[detailKeyRemoteAssets].([]any)
	if !ok {
		return nil
	}

	var groups [][]string
	for _, entry := range raw {
		items, ok := entry.([]any)
		if !ok {
			continue
		}
		var group []string
		for _, item := range items {
			if s, ok := item.(string); ok && s != "" {
				group = append(group, s)
			}
		}
		if len(group) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

func isRemoteURL(s string) bool {
	u, err := neturl.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
