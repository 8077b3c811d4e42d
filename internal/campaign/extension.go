// Package campaign 是扩展入口，把宿主事件路由到各内部组件
package campaign

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"

	"campaignkit/internal/assets"
	"campaignkit/internal/engine"
	"campaignkit/internal/hitqueue"
	"campaignkit/internal/logger"
	"campaignkit/internal/messages"
	"campaignkit/internal/rulesdl"
	"campaignkit/internal/state"
	"campaignkit/internal/storage/repo"
	"campaignkit/pkg/domain"
	"campaignkit/pkg/rulespec"
)

// EventDispatcher 向宿主事件总线回发事件
type EventDispatcher interface {
	Dispatch(evt *domain.Event)
}

// Config 扩展装配参数
type Config struct {
	State    *state.State
	Engine   *engine.Engine
	Rules    *rulesdl.Downloader
	Queue    *hitqueue.Queue
	Settings *repo.SettingsRepo
	Assets   *assets.Cache
	UI       messages.UIService
	Out      EventDispatcher
	Logger   logger.Logger
}

// Extension 扩展主体。宿主按序投递事件，内部不再另起事件协程。
type Extension struct {
	state    *state.State
	engine   *engine.Engine
	rules    *rulesdl.Downloader
	queue    *hitqueue.Queue
	settings *repo.SettingsRepo
	assets   *assets.Cache
	ui       messages.UIService
	out      EventDispatcher
	log      logger.Logger

	mu                   sync.Mutex
	linkageFields        string // Base64(JSON) 形式，仅驻留内存
	hasCachedRulesLoaded bool
	hasToDownloadRules   bool
}

// New 创建扩展实例
func New(cfg Config) *Extension {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.State == nil {
		cfg.State = state.New()
	}
	return &Extension{
		state:              cfg.State,
		engine:             cfg.Engine,
		rules:              cfg.Rules,
		queue:              cfg.Queue,
		settings:           cfg.Settings,
		assets:             cfg.Assets,
		ui:                 cfg.UI,
		out:                cfg.Out,
		log:                cfg.Logger,
		hasToDownloadRules: true,
	}
}

// Name 扩展注册名
func (e *Extension) Name() string { return ExtensionName }

// HandleEvent 宿主事件统一入口。
// 先路由专有处理器，再把事件交给规则引擎做通配评估。
func (e *Extension) HandleEvent(ctx context.Context, evt *domain.Event) {
	if evt == nil {
		e.log.Debug("收到空事件，忽略")
		return
	}

	switch {
	case evt.Type == domain.EventTypeCampaign && evt.Source == domain.EventSourceRequestIdentity:
		e.handleLinkageFields(ctx, evt)
	case evt.Type == domain.EventTypeCampaign && evt.Source == domain.EventSourceRequestReset:
		e.handleResetLinkageFields(ctx)
	case evt.Type == domain.EventTypeConfiguration && evt.Source == domain.EventSourceResponseContent:
		e.processConfigurationResponse(ctx, evt)
	case evt.Type == domain.EventTypeGenericData && evt.Source == domain.EventSourceOS:
		e.processMessageInformation(ctx, evt)
	case evt.Type == domain.EventTypeLifecycle && evt.Source == domain.EventSourceResponseContent:
		e.processLifecycleUpdate(ctx, evt)
	case evt.Type == domain.EventTypeHub && evt.Source == domain.EventSourceSharedState:
		e.handleSharedState(ctx, evt)
	}

	e.evaluateEvent(ctx, evt)
}

// processConfigurationResponse 吸收配置快照:
// 冷启动恢复缓存规则、向队列转达隐私变化、按条件触发规则下载
func (e *Extension) processConfigurationResponse(ctx context.Context, evt *domain.Event) {
	if len(evt.Data) == 0 {
		e.log.Debug("配置事件数据为空，忽略")
		return
	}

	e.state.UpdateConfiguration(evt.Data)

	e.mu.Lock()
	if !e.hasCachedRulesLoaded && e.rules != nil && e.rules.LoadCachedRules(ctx) {
		e.hasCachedRulesLoaded = true
	}
	e.mu.Unlock()

	snap := e.state.Snapshot()
	if e.queue != nil {
		e.queue.HandlePrivacyChange(ctx, snap.PrivacyStatus)
	}
	if snap.PrivacyStatus == domain.PrivacyOptOut {
		e.processPrivacyOptOut(ctx)
		return
	}

	// 配置事件是规则下载的天然重试触发点:
	// 条件具备就下载（配置变更、上次暂时失败都靠这里补救），
	// 不具备则挂起等身份共享状态到达后重试
	canDownload := snap.CanDownloadRules()
	e.mu.Lock()
	e.hasToDownloadRules = !canDownload
	e.mu.Unlock()

	if canDownload {
		e.triggerRulesDownload(ctx)
	} else {
		e.log.Debug("当前状态不满足规则下载条件，等待后续状态")
	}
}

// handleSharedState 身份共享状态到达后补触发被搁置的规则下载
func (e *Extension) handleSharedState(ctx context.Context, evt *domain.Event) {
	owner, _ := evt.Data[keyStateOwner].(string)
	if owner != identityStateOwner {
		return
	}

	e.state.UpdateIdentity(evt.Data)

	snap := e.state.Snapshot()
	e.mu.Lock()
	shouldDownload := e.hasToDownloadRules && snap.CanDownloadRules()
	if shouldDownload {
		e.hasToDownloadRules = false
	}
	e.mu.Unlock()

	if shouldDownload {
		e.triggerRulesDownload(ctx)
	}
}

// processPrivacyOptOut 隐私退出: 清关联字段、注销规则、清空缓存与持久化
func (e *Extension) processPrivacyOptOut(ctx context.Context) {
	e.log.Info("隐私状态退出，清理全部本地数据")

	e.mu.Lock()
	e.linkageFields = ""
	e.hasToDownloadRules = true
	e.mu.Unlock()

	// 旧访客标识作废，重新授权后等新的身份共享状态再下载
	e.state.ClearIdentity()

	if e.rules != nil {
		e.rules.Unregister(ctx)
	}
	if e.assets != nil {
		if err := e.assets.ClearAll(); err != nil {
			e.log.Err(err, "清理消息资源缓存失败")
		}
	}
	if e.settings != nil {
		if err := e.settings.ClearRegistration(ctx); err != nil {
			e.log.Err(err, "清理持久化注册信息失败")
		}
	}
}

// triggerRulesDownload 构造规则包地址并交给下载编排器
func (e *Extension) triggerRulesDownload(ctx context.Context) {
	snap := e.state.Snapshot()
	if !snap.CanDownloadRules() {
		e.log.Debug("当前状态不满足规则下载条件")
		return
	}

	url := fmt.Sprintf(rulesDownloadURLFormat,
		snap.MciasServer, snap.Server, snap.PropertyID, snap.ExperienceCloudID)

	var header map[string]string
	e.mu.Lock()
	if e.linkageFields != "" {
		header = map[string]string{LinkageHeaderName: e.linkageFields}
	}
	e.mu.Unlock()

	if e.rules == nil {
		e.log.Warn("规则下载编排器不可用")
		return
	}
	e.rules.LoadRulesFromURL(ctx, url, header)
}

// processMessageInformation 处理消息交互上报，必要时回发响应事件并入队追踪命中
func (e *Extension) processMessageInformation(ctx context.Context, evt *domain.Event) {
	snap := e.state.Snapshot()
	if !snap.CanSendTrackInfo() {
		e.log.Debug("当前状态不满足消息追踪条件")
		return
	}
	if len(evt.Data) == 0 {
		e.log.Debug("消息追踪事件数据为空，忽略")
		return
	}

	broadlogID, _ := evt.Data[keyBroadlogID].(string)
	deliveryID, _ := evt.Data[keyDeliveryID].(string)
	action, _ := evt.Data[keyAction].(string)
	if broadlogID == "" || deliveryID == "" || action == "" {
		e.log.Debug("消息追踪字段不完整，忽略",
			"broadlogId", broadlogID, "deliveryId", deliveryID, "action", action)
		return
	}

	e.dispatchMessageEvent(action, deliveryID)

	url := fmt.Sprintf(trackingURLFormat,
		snap.Server, broadlogID, deliveryID, action, snap.ExperienceCloudID)
	e.processRequest(ctx, url, "", evt)
}

// dispatchMessageEvent 浏览("1")与点击("2")动作回发 campaign 响应事件，
// messageId 为十六进制 deliveryId 转十进制
func (e *Extension) dispatchMessageEvent(action, deliveryID string) {
	var actionKey string
	switch action {
	case domain.ActionClicked:
		actionKey = messages.ContextKeyMessageClicked
	case domain.ActionViewed:
		actionKey = messages.ContextKeyMessageViewed
	default:
		return
	}

	messageID, err := strconv.ParseInt(deliveryID, 16, 64)
	if err != nil {
		e.log.Debug("deliveryId 不是合法的十六进制", "deliveryId", deliveryID)
		return
	}

	e.DispatchMessageInteraction(map[string]any{
		messages.ContextKeyMessageID: strconv.FormatInt(messageID, 10),
		actionKey:                    "1",
	})
}

// processLifecycleUpdate 生命周期启动时发起注册请求
func (e *Extension) processLifecycleUpdate(ctx context.Context, evt *domain.Event) {
	snap := e.state.Snapshot()
	if !snap.CanRegister() {
		e.log.Debug("当前状态不满足注册条件")
		return
	}

	url := fmt.Sprintf(registrationURLFormat, snap.Server, snap.Pkey, snap.ExperienceCloudID)
	payload, _ := sjson.Set("", "pushPlatform", registrationPlatform)
	payload, _ = sjson.Set(payload, "marketingCloudId", snap.ExperienceCloudID)
	e.processRequest(ctx, url, payload, evt)
}

// processRequest 入队一次网络命中。
// 带 payload 的是注册请求，先过注册准入策略；追踪请求直接入队。
func (e *Extension) processRequest(ctx context.Context, url, payload string, evt *domain.Event) {
	if payload != "" && !e.shouldSendRegistrationRequest(ctx, evt) {
		return
	}
	if e.queue == nil {
		e.log.Warn("命中队列不可用，丢弃请求", "url", url)
		return
	}

	snap := e.state.Snapshot()
	hit := &hitqueue.Hit{URL: url, Payload: payload, Timeout: snap.Timeout}
	if err := e.queue.Enqueue(ctx, hit); err != nil {
		e.log.Err(err, "命中入队失败", "url", url)
		return
	}
	e.log.Debug("命中已入队", "url", url)
}

// shouldSendRegistrationRequest 注册准入:
// 未暂停，且 (ecid 变化——同时立即更新备忘——或距上次注册已满延迟天数)
func (e *Extension) shouldSendRegistrationRequest(ctx context.Context, evt *domain.Event) bool {
	snap := e.state.Snapshot()
	if snap.RegistrationPaused {
		e.log.Debug("注册请求已暂停")
		return false
	}
	if e.settings == nil {
		return true
	}

	current := snap.ExperienceCloudID
	if stored := e.settings.GetExperienceCloudID(ctx); stored != current {
		e.log.Debug("体验云 ID 已变化，立即注册", "ecid", current)
		if err := e.settings.SetExperienceCloudID(ctx, current); err != nil {
			e.log.Err(err, "体验云 ID 持久化失败")
		}
		return true
	}

	last := e.settings.GetRegistrationTimestamp(ctx)
	delay := time.Duration(snap.RegistrationDelayDays) * 24 * time.Hour
	eventTime := time.UnixMilli(evt.Timestamp)
	if eventTime.Sub(last) >= delay {
		e.log.Debug("注册延迟已满", "delayDays", snap.RegistrationDelayDays)
		return true
	}

	e.log.Debug("注册延迟未满，跳过本次注册", "delayDays", snap.RegistrationDelayDays)
	return false
}

// handleLinkageFields 设置关联字段并强制个性化规则下载
func (e *Extension) handleLinkageFields(ctx context.Context, evt *domain.Event) {
	if len(evt.Data) == 0 {
		e.log.Debug("关联字段事件数据为空，忽略")
		return
	}

	fields := stringMap(evt.Data[keyLinkageFields])
	if len(fields) == 0 {
		e.log.Debug("关联字段为空，忽略")
		return
	}

	encoded, err := EncodeLinkageFields(fields)
	if err != nil {
		e.log.Err(err, "关联字段编码失败")
		return
	}

	e.mu.Lock()
	e.linkageFields = encoded
	e.mu.Unlock()

	// 设置即失效缓存，保证之后第一次下载不会被 304 短路掉个性化内容
	if e.rules != nil {
		e.rules.InvalidateCache()
	}

	snap := e.state.Snapshot()
	if !snap.CanDownloadRules() {
		e.mu.Lock()
		e.hasToDownloadRules = true
		e.mu.Unlock()
		e.log.Debug("当前状态不满足规则下载条件，关联字段已暂存")
		return
	}
	e.triggerRulesDownload(ctx)
}

// handleResetLinkageFields 清除关联字段，注销规则后重新下载通用规则包
func (e *Extension) handleResetLinkageFields(ctx context.Context) {
	e.mu.Lock()
	e.linkageFields = ""
	e.mu.Unlock()

	if e.engine != nil {
		e.engine.Update(nil)
	}
	if e.rules != nil {
		e.rules.InvalidateCache()
	}

	snap := e.state.Snapshot()
	if !snap.CanDownloadRules() {
		e.mu.Lock()
		e.hasToDownloadRules = true
		e.mu.Unlock()
		e.log.Debug("当前状态不满足规则下载条件，通用规则待后续触发恢复")
		return
	}
	e.triggerRulesDownload(ctx)
}

// evaluateEvent 通配评估: 命中规则时取第一条 consequence 构造并展示消息
func (e *Extension) evaluateEvent(ctx context.Context, evt *domain.Event) {
	if e.engine == nil {
		return
	}
	consequences := e.engine.Evaluate(evt)

	// 取第一条消息类 consequence，其余类型留给宿主处理
	var target *domain.Consequence
	for i := range consequences {
		if consequences[i].Type == rulespec.ConsequenceTypeInApp {
			target = &consequences[i]
			break
		}
	}
	if target == nil {
		return
	}

	msg, err := messages.CreateMessage(*target, messages.Deps{
		UI:       e.ui,
		Dispatch: e,
		Assets:   e.assets,
		Log:      e.log,
	})
	if err != nil {
		e.log.Err(err, "消息定义不完整", "consequenceId", target.ID)
		return
	}
	if msg != nil {
		msg.Show()
	}
}

// DispatchMessageInteraction 把消息交互回发为 campaign 响应事件
func (e *Extension) DispatchMessageInteraction(data map[string]any) {
	if e.out == nil {
		e.log.Warn("事件回发通道不可用")
		return
	}
	e.out.Dispatch(&domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventTypeCampaign,
		Source:    domain.EventSourceResponseContent,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	})
}

// DispatchMessageInfo 把投递追踪信息回发为 generic data 事件
func (e *Extension) DispatchMessageInfo(broadlogID, deliveryID, action string) {
	if e.out == nil {
		e.log.Warn("事件回发通道不可用")
		return
	}
	e.out.Dispatch(&domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventTypeGenericData,
		Source:    domain.EventSourceOS,
		Timestamp: time.Now().UnixMilli(),
		Data: map[string]any{
			keyBroadlogID: broadlogID,
			keyDeliveryID: deliveryID,
			keyAction:     action,
		},
	})
}

// LinkageFields 返回当前关联字段请求头值，仅用于观测
func (e *Extension) LinkageFields() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.linkageFields
}

// stringMap 把事件数据中的 map 归一化为字符串映射
func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
