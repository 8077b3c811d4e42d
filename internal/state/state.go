// Package state 维护组件运行所需的配置与身份快照
package state

import (
	"sync"
	"time"

	"campaignkit/pkg/domain"

	"campaignkit/internal/config"
)

// 配置事件数据中的键
const (
	KeyPrivacyStatus      = "global.privacy"
	KeyPropertyID         = "property.id"
	KeyServer             = "campaign.server"
	KeyPkey               = "campaign.pkey"
	KeyMciasServer        = "campaign.mcias"
	KeyTimeout            = "campaign.timeout"
	KeyRegistrationDelay  = "campaign.registrationDelay"
	KeyRegistrationPaused = "campaign.registrationPaused"

	// 身份事件数据中的键
	KeyExperienceCloudID = "mid"
)

// Snapshot 某一时刻的配置与身份视图
type Snapshot struct {
	PrivacyStatus         domain.PrivacyStatus
	PropertyID            string
	Server                string
	Pkey                  string
	MciasServer           string
	Timeout               time.Duration
	RegistrationDelayDays int
	RegistrationPaused    bool
	ExperienceCloudID     string
}

// CanDownloadRules 是否具备下载规则包的全部前置条件
func (s Snapshot) CanDownloadRules() bool {
	return s.PrivacyStatus == domain.PrivacyOptIn &&
		s.ExperienceCloudID != "" &&
		s.MciasServer != "" &&
		s.Server != "" &&
		s.PropertyID != ""
}

// CanRegister 是否具备发送注册请求的全部前置条件
func (s Snapshot) CanRegister() bool {
	return s.PrivacyStatus == domain.PrivacyOptIn &&
		s.ExperienceCloudID != "" &&
		s.Server != "" &&
		s.Pkey != ""
}

// CanSendTrackInfo 是否具备发送交互上报的全部前置条件
func (s Snapshot) CanSendTrackInfo() bool {
	return s.PrivacyStatus == domain.PrivacyOptIn &&
		s.ExperienceCloudID != "" &&
		s.Server != ""
}

// State 并发安全的快照持有者
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// New 创建初始状态，运行期参数取默认值
func New() *State {
	defaults := config.GetDefaultSettings()
	return &State{
		snap: Snapshot{
			PrivacyStatus:         domain.PrivacyUnknown,
			Timeout:               defaults.RequestTimeout,
			RegistrationDelayDays: defaults.RegistrationDelayDays,
		},
	}
}

// Snapshot 返回当前快照副本
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// UpdateConfiguration 吸收一次配置事件，缺失的键保持原值
func (s *State) UpdateConfiguration(data map[string]any) {
	if data == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := stringValue(data, KeyPrivacyStatus); ok {
		s.snap.PrivacyStatus = domain.ParsePrivacyStatus(v)
	}
	if v, ok := stringValue(data, KeyPropertyID); ok {
		s.snap.PropertyID = v
	}
	if v, ok := stringValue(data, KeyServer); ok {
		s.snap.Server = v
	}
	if v, ok := stringValue(data, KeyPkey); ok {
		s.snap.Pkey = v
	}
	if v, ok := stringValue(data, KeyMciasServer); ok {
		s.snap.MciasServer = v
	}
	if v, ok := intValue(data, KeyTimeout); ok && v > 0 {
		s.snap.Timeout = time.Duration(v) * time.Second
	}
	if v, ok := intValue(data, KeyRegistrationDelay); ok && v >= 0 {
		s.snap.RegistrationDelayDays = v
	}
	if v, ok := data[KeyRegistrationPaused]; ok {
		if b, isBool := v.(bool); isBool {
			s.snap.RegistrationPaused = b
		}
	}
}

// UpdateIdentity 吸收一次身份事件
func (s *State) UpdateIdentity(data map[string]any) {
	if data == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := stringValue(data, KeyExperienceCloudID); ok {
		s.snap.ExperienceCloudID = v
	}
}

// ClearIdentity 清空访客标识。
// 隐私退出后调用，旧标识不得再参与任何请求构造
func (s *State) ClearIdentity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ExperienceCloudID = ""
}

// stringValue 从事件数据中取字符串值
func stringValue(data map[string]any, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}

// intValue 从事件数据中取整数值，兼容 JSON 反序列化出的 float64
func intValue(data map[string]any, key string) (int, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
