package state_test

import (
	"testing"
	"time"

	"campaignkit/pkg/domain"

	"campaignkit/internal/state"
)

// fullConfig 返回一份齐全的配置事件数据。
func fullConfig() map[string]any {
	return map[string]any{
		state.KeyPrivacyStatus: "optedin",
		state.KeyPropertyID:    "prop-1",
		state.KeyServer:        "campaign.example.com",
		state.KeyPkey:          "pkey-1",
		state.KeyMciasServer:   "mcias.example.com/mcias",
	}
}

func TestUpdateConfiguration(t *testing.T) {
	s := state.New()
	s.UpdateConfiguration(fullConfig())
	s.UpdateIdentity(map[string]any{state.KeyExperienceCloudID: "ecid-1"})

	snap := s.Snapshot()
	if snap.PrivacyStatus != domain.PrivacyOptIn {
		t.Errorf("PrivacyStatus = %q, want optedin", snap.PrivacyStatus)
	}
	if snap.Server != "campaign.example.com" {
		t.Errorf("Server = %q", snap.Server)
	}
	if snap.ExperienceCloudID != "ecid-1" {
		t.Errorf("ExperienceCloudID = %q", snap.ExperienceCloudID)
	}

	// 缺失的键保持原值
	s.UpdateConfiguration(map[string]any{state.KeyServer: "other.example.com"})
	snap = s.Snapshot()
	if snap.Server != "other.example.com" {
		t.Errorf("Server 未更新: %q", snap.Server)
	}
	if snap.PropertyID != "prop-1" {
		t.Errorf("PropertyID 不应被清空: %q", snap.PropertyID)
	}
}

func TestRuntimeDefaults(t *testing.T) {
	s := state.New()
	snap := s.Snapshot()

	if snap.Timeout != 5*time.Second {
		t.Errorf("默认超时 = %v, want 5s", snap.Timeout)
	}
	if snap.RegistrationDelayDays != 7 {
		t.Errorf("默认注册间隔 = %d, want 7", snap.RegistrationDelayDays)
	}
	if snap.RegistrationPaused {
		t.Error("默认不应暂停注册")
	}

	// JSON 反序列化出的数值是 float64
	s.UpdateConfiguration(map[string]any{
		state.KeyTimeout:            float64(10),
		state.KeyRegistrationDelay:  float64(30),
		state.KeyRegistrationPaused: true,
	})
	snap = s.Snapshot()
	if snap.Timeout != 10*time.Second {
		t.Errorf("超时 = %v, want 10s", snap.Timeout)
	}
	if snap.RegistrationDelayDays != 30 {
		t.Errorf("注册间隔 = %d, want 30", snap.RegistrationDelayDays)
	}
	if !snap.RegistrationPaused {
		t.Error("注册应已暂停")
	}
}

func TestGates(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(map[string]any)
		ecid          string
		wantDownload  bool
		wantRegister  bool
		wantSendTrack bool
	}{
		{
			name:          "全部条件满足",
			mutate:        func(m map[string]any) {},
			ecid:          "ecid-1",
			wantDownload:  true,
			wantRegister:  true,
			wantSendTrack: true,
		},
		{
			name:          "隐私未授权",
			mutate:        func(m map[string]any) { m[state.KeyPrivacyStatus] = "optedout" },
			ecid:          "ecid-1",
			wantDownload:  false,
			wantRegister:  false,
			wantSendTrack: false,
		},
		{
			name:          "缺少访客标识",
			mutate:        func(m map[string]any) {},
			ecid:          "",
			wantDownload:  false,
			wantRegister:  false,
			wantSendTrack: false,
		},
		{
			name:          "缺少 mcias 只影响下载",
			mutate:        func(m map[string]any) { m[state.KeyMciasServer] = "" },
			ecid:          "ecid-1",
			wantDownload:  false,
			wantRegister:  true,
			wantSendTrack: true,
		},
		{
			name:          "缺少 pkey 只影响注册",
			mutate:        func(m map[string]any) { m[state.KeyPkey] = "" },
			ecid:          "ecid-1",
			wantDownload:  true,
			wantRegister:  false,
			wantSendTrack: true,
		},
		{
			name:          "缺少 property 只影响下载",
			mutate:        func(m map[string]any) { m[state.KeyPropertyID] = "" },
			ecid:          "ecid-1",
			wantDownload:  false,
			wantRegister:  true,
			wantSendTrack: true,
		},
		{
			name:          "缺少服务器全部不可用",
			mutate:        func(m map[string]any) { m[state.KeyServer] = "" },
			ecid:          "ecid-1",
			wantDownload:  false,
			wantRegister:  false,
			wantSendTrack: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fullConfig()
			tt.mutate(cfg)

			s := state.New()
			s.UpdateConfiguration(cfg)
			if tt.ecid != "" {
				s.UpdateIdentity(map[string]any{state.KeyExperienceCloudID: tt.ecid})
			}

			snap := s.Snapshot()
			if got := snap.CanDownloadRules(); got != tt.wantDownload {
				t.Errorf("CanDownloadRules() = %v, want %v", got, tt.wantDownload)
			}
			if got := snap.CanRegister(); got != tt.wantRegister {
				t.Errorf("CanRegister() = %v, want %v", got, tt.wantRegister)
			}
			if got := snap.CanSendTrackInfo(); got != tt.wantSendTrack {
				t.Errorf("CanSendTrackInfo() = %v, want %v", got, tt.wantSendTrack)
			}
		})
	}
}
