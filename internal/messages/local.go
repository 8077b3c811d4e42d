package messages

import (
	"campaignkit/pkg/domain"
	"campaignkit/pkg/errx"
)

// LocalNotificationMessage 本地通知消息
type LocalNotificationMessage struct {
	base
	content  string
	deeplink string
	sound    string
	title    string
	userData map[string]any
	fireDate int64
	delay    int
}

func newLocalNotificationMessage(c domain.Consequence, deps Deps) (Message, error) {
	m := &LocalNotificationMessage{base: base{id: c.ID, deps: deps}}

	m.content = detailString(c.Detail, detailKeyContent)
	if m.content == "" {
		return nil, errx.New(errx.CodeRequiredFieldMissing, "本地通知 content 缺失")
	}

	// 优先使用 date 指定的触发时刻，否则退回 wait 延迟，两者均可选
	m.fireDate = detailInt64(c.Detail, detailKeyFireDate, -1)
	if m.fireDate <= 0 {
		m.delay = int(detailInt64(c.Detail, detailKeyWait, 0))
	}

	m.deeplink = detailString(c.Detail, detailKeyDeeplink)
	m.sound = detailString(c.Detail, detailKeySound)
	m.title = detailString(c.Detail, detailKeyTitle)
	m.userData = detailMap(c.Detail, detailKeyUserData)

	return m, nil
}

func (m *LocalNotificationMessage) Show() {
	m.triggered()

	// userData 携带投递标识时回发展示追踪
	_, hasBroadlog := m.userData[UserDataKeyBroadlogID]
	_, hasDelivery := m.userData[UserDataKeyDeliveryID]
	if hasBroadlog && hasDelivery {
		broadlogID := detailString(m.userData, UserDataKeyBroadlogID)
		deliveryID := detailString(m.userData, UserDataKeyDeliveryID)
		if (broadlogID != "" || deliveryID != "") && m.deps.Dispatch != nil {
			m.deps.Dispatch.DispatchMessageInfo(broadlogID, deliveryID, domain.ActionTriggered)
		}
	}

	if m.deps.UI == nil {
		m.deps.Log.Warn("UI 服务不可用，无法调度本地通知", "messageId", m.id)
		return
	}
	m.deps.UI.ShowLocalNotification(NotificationSetting{
		ID:       m.id,
		Content:  m.content,
		FireDate: m.fireDate,
		Delay:    m.delay,
		Deeplink: m.deeplink,
		Sound:    m.sound,
		Title:    m.title,
		UserData: m.userData,
	})
}

func (m *LocalNotificationMessage) ShouldDownloadAssets() bool { return false }
