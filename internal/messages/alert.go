package messages

import (
	"campaignkit/pkg/domain"
	"campaignkit/pkg/errx"
)

// AlertMessage 原生弹窗消息
type AlertMessage struct {
	base
	title   string
	content string
	confirm string
	cancel  string
	url     string
}

func newAlertMessage(c domain.Consequence, deps Deps) (Message, error) {
	m := &AlertMessage{base: base{id: c.ID, deps: deps}}

	m.title = detailString(c.Detail, detailKeyTitle)
	if m.title == "" {
		return nil, errx.New(errx.CodeRequiredFieldMissing, "弹窗消息 title 缺失")
	}
	m.content = detailString(c.Detail, detailKeyContent)
	if m.content == "" {
		return nil, errx.New(errx.CodeRequiredFieldMissing, "弹窗消息 content 缺失")
	}
	m.cancel = detailString(c.Detail, detailKeyCancel)
	if m.cancel == "" {
		return nil, errx.New(errx.CodeRequiredFieldMissing, "弹窗消息 cancel 缺失")
	}

	// confirm 与 url 可选
	m.confirm = detailString(c.Detail, detailKeyConfirm)
	m.url = detailString(c.Detail, detailKeyURL)

	return m, nil
}

func (m *AlertMessage) Show() {
	if m.deps.UI == nil {
		m.deps.Log.Warn("UI 服务不可用，无法显示弹窗消息", "messageId", m.id)
		return
	}
	m.deps.UI.ShowAlert(AlertSetting{
		Title:   m.title,
		Content: m.content,
		Confirm: m.confirm,
		Cancel:  m.cancel,
	}, m)
}

func (m *AlertMessage) ShouldDownloadAssets() bool { return false }

func (m *AlertMessage) OnShow() { m.triggered() }

func (m *AlertMessage) OnDismiss() { m.viewed() }

func (m *AlertMessage) OnNegative() { m.viewed() }

// OnPositive 确认按钮同时上报 viewed 与 clicked，保持既有统计口径
func (m *AlertMessage) OnPositive() {
	m.viewed()
	if m.url != "" {
		m.clickedWithData(map[string]string{InteractionKeyURL: m.url})
	} else {
		m.clickedThrough()
	}
}
