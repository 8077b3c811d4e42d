package messages

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	neturl "net/url"

	"campaignkit/pkg/domain"
	"campaignkit/pkg/errx"
)

// FullScreenMessage 全屏 HTML 消息，HTML 文件随规则包一同下发
type FullScreenMessage struct {
	base
	htmlFile   string
	assetsPath string
	assets     [][]string
}

func newFullScreenMessage(c domain.Consequence, deps Deps) (Message, error) {
	m := &FullScreenMessage{base: base{id: c.ID, deps: deps}}

	m.htmlFile = detailString(c.Detail, detailKeyHTML)
	if m.htmlFile == "" {
		return nil, errx.New(errx.CodeRequiredFieldMissing, "全屏消息 html 缺失")
	}
	m.assetsPath = c.AssetsPath

	// remoteAssets 可选
	m.assets = detailAssetGroups(c.Detail)

	return m, nil
}

func (m *FullScreenMessage) Show() {
	if m.deps.UI == nil {
		m.deps.Log.Warn("UI 服务不可用，无法显示全屏消息", "messageId", m.id)
		return
	}

	content, err := os.ReadFile(filepath.Join(m.assetsPath, m.htmlFile))
	if err != nil || len(content) == 0 {
		m.deps.Log.Debug("全屏消息 HTML 内容缺失或为空", "messageId", m.id, "html", m.htmlFile)
		return
	}

	html, local := m.resolveResources(string(content))
	m.deps.UI.ShowFullScreen(FullScreenSetting{HTML: html, LocalAssets: local}, m)
}

func (m *FullScreenMessage) ShouldDownloadAssets() bool { return true }

// resolveResources 为每组资源候选选定呈现来源。
// 命中缓存的 URL 进入本地资源映射；全部未命中且末位候选是包内文件时，
// 直接在 HTML 中用该文件名替换原始 URL。
func (m *FullScreenMessage) resolveResources(html string) (string, map[string]string) {
	local := make(map[string]string)

	for _, group := range m.assets {
		assetURL := group[0]

		var cachedPath string
		if m.deps.Assets != nil {
			for _, candidate := range group {
				if p, ok := m.deps.Assets.CachedPath(m.id, candidate); ok {
					cachedPath = p
					break
				}
			}
		}
		if cachedPath != "" {
			local[assetURL] = cachedPath
			continue
		}

		fallback := group[len(group)-1]
		if !isRemoteURL(fallback) {
			html = strings.ReplaceAll(html, assetURL, fallback)
		}
	}
	return html, local
}

func (m *FullScreenMessage) OnShow() { m.triggered() }

func (m *FullScreenMessage) OnDismiss() { m.viewed() }

func (m *FullScreenMessage) OnShowFailure() {
	m.deps.Log.Debug("全屏消息显示失败", "messageId", m.id)
}

// OverrideURLLoad 处理消息内点击的回传 URL。
// 无论解析是否成功都返回 true 让宿主关闭消息；非法协议、
// 未知 host 或 tagId 仅丢弃交互本身。
func (m *FullScreenMessage) OverrideURLLoad(urlString string) bool {
	if urlString == "" {
		m.deps.Log.Debug("消息点击 URL 为空", "messageId", m.id)
		return true
	}

	u, err := neturl.Parse(urlString)
	if err != nil {
		m.deps.Log.Debug("消息点击 URL 解析失败", "messageId", m.id, "url", urlString)
		return true
	}

	if u.Scheme != SchemeInApp {
		m.deps.Log.Debug("消息点击 URL 协议不受支持", "messageId", m.id, "scheme", u.Scheme)
		return true
	}

	host := u.Host
	if host != SchemeHostConfirm && host != SchemeHostCancel {
		m.deps.Log.Debug("消息点击 URL host 不受支持", "messageId", m.id, "host", host)
		return true
	}

	query := extractQueryParameters(u.RawQuery)
	if len(query) > 0 {
		query[InteractionKeyType] = host
		m.processInteraction(query)
	}
	return true
}

// processInteraction 校验 id={broadlogId},{deliveryId},{tagId} 后上报点击与浏览
func (m *FullScreenMessage) processInteraction(query map[string]string) {
	id := query[InteractionKeyID]
	if id == "" {
		m.deps.Log.Debug("消息交互缺少 id 参数", "messageId", m.id)
		return
	}

	tokens := strings.Split(id, ",")
	if len(tokens) != idTokenCount {
		m.deps.Log.Debug("消息交互 id 参数片段数不足", "messageId", m.id, "id", id)
		return
	}

	tagID, err := strconv.Atoi(tokens[2])
	if err != nil {
		m.deps.Log.Debug("消息交互 tagId 解析失败", "messageId", m.id, "id", id)
		return
	}

	switch tagID {
	case tagIDButtonOne, tagIDButtonTwo, tagIDButtonClose:
		m.clickedWithData(query)
		m.viewed()
	default:
		m.deps.Log.Debug("消息交互 tagId 不受支持", "messageId", m.id, "tagId", tagID)
	}
}

// extractQueryParameters 按原样切分查询串，值留待 clickedWithData 统一解码
func extractQueryParameters(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	params := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		params[kv[0]] = kv[1]
	}
	return params
}
