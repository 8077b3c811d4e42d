package hitqueue

import (
	"context"
	"net/http"
	"strings"
	"time"

	"campaignkit/internal/logger"
	"campaignkit/internal/storage/repo"
)

// Connector 执行 HTTP 请求的抽象，便于测试替换
type Connector interface {
	Do(req *http.Request) (*http.Response, error)
}

// Processor 按固定语义处理单条上报请求
type Processor struct {
	conn     Connector
	settings *repo.SettingsRepo
	log      logger.Logger
}

// NewProcessor 创建处理器。conn 为 nil 表示网络服务不可用，所有请求都会重试。
func NewProcessor(conn Connector, settings *repo.SettingsRepo, log logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{conn: conn, settings: settings, log: log}
}

// ProcessHit 处理一条入库记录，返回是否需要稍后重试。
// 空记录或无法还原的记录直接丢弃；网络不可用或可恢复的
// 响应码（408/503/504）重试；200 落盘注册时间后丢弃；
// 其余响应码视为永久拒绝丢弃。
func (p *Processor) ProcessHit(ctx context.Context, data string) bool {
	if strings.TrimSpace(data) == "" {
		p.log.Debug("上报记录为空，直接丢弃")
		return false
	}

	hit := DecodeHit(data)
	if hit == nil {
		p.log.Debug("上报记录无法还原，直接丢弃")
		return false
	}

	if p.conn == nil {
		p.log.Warn("网络服务不可用，上报稍后重试", "url", hit.URL)
		return true
	}

	// 等待窗口比请求超时多一秒，保证回调有机会完成
	timeout := hit.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	var body *strings.Reader
	if hit.Payload != "" {
		body = strings.NewReader(hit.Payload)
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(reqCtx, hit.Method(), hit.URL, body)
	if err != nil {
		p.log.Debug("上报请求非法，直接丢弃", "url", hit.URL, "error", err)
		return false
	}
	req.Header.Set("Connection", "close")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	resp, err := p.conn.Do(req)
	if err != nil {
		p.log.Debug("上报连接失败，稍后重试", "url", hit.URL, "error", err)
		return true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		p.log.Debug("上报发送成功", "url", hit.URL)
		p.persistRegistrationTimestamp(ctx)
		return false
	case isRecoverable(resp.StatusCode):
		p.log.Debug("上报遇到可恢复错误，稍后重试", "url", hit.URL, "status", resp.StatusCode)
		return true
	default:
		p.log.Debug("上报被永久拒绝，直接丢弃", "url", hit.URL, "status", resp.StatusCode)
		return false
	}
}

// persistRegistrationTimestamp 记录最近一次成功上报时间
func (p *Processor) persistRegistrationTimestamp(ctx context.Context) {
	if p.settings == nil {
		p.log.Debug("本地状态不可用，跳过注册时间更新")
		return
	}
	if err := p.settings.SetRegistrationTimestamp(ctx, time.Now()); err != nil {
		p.log.Warn("注册时间落盘失败", "error", err)
	}
}

// isRecoverable 可恢复的 HTTP 状态码
func isRecoverable(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
