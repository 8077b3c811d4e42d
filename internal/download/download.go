// Package download 提供带缓存校验的条件下载能力
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"campaignkit/internal/logger"
)

// Result 一次条件请求的分类结果
type Result int

const (
	// ResultFresh 服务端返回了新内容
	ResultFresh Result = iota
	// ResultNotModified 缓存仍然有效
	ResultNotModified
	// ResultNotFound 资源不存在或请求被拒绝，不应重试
	ResultNotFound
	// ResultTransient 可恢复的失败，调用方可稍后重试
	ResultTransient
)

// String 返回分类结果的字符串
func (r Result) String() string {
	switch r {
	case ResultFresh:
		return "fresh"
	case ResultNotModified:
		return "not_modified"
	case ResultNotFound:
		return "not_found"
	case ResultTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// 可恢复的 HTTP 状态码
func isRecoverable(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Validators 本地缓存携带的校验信息，零值表示无缓存
type Validators struct {
	ETag         string // 原样回传，弱校验前缀保留
	LastModified string // RFC1123 GMT 格式
	SizeBytes    int64  // 已缓存字节数，用于断点续传
}

// Empty 是否没有任何校验信息
func (v Validators) Empty() bool {
	return v.ETag == "" && v.LastModified == ""
}

// FetchResult 一次下载的结果
type FetchResult struct {
	Result       Result
	StatusCode   int
	Body         io.ReadCloser // 仅 ResultFresh 时非空，调用方读完后必须关闭以释放请求超时上下文
	Appending    bool          // 服务端返回 206，Body 是缓存尾部的续传内容
	ETag         string        // 响应携带的新校验信息
	LastModified string
}

// Connector 执行 HTTP 请求的抽象，便于测试替换
type Connector interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client 条件下载客户端
type Client struct {
	conn Connector
	log  logger.Logger
}

// New 创建下载客户端；conn 为 nil 时使用默认 http.Client
func New(conn Connector, log logger.Logger) *Client {
	if conn == nil {
		conn = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{conn: conn, log: log}
}

// Fetch 对 url 发起条件 GET 请求并分类结果。
// 有缓存校验信息时带上 If-None-Match / If-Modified-Since，
// 并用 If-Range + Range 请求缓存尾部之后的内容。
func (c *Client) Fetch(ctx context.Context, url string, v Validators, timeout time.Duration) (*FetchResult, error) {
	return c.FetchWithHeader(ctx, url, v, timeout, nil)
}

// FetchWithHeader 同 Fetch，额外附加调用方指定的请求头
func (c *Client) FetchWithHeader(ctx context.Context, url string, v Validators, timeout time.Duration, header map[string]string) (*FetchResult, error) {
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	applyValidators(req, v)
	for k, val := range header {
		req.Header.Set(k, val)
	}

	resp, err := c.conn.Do(req)
	if err != nil {
		cancel()
		// 连接失败视为可恢复
		c.log.Warn("下载请求失败", "url", url, "error", err)
		return &FetchResult{Result: ResultTransient}, nil
	}

	out := &FetchResult{
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		out.Result = ResultFresh
		out.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	case resp.StatusCode == http.StatusPartialContent:
		out.Result = ResultFresh
		out.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		out.Appending = true
	case resp.StatusCode == http.StatusNotModified:
		out.Result = ResultNotModified
		resp.Body.Close()
		cancel()
	case isRecoverable(resp.StatusCode):
		out.Result = ResultTransient
		resp.Body.Close()
		cancel()
	default:
		out.Result = ResultNotFound
		resp.Body.Close()
		cancel()
	}

	c.log.Debug("下载完成", "url", url, "status", resp.StatusCode, "result", out.Result.String())
	return out, nil
}

// cancelOnClose 把请求超时上下文的生命周期绑定到响应体:
// 调用方读完 Close 后才释放上下文，中途取消不会截断读取
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// applyValidators 根据缓存校验信息设置条件请求头
func applyValidators(req *http.Request, v Validators) {
	if v.Empty() {
		return
	}

	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
		req.Header.Set("If-Range", v.ETag)
	} else {
		req.Header.Set("If-Modified-Since", v.LastModified)
		req.Header.Set("If-Range", v.LastModified)
	}

	if v.SizeBytes > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(v.SizeBytes, 10)+"-")
	}
}

// FormatHTTPDate 把时间格式化为 HTTP 日期（RFC1123 GMT）
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
