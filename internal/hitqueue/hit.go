// Package hitqueue 实现持久化的上报请求队列
package hitqueue

import (
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Hit 一条待发送的上报请求。入队后不可变。
type Hit struct {
	URL     string // 请求地址
	Payload string // 为空时用 GET 发送，否则 POST
	Timeout time.Duration
}

// Method 该请求使用的 HTTP 方法
func (h *Hit) Method() string {
	if h.Payload != "" {
		return "POST"
	}
	return "GET"
}

// EncodeHit 序列化为入库的 JSON
func EncodeHit(h *Hit) (string, error) {
	if h == nil || h.URL == "" {
		return "", fmt.Errorf("hit has no url")
	}
	out := ""
	out, _ = sjson.Set(out, "url", h.URL)
	out, _ = sjson.Set(out, "payload", h.Payload)
	out, _ = sjson.Set(out, "timeout", int(h.Timeout/time.Second))
	return out, nil
}

// DecodeHit 从入库 JSON 还原，结构非法时返回 nil
func DecodeHit(data string) *Hit {
	if data == "" || !gjson.Valid(data) {
		return nil
	}
	root := gjson.Parse(data)
	url := root.Get("url").String()
	if url == "" {
		return nil
	}
	return &Hit{
		URL:     url,
		Payload: root.Get("payload").String(),
		Timeout: time.Duration(root.Get("timeout").Int()) * time.Second,
	}
}
