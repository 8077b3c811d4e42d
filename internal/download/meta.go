package download

import (
	"encoding/json"
	"os"
)

// Meta 缓存文件旁存的校验信息
type Meta struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	SizeBytes    int64  `json:"sizeBytes,omitempty"`
	SourceURL    string `json:"sourceUrl,omitempty"`
}

// Validators 转换为条件请求用的校验信息
func (m Meta) Validators() Validators {
	return Validators{
		ETag:         m.ETag,
		LastModified: m.LastModified,
		SizeBytes:    m.SizeBytes,
	}
}

// SaveMeta 把校验信息写入 path
func SaveMeta(path string, m Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// LoadMeta 读取校验信息，文件缺失或损坏时返回零值
func LoadMeta(path string) Meta {
	data, err := os.ReadFile(path)
	if err != nil {
		return Meta{}
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return Meta{}
	}
	return m
}
