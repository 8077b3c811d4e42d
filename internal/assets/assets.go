// Package assets 管理消息远程资源的本地缓存
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"campaignkit/internal/download"
	"campaignkit/internal/logger"
)

// MessagesDirName 消息资源缓存目录名
const MessagesDirName = "messages"

// metaSuffix 校验信息旁存文件后缀
const metaSuffix = ".meta"

// Cache 按消息分目录缓存远程资源，文件名为资源地址的哈希
type Cache struct {
	root string
	dl   *download.Client
	log  logger.Logger
}

// NewCache 创建资源缓存
func NewCache(root string, dl *download.Client, log logger.Logger) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	return &Cache{root: root, dl: dl, log: log}
}

// HashURL 资源地址到缓存文件名的映射
func HashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// MessageDir 返回某条消息的资源缓存目录
func (c *Cache) MessageDir(messageID string) string {
	return filepath.Join(c.root, MessagesDirName, messageID)
}

// CachedPath 返回某条消息某个资源的缓存路径及其是否存在
func (c *Cache) CachedPath(messageID, url string) (string, bool) {
	path := filepath.Join(c.MessageDir(messageID), HashURL(url))
	if _, err := os.Stat(path); err != nil {
		return path, false
	}
	return path, true
}

// CacheAssets 下载并缓存一条消息的远程资源列表。
// 已缓存的资源带校验信息条件请求，列表之外的旧缓存被清理。
func (c *Cache) CacheAssets(ctx context.Context, messageID string, urls []string, timeout time.Duration) {
	if messageID == "" || len(urls) == 0 {
		return
	}

	dir := c.MessageDir(messageID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		c.log.Warn("创建消息缓存目录失败", "dir", dir, "error", err)
		return
	}

	for _, url := range urls {
		if url == "" {
			continue
		}
		c.cacheOne(ctx, dir, url, timeout)
	}

	c.PruneNotInList(messageID, urls)
}

// cacheOne 缓存单个资源
func (c *Cache) cacheOne(ctx context.Context, dir, url string, timeout time.Duration) {
	path := filepath.Join(dir, HashURL(url))
	metaPath := path + metaSuffix

	validators := download.Validators{}
	meta := download.LoadMeta(metaPath)
	if _, err := os.Stat(path); err == nil {
		validators = meta.Validators()
	}

	res, err := c.dl.Fetch(ctx, url, validators, timeout)
	if err != nil {
		c.log.Warn("资源请求构建失败", "url", url, "error", err)
		return
	}

	switch res.Result {
	case download.ResultFresh:
		c.writeAsset(path, metaPath, url, res)
	case download.ResultNotModified:
		c.log.Debug("资源缓存仍然有效", "url", url)
	case download.ResultNotFound:
		// 资源已下线，本地缓存一并清除
		os.Remove(path)
		os.Remove(metaPath)
		c.log.Debug("资源不存在，清除本地缓存", "url", url)
	case download.ResultTransient:
		c.log.Debug("资源暂时不可达，保留现有缓存", "url", url)
	}
}

// writeAsset 落盘新内容并更新校验信息
func (c *Cache) writeAsset(path, metaPath, url string, res *download.FetchResult) {
	defer res.Body.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if res.Appending {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		c.log.Warn("写入资源缓存失败", "path", path, "error", err)
		return
	}
	if _, err := io.Copy(f, res.Body); err != nil {
		f.Close()
		os.Remove(path)
		os.Remove(metaPath)
		c.log.Warn("资源内容写入中断", "url", url, "error", err)
		return
	}
	f.Close()

	size := int64(0)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	err = download.SaveMeta(metaPath, download.Meta{
		ETag:         res.ETag,
		LastModified: res.LastModified,
		SizeBytes:    size,
		SourceURL:    url,
	})
	if err != nil {
		c.log.Warn("写入资源校验信息失败", "url", url, "error", err)
	}
}

// PruneNotInList 清理某条消息目录下不在资源列表中的缓存文件
func (c *Cache) PruneNotInList(messageID string, urls []string) {
	dir := c.MessageDir(messageID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	keep := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		keep[HashURL(url)] = struct{}{}
	}

	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), metaSuffix)
		if _, ok := keep[name]; ok {
			continue
		}
		os.Remove(filepath.Join(dir, entry.Name()))
	}
}

// PruneMessages 删除不在活跃消息列表中的整条消息缓存目录
func (c *Cache) PruneMessages(activeIDs []string) {
	base := filepath.Join(c.root, MessagesDirName)
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}

	keep := make(map[string]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		keep[id] = struct{}{}
	}

	for _, entry := range entries {
		if _, ok := keep[entry.Name()]; ok {
			continue
		}
		if err := os.RemoveAll(filepath.Join(base, entry.Name())); err != nil {
			c.log.Warn("清理过期消息资源目录失败", "messageId", entry.Name(), "error", err.Error())
		}
	}
}

// ClearAll 清空全部消息资源缓存
func (c *Cache) ClearAll() error {
	return os.RemoveAll(filepath.Join(c.root, MessagesDirName))
}
