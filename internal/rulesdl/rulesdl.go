// Package rulesdl 负责规则包的条件下载、落盘与生效编排
package rulesdl

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"campaignkit/internal/assets"
	"campaignkit/internal/bundle"
	"campaignkit/internal/download"
	"campaignkit/internal/engine"
	"campaignkit/internal/logger"
	"campaignkit/internal/messages"
	"campaignkit/internal/storage/repo"
	"campaignkit/pkg/rulespec"
)

const (
	zipFileName  = "rules.zip"
	metaFileName = "rules.zip.meta"
	bundleDir    = "bundle"
)

// Config 下载编排器配置
type Config struct {
	Engine   *engine.Engine
	Client   *download.Client
	Assets   *assets.Cache
	Settings *repo.SettingsRepo
	CacheDir string        // 规则缓存根目录
	Timeout  time.Duration // 单次请求超时
	// Allowed 生效前的隐私复查，返回 false 时丢弃已完成的下载
	Allowed func() bool
	Logger  logger.Logger
}

// Downloader 规则包下载编排器，同一时刻只允许一次下载
type Downloader struct {
	engine   *engine.Engine
	dl       *download.Client
	assets   *assets.Cache
	settings *repo.SettingsRepo
	cacheDir string
	timeout  time.Duration
	allowed  func() bool
	log      logger.Logger
	mu       sync.Mutex
}

// New 创建下载编排器
func New(cfg Config) *Downloader {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	return &Downloader{
		engine:   cfg.Engine,
		dl:       cfg.Client,
		assets:   cfg.Assets,
		settings: cfg.Settings,
		cacheDir: cfg.CacheDir,
		timeout:  cfg.Timeout,
		allowed:  cfg.Allowed,
		log:      cfg.Logger,
	}
}

func (d *Downloader) zipPath() string    { return filepath.Join(d.cacheDir, zipFileName) }
func (d *Downloader) metaPath() string   { return filepath.Join(d.cacheDir, metaFileName) }
func (d *Downloader) bundlePath() string { return filepath.Join(d.cacheDir, bundleDir) }

// LoadRulesFromURL 条件下载规则包并按结果编排状态:
// 新内容解包生效，304 原样保留，404 或解析失败注销规则并清缓存，
// 可恢复失败不改动任何状态等待下次触发。
func (d *Downloader) LoadRulesFromURL(ctx context.Context, url string, linkageHeader map[string]string) {
	if url == "" {
		d.log.Debug("规则包地址为空，跳过下载")
		return
	}
	if d.dl == nil {
		d.log.Warn("下载客户端不可用，跳过规则包下载")
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	v := d.loadValidators()
	res, err := d.dl.FetchWithHeader(ctx, url, v, d.timeout, linkageHeader)
	if err != nil {
		d.log.Err(err, "规则包请求构造失败", "url", url)
		return
	}

	switch res.Result {
	case download.ResultFresh:
		d.applyFresh(ctx, url, res)
	case download.ResultNotModified:
		d.log.Debug("规则包未变更，保留现有规则", "url", url)
	case download.ResultNotFound:
		d.log.Info("规则包已下线，注销规则并清理缓存", "url", url, "status", res.StatusCode)
		d.unregister(ctx)
	case download.ResultTransient:
		d.log.Warn("规则包下载暂时失败，等待下次触发", "url", url, "status", res.StatusCode)
	}
}

// LoadCachedRules 冷启动时从上次缓存的规则包直接恢复规则，不发起网络请求
func (d *Downloader) LoadCachedRules(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	url := d.persistedURL(ctx)
	if url == "" {
		d.log.Debug("没有缓存过的规则包地址，跳过冷启动恢复")
		return false
	}

	doc, err := d.parseBundle(d.bundlePath())
	if err != nil {
		d.log.Err(err, "缓存的规则包不可用", "url", url)
		return false
	}

	d.engine.Update(doc)
	d.log.Info("已从缓存恢复规则", "url", url, "rules", len(doc.Rules))
	return true
}

// InvalidateCache 清空规则缓存与校验信息。
// 关联字段变更后调用，保证下次触发必然拉取新内容。
func (d *Downloader) InvalidateCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.purgeCache()
}

// Unregister 注销当前规则并清空缓存，用于隐私退出
func (d *Downloader) Unregister(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unregister(ctx)
}

// loadValidators 读取上次下载的校验信息，zip 缺失时从零开始
func (d *Downloader) loadValidators() download.Validators {
	meta := download.LoadMeta(d.metaPath())
	v := meta.Validators()

	info, err := os.Stat(d.zipPath())
	if err != nil {
		return download.Validators{}
	}
	v.SizeBytes = info.Size()
	return v
}

func (d *Downloader) applyFresh(ctx context.Context, url string, res *download.FetchResult) {
	defer res.Body.Close()

	if err := d.writeZip(res); err != nil {
		d.log.Err(err, "规则包写入失败", "url", url)
		d.purgeCache()
		return
	}

	// 下载完成后复查隐私状态，期间退出则丢弃本次内容
	if d.allowed != nil && !d.allowed() {
		d.log.Info("隐私状态已不允许使用规则，丢弃本次下载", "url", url)
		d.purgeCache()
		return
	}

	tmp, err := os.MkdirTemp(d.cacheDir, "extract-*")
	if err != nil {
		d.log.Err(err, "创建规则包解压目录失败")
		return
	}

	if err := bundle.ExtractZip(d.zipPath(), tmp); err != nil {
		d.log.Err(err, "规则包解压失败，注销规则", "url", url)
		os.RemoveAll(tmp)
		d.unregister(ctx)
		return
	}

	doc, err := d.parseBundle(tmp)
	if err != nil {
		d.log.Err(err, "规则包解析失败，注销规则", "url", url)
		os.RemoveAll(tmp)
		d.unregister(ctx)
		return
	}

	// 原子替换生效目录
	if err := os.RemoveAll(d.bundlePath()); err != nil {
		d.log.Err(err, "清理旧规则目录失败")
		os.RemoveAll(tmp)
		return
	}
	if err := os.Rename(tmp, d.bundlePath()); err != nil {
		d.log.Err(err, "规则目录替换失败")
		os.RemoveAll(tmp)
		return
	}
	stampAssetsPath(doc, d.bundlePath())

	d.engine.Update(doc)
	d.persistState(ctx, url, res)
	d.log.Info("新规则已生效", "url", url, "rules", len(doc.Rules))

	d.prefetchAssets(ctx, doc)
}

// writeZip 落盘规则包，206 续传时在既有文件尾部追加
func (d *Downloader) writeZip(res *download.FetchResult) error {
	if err := os.MkdirAll(d.cacheDir, 0o755); err != nil {
		return err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if res.Appending {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	f, err := os.OpenFile(d.zipPath(), flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, res.Body)
	return err
}

// parseBundle 从解包目录读取并解析 rules.json，
// 消费侧通过 AssetsPath 找到随包下发的本地资源
func (d *Downloader) parseBundle(dir string) (*rulespec.Document, error) {
	rulesPath, err := bundle.FindRules(dir)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, err
	}
	doc, err := rulespec.Parse(data)
	if err != nil {
		return nil, err
	}
	stampAssetsPath(doc, dir)
	return doc, nil
}

// stampAssetsPath 让每条 consequence 指向随包资源所在目录
func stampAssetsPath(doc *rulespec.Document, dir string) {
	for i := range doc.Rules {
		for j := range doc.Rules[i].Consequences {
			doc.Rules[i].Consequences[j].AssetsPath = dir
		}
	}
}

func (d *Downloader) persistState(ctx context.Context, url string, res *download.FetchResult) {
	var size int64
	if info, err := os.Stat(d.zipPath()); err == nil {
		size = info.Size()
	}
	meta := download.Meta{
		ETag:         res.ETag,
		LastModified: res.LastModified,
		SizeBytes:    size,
		SourceURL:    url,
	}
	if err := download.SaveMeta(d.metaPath(), meta); err != nil {
		d.log.Err(err, "规则包校验信息保存失败")
	}
	if d.settings != nil {
		if err := d.settings.SetRemoteURL(ctx, url); err != nil {
			d.log.Err(err, "规则包地址保存失败")
		}
	}
}

// prefetchAssets 预取消息资源并清理不再引用的消息目录
func (d *Downloader) prefetchAssets(ctx context.Context, doc *rulespec.Document) {
	if d.assets == nil {
		return
	}

	var activeIDs []string
	for _, rule := range doc.Rules {
		for _, c := range rule.Consequences {
			if c.Type != rulespec.ConsequenceTypeInApp {
				continue
			}
			activeIDs = append(activeIDs, c.ID)
			if urls := messages.ExtractAssetURLs(c); len(urls) > 0 {
				d.assets.CacheAssets(ctx, c.ID, urls, d.timeout)
			}
		}
	}
	d.assets.PruneMessages(activeIDs)
}

func (d *Downloader) persistedURL(ctx context.Context) string {
	if d.settings == nil {
		return ""
	}
	return d.settings.GetRemoteURL(ctx)
}

func (d *Downloader) unregister(ctx context.Context) {
	if d.engine != nil {
		d.engine.Update(nil)
	}
	d.purgeCache()
	// 持久化地址一并清掉，否则冷启动会反复尝试恢复已清空的规则包
	if d.settings != nil {
		if err := d.settings.SetRemoteURL(ctx, ""); err != nil {
			d.log.Err(err, "规则包地址清理失败")
		}
	}
}

func (d *Downloader) purgeCache() {
	os.Remove(d.zipPath())
	os.Remove(d.metaPath())
	os.RemoveAll(d.bundlePath())
}
