package rulesdl_test

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"campaignkit/internal/assets"
	"campaignkit/internal/download"
	"campaignkit/internal/engine"
	"campaignkit/internal/rulesdl"
	"campaignkit/internal/storage/db"
	"campaignkit/internal/storage/model"
	"campaignkit/internal/storage/repo"
)

const rulesJSON = `{
  "version": 1,
  "rules": [
    {
      "id": "rule-1",
      "condition": {"type": "matcher", "key": "~type", "matcher": "eq", "values": ["com.adobe.eventType.lifecycle"]},
      "consequences": [
        {"id": "msg-1", "type": "iam", "detail": {"template": "alert", "title": "T", "content": "C", "cancel": "N"}}
      ]
    }
  ]
}`

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func setupSettings(t *testing.T) *repo.SettingsRepo {
	t.Helper()
	gdb, err := db.New(db.Options{FullPath: ":memory:"})
	if err != nil {
		t.Fatalf("初始化数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, &model.Setting{}); err != nil {
		t.Fatalf("迁移失败: %v", err)
	}
	return repo.NewSettingsRepo(gdb)
}

type env struct {
	dl       *rulesdl.Downloader
	engine   *engine.Engine
	settings *repo.SettingsRepo
	cacheDir string
}

func setup(t *testing.T, allowed func() bool) *env {
	t.Helper()
	root := t.TempDir()
	eng := engine.New(nil)
	settings := setupSettings(t)
	d := rulesdl.New(rulesdl.Config{
		Engine:   eng,
		Client:   download.New(nil, nil),
		Assets:   assets.NewCache(root, download.New(nil, nil), nil),
		Settings: settings,
		CacheDir: filepath.Join(root, "rules"),
		Timeout:  2 * time.Second,
		Allowed:  allowed,
	})
	return &env{dl: d, engine: eng, settings: settings, cacheDir: filepath.Join(root, "rules")}
}

// 返回按条件请求头回应 200/304 的规则包服务
func rulesServer(t *testing.T, zipData []byte, etag string, requests *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			*requests++
		}
		if etag != "" && r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		w.Write(zipData)
	}))
}

func TestLoadRulesFresh(t *testing.T) {
	zipData := buildZip(t, map[string]string{"rules.json": rulesJSON})
	srv := rulesServer(t, zipData, `"v1"`, nil)
	defer srv.Close()

	e := setup(t, nil)
	e.dl.LoadRulesFromURL(context.Background(), srv.URL+"/rules.zip", nil)

	doc := e.engine.Document()
	if doc == nil || len(doc.Rules) != 1 {
		t.Fatalf("规则未生效: %+v", doc)
	}
	c := doc.Rules[0].Consequences[0]
	if c.AssetsPath != filepath.Join(e.cacheDir, "bundle") {
		t.Fatalf("AssetsPath 未指向生效目录: %s", c.AssetsPath)
	}
	if got := e.settings.GetRemoteURL(context.Background()); got != srv.URL+"/rules.zip" {
		t.Fatalf("规则包地址未持久化: %q", got)
	}
	meta := download.LoadMeta(filepath.Join(e.cacheDir, "rules.zip.meta"))
	if meta.ETag != `"v1"` {
		t.Fatalf("校验信息未持久化: %+v", meta)
	}
}

func TestLoadRulesNotModifiedKeepsRules(t *testing.T) {
	zipData := buildZip(t, map[string]string{"rules.json": rulesJSON})
	srv := rulesServer(t, zipData, `"v1"`, nil)
	defer srv.Close()

	e := setup(t, nil)
	url := srv.URL + "/rules.zip"
	e.dl.LoadRulesFromURL(context.Background(), url, nil)
	first := e.engine.Document()
	if first == nil {
		t.Fatal("首次下载未生效")
	}

	// 第二次触发命中 304，规则对象保持同一引用
	e.dl.LoadRulesFromURL(context.Background(), url, nil)
	if e.engine.Document() != first {
		t.Fatal("304 后规则对象被替换")
	}
}

func TestLoadRulesNotFoundUnregisters(t *testing.T) {
	zipData := buildZip(t, map[string]string{"rules.json": rulesJSON})
	var gone bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gone {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(zipData)
	}))
	defer srv.Close()

	e := setup(t, nil)
	url := srv.URL + "/rules.zip"
	e.dl.LoadRulesFromURL(context.Background(), url, nil)
	if e.engine.Document() == nil {
		t.Fatal("首次下载未生效")
	}

	gone = true
	e.dl.LoadRulesFromURL(context.Background(), url, nil)
	if e.engine.Document() != nil {
		t.Fatal("404 后规则未注销")
	}
	if _, err := os.Stat(filepath.Join(e.cacheDir, "bundle")); !os.IsNotExist(err) {
		t.Fatal("404 后缓存未清理")
	}
	if got := e.settings.GetRemoteURL(context.Background()); got != "" {
		t.Fatalf("404 后持久化地址未清理: %q", got)
	}

	// 持久化地址已清，冷启动不得再尝试恢复
	d2 := rulesdl.New(rulesdl.Config{
		Engine:   engine.New(nil),
		Settings: e.settings,
		CacheDir: e.cacheDir,
	})
	if d2.LoadCachedRules(context.Background()) {
		t.Fatal("注销后冷启动不应恢复规则")
	}
}

func TestLoadRulesTransientKeepsState(t *testing.T) {
	zipData := buildZip(t, map[string]string{"rules.json": rulesJSON})
	var down bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(zipData)
	}))
	defer srv.Close()

	e := setup(t, nil)
	url := srv.URL + "/rules.zip"
	e.dl.LoadRulesFromURL(context.Background(), url, nil)
	first := e.engine.Document()

	down = true
	e.dl.LoadRulesFromURL(context.Background(), url, nil)
	if e.engine.Document() != first {
		t.Fatal("可恢复失败不应改动规则")
	}
}

func TestLoadRulesParseFailureUnregisters(t *testing.T) {
	srv := rulesServer(t, buildZip(t, map[string]string{"rules.json": "not json"}), "", nil)
	defer srv.Close()

	e := setup(t, nil)
	e.dl.LoadRulesFromURL(context.Background(), srv.URL+"/rules.zip", nil)
	if e.engine.Document() != nil {
		t.Fatal("解析失败后规则应为空")
	}
}

func TestLoadCachedRulesColdStart(t *testing.T) {
	zipData := buildZip(t, map[string]string{"rules.json": rulesJSON})
	srv := rulesServer(t, zipData, "", nil)
	defer srv.Close()

	e := setup(t, nil)
	e.dl.LoadRulesFromURL(context.Background(), srv.URL+"/rules.zip", nil)
	srv.Close()

	// 新引擎与编排器共享同一缓存目录与持久化层，无网络恢复
	eng2 := engine.New(nil)
	d2 := rulesdl.New(rulesdl.Config{
		Engine:   eng2,
		Client:   download.New(nil, nil),
		Settings: e.settings,
		CacheDir: e.cacheDir,
	})
	if !d2.LoadCachedRules(context.Background()) {
		t.Fatal("冷启动恢复失败")
	}
	doc := eng2.Document()
	if doc == nil || len(doc.Rules) != 1 {
		t.Fatalf("冷启动规则不完整: %+v", doc)
	}
}

func TestLoadCachedRulesWithoutHistory(t *testing.T) {
	e := setup(t, nil)
	if e.dl.LoadCachedRules(context.Background()) {
		t.Fatal("没有历史地址时不应恢复")
	}
}

func TestPrivacyRecheckDiscardsDownload(t *testing.T) {
	zipData := buildZip(t, map[string]string{"rules.json": rulesJSON})
	srv := rulesServer(t, zipData, "", nil)
	defer srv.Close()

	e := setup(t, func() bool { return false })
	e.dl.LoadRulesFromURL(context.Background(), srv.URL+"/rules.zip", nil)

	if e.engine.Document() != nil {
		t.Fatal("隐私复查失败时规则不应生效")
	}
	if _, err := os.Stat(filepath.Join(e.cacheDir, "rules.zip")); !os.IsNotExist(err) {
		t.Fatal("被丢弃的下载应清理落盘文件")
	}
}

func TestInvalidateCacheForcesFullFetch(t *testing.T) {
	zipData := buildZip(t, map[string]string{"rules.json": rulesJSON})
	var conditional int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			conditional++
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write(zipData)
	}))
	defer srv.Close()

	e := setup(t, nil)
	url := srv.URL + "/rules.zip"
	e.dl.LoadRulesFromURL(context.Background(), url, nil)
	first := e.engine.Document()

	// 缓存失效后第二次触发不带条件请求头，强制拉取全量内容
	e.dl.InvalidateCache()
	e.dl.LoadRulesFromURL(context.Background(), url, nil)
	if conditional != 0 {
		t.Fatalf("失效后仍发送了条件请求头 %d 次", conditional)
	}
	if e.engine.Document() == first {
		t.Fatal("失效后应重新生效新的规则对象")
	}
}

func TestLinkageHeaderAttached(t *testing.T) {
	zipData := buildZip(t, map[string]string{"rules.json": rulesJSON})
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-InApp-Auth")
		w.Write(zipData)
	}))
	defer srv.Close()

	e := setup(t, nil)
	e.dl.LoadRulesFromURL(context.Background(), srv.URL+"/rules.zip", map[string]string{"X-InApp-Auth": "dGVzdA=="})
	if got != "dGVzdA==" {
		t.Fatalf("关联字段请求头未附加: %q", got)
	}
}

func TestEmptyURLIsNoOp(t *testing.T) {
	e := setup(t, nil)
	e.dl.LoadRulesFromURL(context.Background(), "", nil)
	if e.engine.Document() != nil {
		t.Fatal("空地址不应产生任何变更")
	}
}

func TestPrefetchCachesFullscreenAssets(t *testing.T) {
	var assetHits int
	assetSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assetHits++
		w.Write([]byte("img-bytes"))
	}))
	defer assetSrv.Close()

	fullscreenRules := `{
	  "rules": [
	    {
	      "id": "rule-1",
	      "condition": {"type": "matcher", "key": "~type", "matcher": "ex"},
	      "consequences": [
	        {"id": "msg-fs", "type": "iam", "detail": {
	          "template": "fullscreen", "html": "msg.html",
	          "remoteAssets": [["` + assetSrv.URL + `/a.jpg", "fallback.jpg"]]
	        }}
	      ]
	    }
	  ]
	}`
	zipData := buildZip(t, map[string]string{
		"rules.json": fullscreenRules,
		"msg.html":   "<html></html>",
	})
	srv := rulesServer(t, zipData, "", nil)
	defer srv.Close()

	root := t.TempDir()
	cache := assets.NewCache(root, download.New(nil, nil), nil)
	eng := engine.New(nil)
	d := rulesdl.New(rulesdl.Config{
		Engine:   eng,
		Client:   download.New(nil, nil),
		Assets:   cache,
		Settings: setupSettings(t),
		CacheDir: filepath.Join(root, "rules"),
		Timeout:  2 * time.Second,
	})
	d.LoadRulesFromURL(context.Background(), srv.URL+"/rules.zip", nil)

	if assetHits != 1 {
		t.Fatalf("期望一次资源下载, got %d", assetHits)
	}
	if _, ok := cache.CachedPath("msg-fs", assetSrv.URL+"/a.jpg"); !ok {
		t.Fatal("资源未缓存")
	}
}
