package bundle_test

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"campaignkit/pkg/errx"

	"campaignkit/internal/bundle"
)

// writeZip 在临时目录生成一个 zip 文件。
func writeZip(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("创建 zip 失败: %v", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatalf("创建 zip 条目失败: %v", err)
		}
		entry.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("关闭 zip 失败: %v", err)
	}
	return path
}

func TestExtractZip(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"rules.json":        `{"version":1,"rules":[]}`,
		"assets/banner.png": "png-bytes",
	})
	dest := filepath.Join(t.TempDir(), "extracted")

	if err := bundle.ExtractZip(zipPath, dest); err != nil {
		t.Fatalf("ExtractZip() 失败: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "rules.json"))
	if err != nil {
		t.Fatalf("读取解压后的规则文件失败: %v", err)
	}
	if string(data) != `{"version":1,"rules":[]}` {
		t.Errorf("规则文件内容不符: %s", data)
	}

	if _, err := os.Stat(filepath.Join(dest, "assets", "banner.png")); err != nil {
		t.Errorf("子目录条目未解压: %v", err)
	}

	rulesPath, err := bundle.FindRules(dest)
	if err != nil {
		t.Fatalf("FindRules() 失败: %v", err)
	}
	if rulesPath != filepath.Join(dest, "rules.json") {
		t.Errorf("规则文件路径 = %s", rulesPath)
	}
}

func TestExtractZipRejectsEscape(t *testing.T) {
	zipPath := writeZip(t, map[string]string{
		"../evil.txt": "escape",
	})
	dest := filepath.Join(t.TempDir(), "extracted")

	err := bundle.ExtractZip(zipPath, dest)
	if err == nil {
		t.Fatal("逃逸条目应该导致解压失败")
	}
	if !errx.Is(err, errx.CodeBundleInvalid) {
		t.Errorf("错误码不符: %v", err)
	}

	// 失败后不留下部分内容
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("解压失败后目标目录应被清理")
	}
}

func TestExtractZipInvalidInput(t *testing.T) {
	t.Run("非 zip 文件", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bogus.zip")
		os.WriteFile(path, []byte("not a zip"), 0644)

		err := bundle.ExtractZip(path, filepath.Join(t.TempDir(), "out"))
		if !errx.Is(err, errx.CodeBundleInvalid) {
			t.Errorf("预期 BUNDLE_INVALID，实际 %v", err)
		}
	})

	t.Run("空 zip", func(t *testing.T) {
		path := writeZip(t, map[string]string{})
		err := bundle.ExtractZip(path, filepath.Join(t.TempDir(), "out"))
		if !errx.Is(err, errx.CodeBundleInvalid) {
			t.Errorf("预期 BUNDLE_INVALID，实际 %v", err)
		}
	})
}

func TestFindRulesMissing(t *testing.T) {
	dest := t.TempDir()
	if _, err := bundle.FindRules(dest); !errx.Is(err, errx.CodeBundleInvalid) {
		t.Errorf("缺少规则文件预期 BUNDLE_INVALID，实际 %v", err)
	}
}
