// Package bundle 负责规则包的解压与校验
package bundle

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"campaignkit/pkg/errx"
)

// RulesFileName 规则包内规则文件的固定名称
const RulesFileName = "rules.json"

// ExtractZip 把 zipPath 解压到 destDir。
// 条目路径逃逸出 destDir 时整体失败，不留下部分内容。
func ExtractZip(zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return errx.Wrap(errx.CodeBundleInvalid, err, "open rules bundle")
	}
	defer reader.Close()

	if len(reader.File) == 0 {
		return errx.New(errx.CodeBundleInvalid, "rules bundle is empty")
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	for _, f := range reader.File {
		if err := extractEntry(f, destDir); err != nil {
			os.RemoveAll(destDir)
			return err
		}
	}
	return nil
}

// extractEntry 解压单个条目
func extractEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(f.Name))

	// 拒绝逃逸出目标目录的条目
	cleanDest := filepath.Clean(destDir) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator), cleanDest) {
		return errx.New(errx.CodeBundleInvalid, "bundle entry escapes extraction dir: "+f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return errx.Wrap(errx.CodeBundleInvalid, err, "open bundle entry "+f.Name)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errx.Wrap(errx.CodeBundleInvalid, err, "extract bundle entry "+f.Name)
	}
	return nil
}

// FindRules 返回解压目录下规则文件的路径，不存在时报错
func FindRules(destDir string) (string, error) {
	path := filepath.Join(destDir, RulesFileName)
	if _, err := os.Stat(path); err != nil {
		return "", errx.Wrap(errx.CodeBundleInvalid, err, "rules file missing in bundle")
	}
	return path, nil
}
