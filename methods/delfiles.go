package methods

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// RemoveFile 删除文件, 文件不存在视为成功, 可重复调用
func RemoveFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// StaleFiles 列出目录下修改时间早于 before 的普通文件
func StaleFiles(dir string, before time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(before) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out, nil
}
