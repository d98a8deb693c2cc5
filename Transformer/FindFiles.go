package Transformer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindFiles 递归查找指定扩展名的文件, 结果按路径排序
func FindFiles(root string, ext string) []string {
	var files []string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() && info.Name() == "__MACOSX" {
			return filepath.SkipDir
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), "."+ext) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files
}

// companionFile 查找同名附属文件, 扩展名大小写不敏感
func companionFile(mainPath, ext string) (string, bool) {
	base := strings.TrimSuffix(mainPath, filepath.Ext(mainPath))
	for _, candidate := range []string{base + strings.ToLower(ext), base + strings.ToUpper(ext)} {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}
