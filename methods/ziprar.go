package methods

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mholt/archiver/v3"
)

var zipMagic = []byte("PK\x03\x04")

// IsZipFile 按文件头判断是否为zip, 与扩展名无关
func IsZipFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return string(head) == string(zipMagic)
}

// UnzipTo 把zip解压到 dest, 不看扩展名
// archiver 会拒绝解压到目标目录之外的条目
func UnzipTo(src, dest string) error {
	z := archiver.NewZip()
	z.OverwriteExisting = true
	if err := z.Unarchive(src, dest); err != nil {
		return fmt.Errorf("unzip %s: %w", filepath.Base(src), err)
	}
	return nil
}
