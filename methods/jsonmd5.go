package methods

import (
	"crypto/md5"
	"encoding/hex"
)

// Md5Str 返回数据的MD5十六进制串
func Md5Str(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ETag 分块响应的弱校验值
func ETag(data []byte) string {
	return `W/"` + Md5Str(data) + `"`
}
