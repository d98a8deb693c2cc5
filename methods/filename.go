package methods

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-pinyin"
)

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SafeFileName 汉字转拼音, 其余非字母数字替换为下划线, 用于下载文件名
func SafeFileName(name string) string {
	a := pinyin.NewArgs()
	a.Style = pinyin.Normal
	var b strings.Builder
	for _, r := range name {
		if unicode.Is(unicode.Han, r) {
			if py := pinyin.SinglePinyin(r, a); len(py) > 0 {
				b.WriteString(py[0])
				continue
			}
		}
		b.WriteRune(r)
	}
	out := strings.Trim(unsafeNameRe.ReplaceAllString(b.String(), "_"), "_.")
	if out == "" {
		return "layer"
	}
	return out
}
