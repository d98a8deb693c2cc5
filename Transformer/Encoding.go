package Transformer

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/axgle/mahonia"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// textDecoder 把DBF中的原始字节转为UTF-8
type textDecoder func(string) string

func identityDecoder(s string) string { return s }

func xtextDecoder(enc encoding.Encoding) textDecoder {
	return func(s string) string {
		if isASCII(s) {
			return s
		}
		out, err := io.ReadAll(transform.NewReader(strings.NewReader(s), enc.NewDecoder()))
		if err != nil {
			return s
		}
		return string(out)
	}
}

// GbkToUtf8 GBK/GB18030 转 UTF-8, 失败时原样返回
func GbkToUtf8(s string) string {
	return xtextDecoder(simplifiedchinese.GB18030)(s)
}

// decoderByName 按 .cpg 或探测到的字符集名称选择解码器
func decoderByName(name string) (textDecoder, bool) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "_", "-")
	switch key {
	case "UTF-8", "UTF8", "65001":
		return identityDecoder, true
	case "GBK", "GB2312", "936", "CP936", "GB18030", "GB-18030":
		return GbkToUtf8, true
	case "1252", "CP1252", "WINDOWS-1252", "ANSI 1252":
		return xtextDecoder(charmap.Windows1252), true
	case "88591", "8859-1", "ISO-8859-1", "ISO8859-1", "LATIN1":
		return xtextDecoder(charmap.ISO8859_1), true
	}
	if d := mahonia.NewDecoder(strings.ToLower(strings.TrimSpace(name))); d != nil {
		return func(s string) string { return d.ConvertString(s) }, true
	}
	return nil, false
}

// detectDecoder 没有 .cpg 时根据样本推断编码, 默认按 GBK 处理
func detectDecoder(samples []string) textDecoder {
	var buf bytes.Buffer
	allUTF8 := true
	for _, s := range samples {
		if !utf8.ValidString(s) {
			allUTF8 = false
		}
		buf.WriteString(s)
		buf.WriteByte(' ')
	}
	if allUTF8 {
		return identityDecoder
	}
	if res, err := chardet.NewTextDetector().DetectBest(buf.Bytes()); err == nil && res.Confidence >= 50 {
		if d, ok := decoderByName(res.Charset); ok {
			return d
		}
	}
	return GbkToUtf8
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
