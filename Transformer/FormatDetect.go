package Transformer

import (
	"path/filepath"
	"strings"
)

// Format 支持的矢量格式, 取值与上传接口的 file_type 一致
type Format string

const (
	FormatUnsupported Format = ""
	FormatShapefile   Format = "shp"
	FormatKML         Format = "kml"
	FormatSpatialDB   Format = "sqlite"
)

const UnsupportedTypeMessage = "Unsupported file type. Supported types: .shp, .kml, .sqlite"

var extFormats = map[string]Format{
	".shp":    FormatShapefile,
	".zip":    FormatShapefile,
	".kml":    FormatKML,
	".sqlite": FormatSpatialDB,
}

// DetectFormat 只看扩展名, shapefile 的附属文件在导入阶段处理
func DetectFormat(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	return extFormats[ext]
}

// ParseFormat 解析客户端回传的 file_type
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatShapefile:
		return FormatShapefile, true
	case FormatKML:
		return FormatKML, true
	case FormatSpatialDB:
		return FormatSpatialDB, true
	}
	return FormatUnsupported, false
}

// Extension 暂存文件使用的扩展名
func (f Format) Extension() string {
	switch f {
	case FormatShapefile:
		return ".shp"
	case FormatKML:
		return ".kml"
	case FormatSpatialDB:
		return ".sqlite"
	}
	return ""
}
