package Transformer

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// CRSInfo 坐标系探测结果, 探测不到时 HasCRS 为 false 且 Code/Name 为空
type CRSInfo struct {
	HasCRS bool   `json:"has_crs"`
	Code   string `json:"crs_detected"`
	Name   string `json:"crs_name"`
}

type CRSOption struct {
	Code        string `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Geographic  bool   `yaml:"geographic" json:"-"`
}

// CRSCatalog 供用户手动选择的常用坐标系
type CRSCatalog struct {
	Version string      `yaml:"version" json:"version"`
	Options []CRSOption `yaml:"options" json:"options"`
}

//go:embed crs_catalog.yaml
var catalogYAML []byte

var (
	catalogOnce sync.Once
	catalog     CRSCatalog
)

func Catalog() CRSCatalog {
	catalogOnce.Do(func() {
		if err := yaml.Unmarshal(catalogYAML, &catalog); err != nil {
			panic(fmt.Sprintf("crs catalog: %v", err))
		}
	})
	out := CRSCatalog{Version: catalog.Version, Options: make([]CRSOption, len(catalog.Options))}
	copy(out.Options, catalog.Options)
	return out
}

// LookupCRS 在目录中查找坐标系
func LookupCRS(code string) (CRSOption, bool) {
	srid, err := ParseSRID(code)
	if err != nil {
		return CRSOption{}, false
	}
	for _, opt := range Catalog().Options {
		if s, _ := ParseSRID(opt.Code); s == srid {
			return opt, true
		}
	}
	return CRSOption{}, false
}

// ParseSRID 解析 "EPSG:4326", "epsg:4326" 或 "4326"
func ParseSRID(code string) (int, error) {
	s := strings.TrimSpace(code)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if !strings.EqualFold(s[:i], "EPSG") {
			return 0, fmt.Errorf("unsupported CRS authority in %q", code)
		}
		s = s[i+1:]
	}
	srid, err := strconv.Atoi(s)
	if err != nil || srid <= 0 {
		return 0, fmt.Errorf("invalid CRS code %q", code)
	}
	return srid, nil
}

func EPSGCode(srid int) string {
	return "EPSG:" + strconv.Itoa(srid)
}

// NormalizeCRS 统一为 "EPSG:n" 形式
func NormalizeCRS(code string) (string, error) {
	srid, err := ParseSRID(code)
	if err != nil {
		return "", err
	}
	return EPSGCode(srid), nil
}

var geographicSRIDs = map[int]bool{
	4326: true, // WGS 84
	4269: true, // NAD83
	4258: true, // ETRS89
	4490: true, // CGCS2000
	4283: true, // GDA94
}

// IsGeographic 经纬度坐标系
func IsGeographic(srid int) bool {
	return geographicSRIDs[srid]
}

var knownNames = map[int]string{
	4269: "NAD83",
	4258: "ETRS89",
	4490: "China Geodetic Coordinate System 2000",
	4283: "GDA94",
}

// CRSName 返回坐标系的可读名称, 未知时为空
func CRSName(srid int) string {
	if opt, ok := LookupCRS(EPSGCode(srid)); ok {
		return opt.Name
	}
	if name, ok := knownNames[srid]; ok {
		return name
	}
	switch {
	case srid > 26900 && srid <= 26923:
		return fmt.Sprintf("NAD83 UTM %dN", srid-26900)
	case srid > 32600 && srid <= 32660:
		return fmt.Sprintf("WGS 84 UTM %dN", srid-32600)
	case srid > 32700 && srid <= 32760:
		return fmt.Sprintf("WGS 84 UTM %dS", srid-32700)
	}
	return ""
}

// ResolveCRS 读取暂存文件自带的坐标系, 缺失或无法解析时 HasCRS=false
func ResolveCRS(path string, format Format) (CRSInfo, error) {
	switch format {
	case FormatKML:
		return CRSInfo{HasCRS: true, Code: EPSGCode(4326), Name: CRSName(4326)}, nil
	case FormatShapefile:
		return resolveShapefileCRS(path)
	case FormatSpatialDB:
		return resolveSpatialDBCRS(path)
	}
	return CRSInfo{}, fmt.Errorf("unsupported format %q", format)
}

func crsFromSRID(srid int, fallbackName string) CRSInfo {
	if srid <= 0 {
		return CRSInfo{}
	}
	name := CRSName(srid)
	if name == "" {
		name = fallbackName
	}
	return CRSInfo{HasCRS: true, Code: EPSGCode(srid), Name: name}
}
