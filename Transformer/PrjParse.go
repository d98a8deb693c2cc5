package Transformer

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	wktHeaderRe    = regexp.MustCompile(`(?i)^(PROJCS|GEOGCS|GEOCCS|COMPD_CS|PROJCRS|GEOGCRS|GEODCRS|BASEGEOGCRS|COMPOUNDCRS)\s*[\[(]\s*"([^"]*)"`)
	wktAuthorityRe = regexp.MustCompile(`(?i)^(AUTHORITY|ID)\s*[\[(]\s*"EPSG"\s*,\s*"?(\d+)"?`)
	utmNameRe      = regexp.MustCompile(`^(nad_?1983|nad83|wgs_?1984|wgs_?84)_utm_zone_(\d{1,2})([ns])$`)
	nonAlnumRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

// ESRI 与 OGC 风格的坐标系名称
var wktNames = map[string]int{
	"gcs_wgs_1984":                           4326,
	"wgs_1984":                               4326,
	"wgs_84":                                 4326,
	"wgs84":                                  4326,
	"wgs_1984_web_mercator_auxiliary_sphere": 3857,
	"wgs_1984_web_mercator":                  3857,
	"wgs_84_pseudo_mercator":                 3857,
	"web_mercator":                           3857,
	"popular_visualisation_crs_mercator":     3857,
	"google_maps_global_mercator":            3857,
	"gcs_north_american_1983":                4269,
	"nad83":                                  4269,

	// 州平面与国家2000
	"nad_1983_stateplane_ohio_north_fips_3401_feet":         3734,
	"nad83_ohio_north_ftus":                                 3734,
	"nad_1983_stateplane_ohio_south_fips_3402_feet":         3735,
	"nad83_ohio_south_ftus":                                 3735,
	"nad_1983_stateplane_pennsylvania_north_fips_3701_feet": 2271,
	"nad83_pennsylvania_north_ftus":                         2271,
	"nad_1983_stateplane_pennsylvania_south_fips_3702_feet": 2272,
	"nad83_pennsylvania_south_ftus":                         2272,
	"gcs_china_geodetic_coordinate_system_2000":             4490,
	"china_geodetic_coordinate_system_2000":                 4490,
	"cgcs2000":                                              4490,
}

// ParsePrj 解析 .prj 中的 WKT, 优先取顶层 EPSG 授权码, 其次按名称匹配
func ParsePrj(wkt string) CRSInfo {
	wkt = strings.TrimSpace(strings.TrimPrefix(wkt, "\ufeff"))
	m := wktHeaderRe.FindStringSubmatch(wkt)
	if m == nil {
		return CRSInfo{}
	}
	name := m[2]
	if srid, ok := wktAuthority(wkt); ok {
		return crsFromSRID(srid, name)
	}
	if srid, ok := sridFromName(name); ok {
		return crsFromSRID(srid, name)
	}
	// 能识别但没有 EPSG 编码, 按原名称返回
	return CRSInfo{HasCRS: true, Name: strings.ReplaceAll(name, "_", " ")}
}

// wktAuthority 只认第一层的 AUTHORITY/ID, 内层的属于基准面或椭球
func wktAuthority(wkt string) (int, bool) {
	depth := 0
	inQuote := false
	for i := 0; i < len(wkt); i++ {
		ch := wkt[i]
		switch {
		case ch == '"':
			inQuote = !inQuote
		case inQuote:
		case ch == '[' || ch == '(':
			depth++
		case ch == ']' || ch == ')':
			depth--
		case depth == 1 && (ch == 'A' || ch == 'a' || ch == 'I' || ch == 'i') && i > 0 && (wkt[i-1] == ',' || wkt[i-1] == ' '):
			if m := wktAuthorityRe.FindStringSubmatch(wkt[i:]); m != nil {
				if srid, err := strconv.Atoi(m[2]); err == nil {
					return srid, true
				}
			}
		}
	}
	return 0, false
}

func sridFromName(name string) (int, bool) {
	key := strings.Trim(nonAlnumRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if srid, ok := wktNames[key]; ok {
		return srid, true
	}
	m := utmNameRe.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	zone, _ := strconv.Atoi(m[2])
	if zone < 1 || zone > 60 {
		return 0, false
	}
	nad := strings.HasPrefix(m[1], "nad")
	switch {
	case nad && m[3] == "n" && zone <= 23:
		return 26900 + zone, true
	case !nad && m[3] == "n":
		return 32600 + zone, true
	case !nad && m[3] == "s":
		return 32700 + zone, true
	}
	return 0, false
}
