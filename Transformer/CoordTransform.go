package Transformer

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/project"
	"gorm.io/gorm"
)

// Reprojector 把几何从 src 坐标系转换到 dst, 实现需并发安全
type Reprojector interface {
	Reproject(ctx context.Context, g orb.Geometry, src, dst int) (orb.Geometry, error)
}

// UnsupportedTransformError 当前环境无法完成该坐标系对的转换
type UnsupportedTransformError struct {
	Src, Dst int
}

func (e *UnsupportedTransformError) Error() string {
	return fmt.Sprintf("no transformation available from %s to %s", EPSGCode(e.Src), EPSGCode(e.Dst))
}

var ErrInvalidLatLng = errors.New("reprojected coordinate is not a valid latitude/longitude")

// Web 墨卡托的别名
var mercatorAliases = map[int]bool{3857: true, 900913: true, 3785: true, 102100: true, 102113: true}

func canonicalSRID(srid int) int {
	if mercatorAliases[srid] {
		return 3857
	}
	return srid
}

// localReprojector 进程内完成 4326 与 3857 互转
type localReprojector struct{}

func (localReprojector) supports(src, dst int) bool {
	return (src == 4326 && dst == 3857) || (src == 3857 && dst == 4326)
}

func (localReprojector) Reproject(_ context.Context, g orb.Geometry, src, dst int) (orb.Geometry, error) {
	switch {
	case src == 4326 && dst == 3857:
		return project.Geometry(orb.Clone(g), project.WGS84.ToMercator), nil
	case src == 3857 && dst == 4326:
		return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84), nil
	}
	return nil, &UnsupportedTransformError{Src: src, Dst: dst}
}

// PostGISReprojector 其他坐标系对交给 ST_Transform
type PostGISReprojector struct {
	DB *gorm.DB
}

func (p *PostGISReprojector) Reproject(ctx context.Context, g orb.Geometry, src, dst int) (orb.Geometry, error) {
	data, err := wkb.Marshal(g)
	if err != nil {
		return nil, err
	}
	var out []byte
	row := p.DB.WithContext(ctx).
		Raw("SELECT ST_AsBinary(ST_Transform(ST_SetSRID(ST_GeomFromWKB(?), ?), ?))", data, src, dst).
		Row()
	if err := row.Scan(&out); err != nil {
		return nil, fmt.Errorf("ST_Transform %s -> %s: %w", EPSGCode(src), EPSGCode(dst), err)
	}
	return wkb.Unmarshal(out)
}

// chainReprojector 相同坐标系直接返回, 4326/3857 本地计算, 其余走 PostGIS
type chainReprojector struct {
	local   localReprojector
	postgis *PostGISReprojector
}

// NewReprojector db 为 nil 时不启用 PostGIS
func NewReprojector(db *gorm.DB) Reprojector {
	r := &chainReprojector{}
	if db != nil {
		r.postgis = &PostGISReprojector{DB: db}
	}
	return r
}

func (r *chainReprojector) Reproject(ctx context.Context, g orb.Geometry, src, dst int) (orb.Geometry, error) {
	s, d := canonicalSRID(src), canonicalSRID(dst)
	var (
		out orb.Geometry
		err error
	)
	switch {
	case s == d:
		out = g
	case r.local.supports(s, d):
		out, err = r.local.Reproject(ctx, g, s, d)
	case r.postgis != nil:
		out, err = r.postgis.Reproject(ctx, g, src, dst)
	default:
		return nil, &UnsupportedTransformError{Src: src, Dst: dst}
	}
	if err != nil {
		return nil, err
	}
	if IsGeographic(d) {
		if err := ValidateLatLng(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ValidateLatLng 地理坐标系下每个点都必须是合法经纬度
func ValidateLatLng(g orb.Geometry) error {
	var bad bool
	eachPoint(g, func(p orb.Point) {
		if !s2.LatLngFromDegrees(p[1], p[0]).IsValid() {
			bad = true
		}
	})
	if bad {
		return ErrInvalidLatLng
	}
	return nil
}

func eachPoint(g orb.Geometry, fn func(orb.Point)) {
	switch v := g.(type) {
	case orb.Point:
		fn(v)
	case orb.MultiPoint:
		for _, p := range v {
			fn(p)
		}
	case orb.LineString:
		for _, p := range v {
			fn(p)
		}
	case orb.Ring:
		for _, p := range v {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range v {
			eachPoint(ls, fn)
		}
	case orb.Polygon:
		for _, r := range v {
			eachPoint(r, fn)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			eachPoint(p, fn)
		}
	case orb.Collection:
		for _, c := range v {
			eachPoint(c, fn)
		}
	case orb.Bound:
		eachPoint(v.ToPolygon(), fn)
	}
}
