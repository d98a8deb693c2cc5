package Transformer

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Record 读取到的一条要素, 几何仍为源坐标系
type Record struct {
	Geometry   orb.Geometry
	Properties map[string]interface{}
	FeatureID  string
}

// Reader 按格式实现的要素读取器
type Reader interface {
	// Next 返回下一条记录, 读完后返回 io.EOF
	Next() (*Record, error)
	// CRS 文件自带的坐标系
	CRS() CRSInfo
	Close() error
}

// RecordError 某条记录无法解析, 整个导入应中止
type RecordError struct {
	Index int
	Err   error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index+1, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// OpenReader 按格式打开暂存文件
func OpenReader(path string, format Format) (Reader, error) {
	switch format {
	case FormatShapefile:
		return OpenShapefile(path)
	case FormatKML:
		return OpenKML(path)
	case FormatSpatialDB:
		return OpenSpatialDB(path)
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

var (
	ErrEmptyGeometry = errors.New("empty geometry")
	ErrBadCoordinate = errors.New("coordinate is not a finite number")
)

// ValidateGeometry 检查几何是否可入库: 非空, 坐标有限, 线至少两点, 环至少四点
func ValidateGeometry(g orb.Geometry) error {
	switch v := g.(type) {
	case nil:
		return ErrEmptyGeometry
	case orb.Point:
		return checkPoint(v)
	case orb.MultiPoint:
		if len(v) == 0 {
			return ErrEmptyGeometry
		}
		return checkPoints(v)
	case orb.LineString:
		if len(v) < 2 {
			return fmt.Errorf("linestring has %d points", len(v))
		}
		return checkPoints(v)
	case orb.MultiLineString:
		if len(v) == 0 {
			return ErrEmptyGeometry
		}
		for _, ls := range v {
			if err := ValidateGeometry(ls); err != nil {
				return err
			}
		}
	case orb.Ring:
		if len(v) < 4 {
			return fmt.Errorf("ring has %d points", len(v))
		}
		return checkPoints(v)
	case orb.Polygon:
		if len(v) == 0 {
			return ErrEmptyGeometry
		}
		for _, r := range v {
			if err := ValidateGeometry(r); err != nil {
				return err
			}
		}
	case orb.MultiPolygon:
		if len(v) == 0 {
			return ErrEmptyGeometry
		}
		for _, p := range v {
			if err := ValidateGeometry(p); err != nil {
				return err
			}
		}
	case orb.Collection:
		if len(v) == 0 {
			return ErrEmptyGeometry
		}
		for _, c := range v {
			if err := ValidateGeometry(c); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
	return nil
}

func checkPoints(ps []orb.Point) error {
	for _, p := range ps {
		if err := checkPoint(p); err != nil {
			return err
		}
	}
	return nil
}

func checkPoint(p orb.Point) error {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return ErrBadCoordinate
		}
	}
	return nil
}
