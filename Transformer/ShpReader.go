package Transformer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gitee.com/LJ_COOL/go-shp"
	"github.com/WebGisViewer/WebViewer-V2-BackEnd/methods"
	"github.com/paulmach/orb"
)

// 探测编码时采样的行数
const encodingSampleRows = 50

// shapefileBundle 暂存的 .shp 可能是单文件也可能是zip包
type shapefileBundle struct {
	shpPath string
	tmpDir  string
}

func openShapefileBundle(path string) (*shapefileBundle, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if !methods.IsZipFile(path) {
		return &shapefileBundle{shpPath: path}, nil
	}

	tmpDir, err := os.MkdirTemp("", "shpbundle-*")
	if err != nil {
		return nil, err
	}
	if err := methods.UnzipTo(path, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	files := FindFiles(tmpDir, "shp")
	if len(files) == 0 {
		os.RemoveAll(tmpDir)
		return nil, errors.New("no .shp file found in zip archive")
	}
	return &shapefileBundle{shpPath: files[0], tmpDir: tmpDir}, nil
}

func (b *shapefileBundle) Close() error {
	if b.tmpDir == "" {
		return nil
	}
	return os.RemoveAll(b.tmpDir)
}

func (b *shapefileBundle) crs() CRSInfo {
	prj, ok := companionFile(b.shpPath, ".prj")
	if !ok {
		return CRSInfo{}
	}
	data, err := os.ReadFile(prj)
	if err != nil {
		return CRSInfo{}
	}
	return ParsePrj(string(data))
}

func resolveShapefileCRS(path string) (CRSInfo, error) {
	bundle, err := openShapefileBundle(path)
	if err != nil {
		return CRSInfo{}, err
	}
	defer bundle.Close()
	return bundle.crs(), nil
}

type shpReader struct {
	bundle *shapefileBundle
	shape  *shp.Reader
	fields []shp.Field
	names  []string
	decode textDecoder
	crs    CRSInfo
	index  int
}

// OpenShapefile 打开 .shp 或zip包, 附属 .dbf/.prj/.cpg 同目录读取
func OpenShapefile(path string) (Reader, error) {
	bundle, err := openShapefileBundle(path)
	if err != nil {
		return nil, err
	}
	shape, err := shp.Open(bundle.shpPath)
	if err != nil {
		bundle.Close()
		return nil, fmt.Errorf("open shapefile: %w", err)
	}

	r := &shpReader{
		bundle: bundle,
		shape:  shape,
		fields: shape.Fields(),
		crs:    bundle.crs(),
	}
	r.decode = r.attributeDecoder()
	r.names = make([]string, len(r.fields))
	for k, f := range r.fields {
		r.names[k] = r.decode(f.String())
	}
	return r, nil
}

func (r *shpReader) attributeDecoder() textDecoder {
	if cpg, ok := companionFile(r.bundle.shpPath, ".cpg"); ok {
		if data, err := os.ReadFile(cpg); err == nil {
			if d, ok := decoderByName(string(data)); ok {
				return d
			}
		}
	}
	var samples []string
	for _, f := range r.fields {
		samples = append(samples, f.String())
	}
	rows := r.shape.AttributeCount()
	if rows > encodingSampleRows {
		rows = encodingSampleRows
	}
	for n := 0; n < rows; n++ {
		for k := range r.fields {
			samples = append(samples, r.shape.ReadAttribute(n, k))
		}
	}
	return detectDecoder(samples)
}

func (r *shpReader) CRS() CRSInfo { return r.crs }

func (r *shpReader) Next() (*Record, error) {
	if !r.shape.Next() {
		if err := r.shape.Err(); err != nil {
			return nil, &RecordError{Index: r.index, Err: err}
		}
		return nil, io.EOF
	}
	n, p := r.shape.Shape()
	idx := r.index
	r.index++

	geom, err := shapeToGeometry(p)
	if err != nil {
		return nil, &RecordError{Index: idx, Err: err}
	}
	if err := ValidateGeometry(geom); err != nil {
		return nil, &RecordError{Index: idx, Err: err}
	}
	return &Record{Geometry: geom, Properties: r.attributes(n)}, nil
}

func (r *shpReader) attributes(n int) map[string]interface{} {
	attrs := make(map[string]interface{}, len(r.fields))
	for k, f := range r.fields {
		attrs[r.names[k]] = dbfValue(f, r.decode(r.shape.ReadAttribute(n, k)))
	}
	return attrs
}

func (r *shpReader) Close() error {
	r.shape.Close()
	return r.bundle.Close()
}

// dbfValue 数值字段转为数字, 空值为 nil
func dbfValue(f shp.Field, raw string) interface{} {
	v := strings.TrimSpace(raw)
	switch f.Fieldtype {
	case 'N', 'F':
		if v == "" || strings.Trim(v, "*") == "" {
			return nil
		}
		if f.Precision == 0 {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i
			}
		}
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			return x
		}
		return v
	case 'L':
		switch strings.ToUpper(v) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	case 'D':
		if len(v) == 8 {
			return v[0:4] + "-" + v[4:6] + "-" + v[6:8]
		}
		if v == "" {
			return nil
		}
	}
	return v
}

func shapeToGeometry(p shp.Shape) (orb.Geometry, error) {
	switch s := p.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, nil
	case *shp.PointM:
		return orb.Point{s.X, s.Y}, nil
	case *shp.MultiPoint:
		return toMultiPoint(s.Points), nil
	case *shp.MultiPointZ:
		return toMultiPoint(s.Points), nil
	case *shp.MultiPointM:
		return toMultiPoint(s.Points), nil
	case *shp.PolyLine:
		return toLines(s.Points, s.Parts), nil
	case *shp.PolyLineZ:
		return toLines(s.Points, s.Parts), nil
	case *shp.PolyLineM:
		return toLines(s.Points, s.Parts), nil
	case *shp.Polygon:
		return toPolygons(s.Points, s.Parts), nil
	case *shp.PolygonZ:
		return toPolygons(s.Points, s.Parts), nil
	case *shp.PolygonM:
		return toPolygons(s.Points, s.Parts), nil
	case *shp.Null, nil:
		return nil, ErrEmptyGeometry
	}
	return nil, fmt.Errorf("unsupported shape type %T", p)
}

func toOrbPoints(points []shp.Point) []orb.Point {
	out := make([]orb.Point, len(points))
	for i, pt := range points {
		out[i] = orb.Point{pt.X, pt.Y}
	}
	return out
}

func toMultiPoint(points []shp.Point) orb.MultiPoint {
	return orb.MultiPoint(toOrbPoints(points))
}

// SplitPoints 按 parts 把点序列切成若干部分
func SplitPoints(points []shp.Point, parts []int32) [][]shp.Point {
	var out [][]shp.Point
	for i, start := range parts {
		end := int32(len(points))
		if i < len(parts)-1 {
			end = parts[i+1]
		}
		if start < 0 || start > end || end > int32(len(points)) {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

func toLines(points []shp.Point, parts []int32) orb.Geometry {
	segments := SplitPoints(points, parts)
	if len(segments) == 1 {
		return orb.LineString(toOrbPoints(segments[0]))
	}
	mls := make(orb.MultiLineString, 0, len(segments))
	for _, seg := range segments {
		mls = append(mls, orb.LineString(toOrbPoints(seg)))
	}
	return mls
}

// IsClockwise shapefile 中顺时针为外环, 逆时针为洞
func IsClockwise(points []orb.Point) bool {
	sum := 0.0
	for i := 0; i < len(points)-1; i++ {
		p1 := points[i]
		p2 := points[i+1]
		sum += (p2[0] - p1[0]) * (p2[1] + p1[1])
	}
	return sum > 0
}

// toPolygons 按环方向分组: 每个外环开始一个新面, 其后的逆时针环作为洞
func toPolygons(points []shp.Point, parts []int32) orb.Geometry {
	var mp orb.MultiPolygon
	for _, part := range SplitPoints(points, parts) {
		ring := orb.Ring(toOrbPoints(part))
		if IsClockwise(ring) || len(mp) == 0 {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		last := len(mp) - 1
		mp[last] = append(mp[last], ring)
	}
	if len(mp) == 1 {
		return mp[0]
	}
	return mp
}
