package Transformer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

var errTruncatedBlob = errors.New("truncated spatialite geometry")

// SpatiaLite 原生几何: 0x00 | 字节序 | srid | MBR(4*double) | 0x7C | 类型 | 内容 | 0xFE
func isSpatiaLiteBlob(b []byte) bool {
	return len(b) >= 44 && b[0] == 0x00 && b[38] == 0x7C && b[len(b)-1] == 0xFE
}

type slReader struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
}

func (r *slReader) uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, errTruncatedBlob
	}
	v := r.order.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *slReader) float() (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, errTruncatedBlob
	}
	v := math.Float64frombits(r.order.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

// point 只保留 XY, Z/M 跳过
func (r *slReader) point(dims int) (orb.Point, error) {
	x, err := r.float()
	if err != nil {
		return orb.Point{}, err
	}
	y, err := r.float()
	if err != nil {
		return orb.Point{}, err
	}
	r.pos += 8 * (dims - 2)
	if r.pos > len(r.buf) {
		return orb.Point{}, errTruncatedBlob
	}
	return orb.Point{x, y}, nil
}

func (r *slReader) points(dims int) ([]orb.Point, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if int(n)*dims*8 > len(r.buf)-r.pos {
		return nil, errTruncatedBlob
	}
	out := make([]orb.Point, n)
	for i := range out {
		if out[i], err = r.point(dims); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *slReader) polygon(dims int) (orb.Polygon, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	poly := make(orb.Polygon, 0, n)
	for i := uint32(0); i < n; i++ {
		ring, err := r.points(dims)
		if err != nil {
			return nil, err
		}
		poly = append(poly, orb.Ring(ring))
	}
	return poly, nil
}

func (r *slReader) geometry(class uint32) (orb.Geometry, error) {
	if class >= 1000000 {
		return nil, fmt.Errorf("compressed spatialite geometry class %d is not supported", class)
	}
	dims := 2
	switch class / 1000 {
	case 1, 2:
		dims = 3
	case 3:
		dims = 4
	}
	switch class % 1000 {
	case 1:
		return r.point(dims)
	case 2:
		pts, err := r.points(dims)
		return orb.LineString(pts), err
	case 3:
		return r.polygon(dims)
	case 4, 5, 6, 7:
		return r.collection(class % 1000)
	}
	return nil, fmt.Errorf("unknown spatialite geometry class %d", class)
}

// collection 每个子实体以 0x69 开头并带自身类型
func (r *slReader) collection(kind uint32) (orb.Geometry, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	var parts []orb.Geometry
	for i := uint32(0); i < n; i++ {
		if r.pos >= len(r.buf) || r.buf[r.pos] != 0x69 {
			return nil, errors.New("invalid spatialite entity marker")
		}
		r.pos++
		class, err := r.uint32()
		if err != nil {
			return nil, err
		}
		g, err := r.geometry(class)
		if err != nil {
			return nil, err
		}
		parts = append(parts, g)
	}

	switch kind {
	case 4:
		mp := make(orb.MultiPoint, 0, len(parts))
		for _, g := range parts {
			if p, ok := g.(orb.Point); ok {
				mp = append(mp, p)
			}
		}
		return mp, nil
	case 5:
		mls := make(orb.MultiLineString, 0, len(parts))
		for _, g := range parts {
			if ls, ok := g.(orb.LineString); ok {
				mls = append(mls, ls)
			}
		}
		return mls, nil
	case 6:
		mp := make(orb.MultiPolygon, 0, len(parts))
		for _, g := range parts {
			if p, ok := g.(orb.Polygon); ok {
				mp = append(mp, p)
			}
		}
		return mp, nil
	}
	return orb.Collection(parts), nil
}

func decodeSpatiaLite(b []byte) (orb.Geometry, error) {
	if !isSpatiaLiteBlob(b) {
		return nil, errors.New("invalid spatialite geometry blob")
	}
	r := &slReader{buf: b[:len(b)-1], pos: 39, order: binary.BigEndian}
	if b[1] == 0x01 {
		r.order = binary.LittleEndian
	}
	class, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.geometry(class)
}
