package KmlGeo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type Point struct {
	Coordinates string `xml:"coordinates"`
}

type LineString struct {
	Coordinates string `xml:"coordinates"`
}

type LinearRing struct {
	Coordinates string `xml:"coordinates"`
}

type boundary struct {
	LinearRing LinearRing `xml:"LinearRing"`
}

type Polygon struct {
	OuterBoundaryIs boundary   `xml:"outerBoundaryIs"`
	InnerBoundaryIs []boundary `xml:"innerBoundaryIs"`
}

// MultiGeometry 可以嵌套
type MultiGeometry struct {
	Points        []Point         `xml:"Point"`
	LineStrings   []LineString    `xml:"LineString"`
	Polygons      []Polygon       `xml:"Polygon"`
	MultiGeometry []MultiGeometry `xml:"MultiGeometry"`
}

var ErrNoCoordinates = errors.New("no coordinates")

// ParseCoordinates 解析 "lon,lat[,alt] lon,lat[,alt] ..." 形式的坐标串
func ParseCoordinates(s string) ([]orb.Point, error) {
	tuples := strings.Fields(s)
	out := make([]orb.Point, 0, len(tuples))
	for _, t := range tuples {
		parts := strings.Split(t, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("bad coordinate tuple %q", t)
		}
		x, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad longitude %q", parts[0])
		}
		y, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad latitude %q", parts[1])
		}
		out = append(out, orb.Point{x, y})
	}
	if len(out) == 0 {
		return nil, ErrNoCoordinates
	}
	return out, nil
}

func (p Point) Geometry() (orb.Point, error) {
	pts, err := ParseCoordinates(p.Coordinates)
	if err != nil {
		return orb.Point{}, err
	}
	return pts[0], nil
}

func (l LineString) Geometry() (orb.LineString, error) {
	pts, err := ParseCoordinates(l.Coordinates)
	if err != nil {
		return nil, err
	}
	return orb.LineString(pts), nil
}

func (r LinearRing) ring() (orb.Ring, error) {
	pts, err := ParseCoordinates(r.Coordinates)
	if err != nil {
		return nil, err
	}
	ring := orb.Ring(pts)
	if !ring.Closed() {
		ring = append(ring, ring[0])
	}
	return ring, nil
}

func (p Polygon) Geometry() (orb.Polygon, error) {
	outer, err := p.OuterBoundaryIs.LinearRing.ring()
	if err != nil {
		return nil, fmt.Errorf("outer boundary: %w", err)
	}
	poly := orb.Polygon{outer}
	for i, inner := range p.InnerBoundaryIs {
		ring, err := inner.LinearRing.ring()
		if err != nil {
			return nil, fmt.Errorf("inner boundary %d: %w", i+1, err)
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

// Geometry 同类成员合并为 Multi*, 混合类型返回 Collection
func (m MultiGeometry) Geometry() (orb.Geometry, error) {
	var parts []orb.Geometry
	for _, p := range m.Points {
		g, err := p.Geometry()
		if err != nil {
			return nil, err
		}
		parts = append(parts, g)
	}
	for _, l := range m.LineStrings {
		g, err := l.Geometry()
		if err != nil {
			return nil, err
		}
		parts = append(parts, g)
	}
	for _, p := range m.Polygons {
		g, err := p.Geometry()
		if err != nil {
			return nil, err
		}
		parts = append(parts, g)
	}
	for _, nested := range m.MultiGeometry {
		g, err := nested.Geometry()
		if err != nil {
			return nil, err
		}
		parts = append(parts, g)
	}
	if len(parts) == 0 {
		return nil, ErrNoCoordinates
	}
	return merge(parts), nil
}

func merge(parts []orb.Geometry) orb.Geometry {
	var (
		mp  orb.MultiPoint
		mls orb.MultiLineString
		mpg orb.MultiPolygon
	)
	for _, g := range parts {
		switch v := g.(type) {
		case orb.Point:
			mp = append(mp, v)
		case orb.LineString:
			mls = append(mls, v)
		case orb.Polygon:
			mpg = append(mpg, v)
		default:
			return orb.Collection(parts)
		}
	}
	switch len(parts) {
	case len(mp):
		return mp
	case len(mls):
		return mls
	case len(mpg):
		return mpg
	}
	return orb.Collection(parts)
}
