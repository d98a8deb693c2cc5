package Transformer

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/WebGisViewer/WebViewer-V2-BackEnd/Transformer/KmlGeo"
	"github.com/paulmach/orb"
)

type Kml struct {
	XMLName   xml.Name    `xml:"kml"`
	Document  []Container `xml:"Document"`
	Folder    []Container `xml:"Folder"`
	Placemark []Placemark `xml:"Placemark"`
}

// Container Document 与 Folder 结构相同, 可以互相嵌套
type Container struct {
	Name      string      `xml:"name"`
	Document  []Container `xml:"Document"`
	Folder    []Container `xml:"Folder"`
	Placemark []Placemark `xml:"Placemark"`
}

type Placemark struct {
	ID            string                `xml:"id,attr"`
	Name          string                `xml:"name"`
	Description   string                `xml:"description"`
	ExtendedData  ExtendedData          `xml:"ExtendedData"`
	Point         *KmlGeo.Point         `xml:"Point"`
	LineString    *KmlGeo.LineString    `xml:"LineString"`
	Polygon       *KmlGeo.Polygon       `xml:"Polygon"`
	MultiGeometry *KmlGeo.MultiGeometry `xml:"MultiGeometry"`
}

type ExtendedData struct {
	Data       []Data       `xml:"Data"`
	SchemaData []SchemaData `xml:"SchemaData"`
}

type Data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type SchemaData struct {
	SimpleData []SimpleData `xml:"SimpleData"`
}

type SimpleData struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

func (c Container) collect(out []Placemark) []Placemark {
	out = append(out, c.Placemark...)
	for _, d := range c.Document {
		out = d.collect(out)
	}
	for _, f := range c.Folder {
		out = f.collect(out)
	}
	return out
}

// Placemarks 按文档顺序展开所有层级的 Placemark
func (k *Kml) Placemarks() []Placemark {
	root := Container{Document: k.Document, Folder: k.Folder, Placemark: k.Placemark}
	return root.collect(nil)
}

func (p Placemark) Geometry() (orb.Geometry, error) {
	switch {
	case p.Point != nil:
		return p.Point.Geometry()
	case p.LineString != nil:
		return p.LineString.Geometry()
	case p.Polygon != nil:
		return p.Polygon.Geometry()
	case p.MultiGeometry != nil:
		return p.MultiGeometry.Geometry()
	}
	return nil, ErrEmptyGeometry
}

func (p Placemark) Properties() map[string]interface{} {
	attrs := make(map[string]interface{})
	if name := strings.TrimSpace(p.Name); name != "" {
		attrs["Name"] = name
	}
	if desc := strings.TrimSpace(p.Description); desc != "" {
		attrs["Description"] = desc
	}
	for _, d := range p.ExtendedData.Data {
		attrs[d.Name] = strings.TrimSpace(d.Value)
	}
	for _, sd := range p.ExtendedData.SchemaData {
		for _, f := range sd.SimpleData {
			attrs[f.Name] = strings.TrimSpace(f.Value)
		}
	}
	return attrs
}

type kmlReader struct {
	placemarks []Placemark
	index      int
}

// OpenKML 解析整个KML文档, KML 坐标固定为 WGS 84
func OpenKML(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var doc Kml
	if err := xml.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse kml: %w", err)
	}
	return &kmlReader{placemarks: doc.Placemarks()}, nil
}

func (r *kmlReader) CRS() CRSInfo {
	return CRSInfo{HasCRS: true, Code: EPSGCode(4326), Name: CRSName(4326)}
}

func (r *kmlReader) Next() (*Record, error) {
	if r.index >= len(r.placemarks) {
		return nil, io.EOF
	}
	idx := r.index
	pm := r.placemarks[idx]
	r.index++

	geom, err := pm.Geometry()
	if err == nil {
		err = ValidateGeometry(geom)
	}
	if err != nil {
		return nil, &RecordError{Index: idx, Err: err}
	}
	return &Record{Geometry: geom, Properties: pm.Properties(), FeatureID: pm.ID}, nil
}

func (r *kmlReader) Close() error { return nil }
