package Transformer

import (
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"
)

// geojsonReader 读取已在存储坐标系中的 FeatureCollection, 用于导出后再导入
type geojsonReader struct {
	features []*geojson.Feature
	index    int
}

func OpenGeoJSON(data []byte) (Reader, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	return &geojsonReader{features: fc.Features}, nil
}

// CRS GeoJSON 不携带坐标系, 由调用方指定
func (r *geojsonReader) CRS() CRSInfo { return CRSInfo{} }

func (r *geojsonReader) Next() (*Record, error) {
	if r.index >= len(r.features) {
		return nil, io.EOF
	}
	idx := r.index
	r.index++
	f := r.features[idx]
	if f == nil {
		return nil, &RecordError{Index: idx, Err: ErrEmptyGeometry}
	}
	if err := ValidateGeometry(f.Geometry); err != nil {
		return nil, &RecordError{Index: idx, Err: err}
	}
	rec := &Record{Geometry: f.Geometry, Properties: map[string]interface{}(f.Properties)}
	if rec.Properties == nil {
		rec.Properties = map[string]interface{}{}
	}
	switch id := f.ID.(type) {
	case nil:
	case string:
		rec.FeatureID = id
	case float64:
		rec.FeatureID = fmt.Sprintf("%v", id)
	default:
		rec.FeatureID = fmt.Sprint(id)
	}
	return rec, nil
}

func (r *geojsonReader) Close() error { return nil }
