package Transformer

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
)

func TestOpenGeoJSON(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"a-1","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"kind":"tree"}},
		{"type":"Feature","id":7,"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":null},
		{"type":"Feature","geometry":{"type":"Point","coordinates":[3,4]},"properties":{}}
	]}`)
	r, err := OpenGeoJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if r.CRS().HasCRS {
		t.Fatal("geojson should not report a CRS")
	}
	records := readAllRecords(t, r)
	if len(records) != 3 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].FeatureID != "a-1" || records[0].Properties["kind"] != "tree" {
		t.Errorf("first = %+v", records[0])
	}
	if records[0].Geometry != (orb.Point{1, 2}) {
		t.Errorf("geometry = %v", records[0].Geometry)
	}
	if records[1].FeatureID != "7" {
		t.Errorf("numeric id = %q", records[1].FeatureID)
	}
	if records[1].Properties == nil {
		t.Error("null properties should become an empty map")
	}
	if records[2].FeatureID != "" {
		t.Errorf("missing id = %q", records[2].FeatureID)
	}
}

func TestOpenGeoJSONInvalid(t *testing.T) {
	if _, err := OpenGeoJSON([]byte(`{"type":"Feature"`)); err == nil {
		t.Fatal("truncated json accepted")
	}

	r, err := OpenGeoJSON([]byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0]]},"properties":{}}]}`))
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Next()
	var recErr *RecordError
	if !errors.As(err, &recErr) || recErr.Index != 0 {
		t.Fatalf("err = %v, want RecordError at 0", err)
	}
}
