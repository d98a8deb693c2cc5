package Transformer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

const sampleKML = `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document>
  <name>sites</name>
  <Placemark id="pm-1">
    <name>Tower A</name>
    <description>rooftop</description>
    <ExtendedData>
      <Data name="height"><value>42</value></Data>
    </ExtendedData>
    <Point><coordinates>-82.99,39.96,0</coordinates></Point>
  </Placemark>
  <Folder>
    <name>nested</name>
    <Folder>
      <Placemark>
        <name>Route</name>
        <LineString><coordinates>-83.0,40.0 -82.9,40.1</coordinates></LineString>
      </Placemark>
    </Folder>
    <Placemark>
      <name>Yard</name>
      <ExtendedData>
        <SchemaData schemaUrl="#s"><SimpleData name="owner">city</SimpleData></SchemaData>
      </ExtendedData>
      <Polygon>
        <outerBoundaryIs><LinearRing><coordinates>0,0 0,10 10,10 10,0</coordinates></LinearRing></outerBoundaryIs>
        <innerBoundaryIs><LinearRing><coordinates>2,2 4,2 4,4 2,4 2,2</coordinates></LinearRing></innerBoundaryIs>
      </Polygon>
    </Placemark>
  </Folder>
  <Placemark>
    <name>Pair</name>
    <MultiGeometry>
      <Point><coordinates>1,1</coordinates></Point>
      <Point><coordinates>2,2</coordinates></Point>
    </MultiGeometry>
  </Placemark>
</Document>
</kml>`

func writeKML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.kml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpenKML(t *testing.T) {
	r, err := OpenKML(writeKML(t, sampleKML))
	if err != nil {
		t.Fatalf("OpenKML: %v", err)
	}
	defer r.Close()

	if crs := r.CRS(); crs.Code != "EPSG:4326" || !crs.HasCRS {
		t.Fatalf("CRS = %+v", crs)
	}
	records := readAllRecords(t, r)
	if len(records) != 4 {
		t.Fatalf("got %d placemarks, want 4", len(records))
	}

	pt, ok := records[0].Geometry.(orb.Point)
	if !ok || pt != (orb.Point{-82.99, 39.96}) {
		t.Fatalf("point = %#v", records[0].Geometry)
	}
	if records[0].FeatureID != "pm-1" {
		t.Errorf("feature id = %q", records[0].FeatureID)
	}
	props := records[0].Properties
	if props["Name"] != "Tower A" || props["Description"] != "rooftop" || props["height"] != "42" {
		t.Errorf("properties = %v", props)
	}

	if _, ok := records[1].Geometry.(orb.LineString); !ok {
		t.Errorf("nested folder placemark = %T", records[1].Geometry)
	}

	poly, ok := records[2].Geometry.(orb.Polygon)
	if !ok || len(poly) != 2 {
		t.Fatalf("polygon = %#v", records[2].Geometry)
	}
	if !poly[0].Closed() {
		t.Error("outer ring was not closed")
	}
	if records[2].Properties["owner"] != "city" {
		t.Errorf("schema data = %v", records[2].Properties)
	}

	if mp, ok := records[3].Geometry.(orb.MultiPoint); !ok || len(mp) != 2 {
		t.Errorf("multigeometry = %#v", records[3].Geometry)
	}
}

func TestOpenKMLBadPlacemark(t *testing.T) {
	body := `<kml><Placemark><name>ok</name><Point><coordinates>1,1</coordinates></Point></Placemark>
<Placemark><name>broken</name><Point><coordinates>abc,1</coordinates></Point></Placemark></kml>`
	r, err := OpenKML(writeKML(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err != nil {
		t.Fatalf("first placemark: %v", err)
	}
	_, err = r.Next()
	var recErr *RecordError
	if !errors.As(err, &recErr) || recErr.Index != 1 {
		t.Fatalf("second placemark error = %v, want RecordError at index 1", err)
	}
}

func TestOpenKMLInvalidXML(t *testing.T) {
	if _, err := OpenKML(writeKML(t, "<kml><Placemark>")); err == nil {
		t.Fatal("expected parse error")
	}
}
