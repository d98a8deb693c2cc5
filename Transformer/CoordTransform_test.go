package Transformer

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestReprojectIdentity(t *testing.T) {
	r := NewReprojector(nil)
	line := orb.LineString{{500000, 4400000}, {500100, 4400100}}
	got, err := r.Reproject(context.Background(), line, 32618, 32618)
	if err != nil {
		t.Fatal(err)
	}
	if !orb.Equal(got, line) {
		t.Fatalf("identity changed geometry: %v", got)
	}
}

func TestReprojectWebMercator(t *testing.T) {
	r := NewReprojector(nil)
	ctx := context.Background()

	src := orb.Point{180, 0}
	got, err := r.Reproject(ctx, src, 4326, 3857)
	if err != nil {
		t.Fatal(err)
	}
	p := got.(orb.Point)
	if math.Abs(p[0]-20037508.342789244) > 1e-3 || math.Abs(p[1]) > 1e-6 {
		t.Fatalf("4326->3857 = %v", p)
	}
	if src != (orb.Point{180, 0}) {
		t.Fatal("input geometry was modified")
	}

	// 别名 900913 与 3857 等价
	back, err := r.Reproject(ctx, orb.Point{-9238400, 4865942}, 900913, 4326)
	if err != nil {
		t.Fatal(err)
	}
	bp := back.(orb.Point)
	if math.Abs(bp[0]+82.99) > 0.01 || math.Abs(bp[1]-40.0) > 0.1 {
		t.Fatalf("900913->4326 = %v", bp)
	}
}

func TestReprojectUnsupported(t *testing.T) {
	_, err := NewReprojector(nil).Reproject(context.Background(), orb.Point{1, 1}, 32618, 4326)
	var unsupported *UnsupportedTransformError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want UnsupportedTransformError", err)
	}
	if err.Error() != "no transformation available from EPSG:32618 to EPSG:4326" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestReprojectInvalidLatLng(t *testing.T) {
	_, err := NewReprojector(nil).Reproject(context.Background(), orb.Point{10, 95}, 4326, 4326)
	if !errors.Is(err, ErrInvalidLatLng) {
		t.Fatalf("err = %v, want ErrInvalidLatLng", err)
	}
	if err := ValidateLatLng(orb.Polygon{{{0, 0}, {0, 1}, {1, 1}, {0, 0}}}); err != nil {
		t.Fatalf("valid polygon rejected: %v", err)
	}
	if err := ValidateLatLng(orb.MultiPoint{{0, 0}, {181, 0}}); err == nil {
		t.Fatal("longitude 181 accepted")
	}
}
