package geo

import (
	"math"
	"testing"
)

func TestLatLonValid(t *testing.T) {
	cases := []struct {
		name string
		ll   LatLon
		want bool
	}{
		{"origin", LatLon{0, 0}, true},
		{"north pole", LatLon{90, 0}, true},
		{"south pole", LatLon{-90, 0}, true},
		{"date line", LatLon{0, 180}, true},
		{"lat too big", LatLon{90.0001, 0}, false},
		{"lat too small", LatLon{-91, 0}, false},
		{"lon too big", LatLon{0, 180.5}, false},
		{"lon too small", LatLon{0, -181}, false},
		{"nan lat", LatLon{math.NaN(), 0}, false},
		{"nan lon", LatLon{0, math.NaN()}, false},
		{"osmose unset sentinel", LatLon{999, 999}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.ll.Valid(); got != c.want {
				t.Fatalf("Valid(%+v) = %v, want %v", c.ll, got, c.want)
			}
		})
	}
}

func TestBoundValid(t *testing.T) {
	cases := []struct {
		name string
		b    Bound
		want bool
	}{
		{"normal", Bound{MinLat: 1, MinLon: 2, MaxLat: 3, MaxLon: 4}, true},
		{"degenerate point", Bound{MinLat: 1, MinLon: 2, MaxLat: 1, MaxLon: 2}, true},
		{"inverted lat", Bound{MinLat: 3, MinLon: 2, MaxLat: 1, MaxLon: 4}, false},
		{"inverted lon", Bound{MinLat: 1, MinLon: 4, MaxLat: 3, MaxLon: 2}, false},
		{"out of world", Bound{MinLat: -95, MinLon: 0, MaxLat: 0, MaxLon: 1}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.b.Valid(); got != c.want {
				t.Fatalf("Valid(%+v) = %v, want %v", c.b, got, c.want)
			}
		})
	}
}

func TestBoundContains(t *testing.T) {
	b := Bound{MinLat: 10, MinLon: 20, MaxLat: 30, MaxLon: 40}
	if !b.Contains(LatLon{Lat: 15, Lon: 25}) {
		t.Fatal("interior point should be contained")
	}
	if !b.Contains(LatLon{Lat: 10, Lon: 20}) {
		t.Fatal("corner should be contained")
	}
	if b.Contains(LatLon{Lat: 9.9, Lon: 25}) {
		t.Fatal("point below should not be contained")
	}
	if b.Contains(LatLon{Lat: 15, Lon: 41}) {
		t.Fatal("point east should not be contained")
	}
}

func TestDistance(t *testing.T) {
	if d := Distance(Point{0, 0}, Point{3, 4}); d != 5 {
		t.Fatalf("Distance = %v, want 5", d)
	}
	if d := Distance(Point{1, 1}, Point{1, 1}); d != 0 {
		t.Fatalf("Distance to self = %v, want 0", d)
	}
}
