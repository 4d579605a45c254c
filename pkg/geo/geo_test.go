package geo

import (
	"math"
	"testing"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantKm    float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: 10.0, lng1: 10.0,
			lat2: 10.0, lng2: 10.0,
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name: "short hop (~1.5km)",
			lat1: 10.0, lng1: 10.0,
			lat2: 10.01, lng2: 10.01,
			wantKm:    1.56,
			tolerance: 0.05,
		},
		{
			name: "New York to Los Angeles (~3944km)",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 34.0522, lng2: -118.2437,
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	d1 := HaversineKm(25.0, 121.0, 26.0, 122.0)
	d2 := HaversineKm(26.0, 122.0, 25.0, 121.0)
	if math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestInitialBearing_CardinalDirections(t *testing.T) {
	tests := []struct {
		name      string
		lat2      float64
		lng2      float64
		want      float64
		tolerance float64
	}{
		{name: "due north", lat2: 11.0, lng2: 10.0, want: 0, tolerance: 0.5},
		{name: "due east", lat2: 10.0, lng2: 11.0, want: 90, tolerance: 0.5},
		{name: "due south", lat2: 9.0, lng2: 10.0, want: 180, tolerance: 0.5},
		{name: "due west", lat2: 10.0, lng2: 9.0, want: 270, tolerance: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InitialBearing(10.0, 10.0, tt.lat2, tt.lng2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("InitialBearing() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestInterpolate(t *testing.T) {
	lat, lng := Interpolate(10.0, 20.0, 11.0, 22.0, 0.5)
	if math.Abs(lat-10.5) > 1e-9 || math.Abs(lng-21.0) > 1e-9 {
		t.Errorf("Interpolate() = (%f,%f), want (10.5,21.0)", lat, lng)
	}

	lat, lng = Interpolate(10.0, 20.0, 11.0, 22.0, 0)
	if lat != 10.0 || lng != 20.0 {
		t.Errorf("fraction 0 should return the start point, got (%f,%f)", lat, lng)
	}

	lat, lng = Interpolate(10.0, 20.0, 11.0, 22.0, 1)
	if lat != 11.0 || lng != 22.0 {
		t.Errorf("fraction 1 should return the end point, got (%f,%f)", lat, lng)
	}
}

func TestPointToSegmentMeters_PerpendicularOffset(t *testing.T) {
	// Segment running east along latitude 10; point ~111m north of its middle.
	// One degree of latitude is ~111.19km, so 0.001 deg ≈ 111.2m.
	got := PointToSegmentMeters(10.001, 10.005, 10.0, 10.0, 10.0, 10.01)
	if math.Abs(got-111.2) > 2 {
		t.Errorf("PointToSegmentMeters() = %f, want ~111.2", got)
	}
}

func TestPointToSegmentMeters_ClampsToEndpoints(t *testing.T) {
	// Point beyond the east end of the segment: distance is to the endpoint,
	// not to the infinite line.
	endpoint := MetersBetween(10.0, 10.02, 10.0, 10.01)
	got := PointToSegmentMeters(10.0, 10.02, 10.0, 10.0, 10.0, 10.01)
	if math.Abs(got-endpoint) > 1 {
		t.Errorf("PointToSegmentMeters() = %f, want endpoint distance %f", got, endpoint)
	}
}

func TestPointToSegmentMeters_DegenerateSegment(t *testing.T) {
	want := MetersBetween(10.001, 10.0, 10.0, 10.0)
	got := PointToSegmentMeters(10.001, 10.0, 10.0, 10.0, 10.0, 10.0)
	if math.Abs(got-want) > 1 {
		t.Errorf("PointToSegmentMeters() = %f, want %f", got, want)
	}
}

func TestPointToSegmentMeters_OnSegment(t *testing.T) {
	got := PointToSegmentMeters(10.0, 10.005, 10.0, 10.0, 10.0, 10.01)
	if got > 0.5 {
		t.Errorf("point on segment should be ~0m away, got %f", got)
	}
}
