package geo

import (
	"math"
	"testing"
)

// TestDistanceIdentity ensures identical points are exactly zero distance apart
func TestDistanceIdentity(t *testing.T) {
	points := []struct{ lat, lon float64 }{
		{0, 0},
		{23.8110, 90.4120},
		{51.5074, -0.1278},
		{-33.8688, 151.2093},
		{90, 180},
	}

	for _, p := range points {
		if d := DistanceKm(p.lat, p.lon, p.lat, p.lon); d != 0 {
			t.Errorf("DistanceKm(p, p) = %v for (%.4f, %.4f), want exactly 0", d, p.lat, p.lon)
		}
	}
}

// TestDistanceSymmetry ensures distance(a,b) == distance(b,a)
func TestDistanceSymmetry(t *testing.T) {
	pairs := []struct{ lat1, lon1, lat2, lon2 float64 }{
		{23.8110, 90.4120, 23.8260, 90.4220},
		{51.5074, -0.1278, 51.4772, 0.0005},
		{0, 0, -45, 120},
	}

	for _, p := range pairs {
		ab := DistanceKm(p.lat1, p.lon1, p.lat2, p.lon2)
		ba := DistanceKm(p.lat2, p.lon2, p.lat1, p.lon1)
		if ab != ba {
			t.Errorf("asymmetric distance: %v vs %v", ab, ba)
		}
	}
}

// TestDistanceDhaka uses the reference scenario: two points in Dhaka
// roughly 1.9km apart
func TestDistanceDhaka(t *testing.T) {
	d := DistanceKm(23.8110, 90.4120, 23.8260, 90.4220)
	if d < 1.8 || d > 2.0 {
		t.Errorf("DistanceKm = %.3f km, want ~1.9 ±0.1", d)
	}

	eta := EtaMinutes(d, DefaultSpeedKmh)
	if eta < 3.6 || eta > 4.0 {
		t.Errorf("EtaMinutes at 30km/h = %.2f, want ~3.8", eta)
	}
}

// TestEtaFasterIsSooner ensures higher speed always gives a lower ETA
func TestEtaFasterIsSooner(t *testing.T) {
	tests := []struct {
		d      float64
		slower float64
		faster float64
	}{
		{1.9, 5, 30},
		{10, 30, 60},
		{0.1, 4, 4.5},
	}

	for _, tc := range tests {
		slow := EtaMinutes(tc.d, tc.slower)
		fast := EtaMinutes(tc.d, tc.faster)
		if slow <= fast {
			t.Errorf("EtaMinutes(%.2f, %.1f) = %.2f should exceed EtaMinutes(%.2f, %.1f) = %.2f",
				tc.d, tc.slower, slow, tc.d, tc.faster, fast)
		}
	}
}

// TestEtaDegenerateInputs covers zero distance and non-positive speed
func TestEtaDegenerateInputs(t *testing.T) {
	if eta := EtaMinutes(0, 30); eta != 0 {
		t.Errorf("zero distance: got %v, want 0", eta)
	}
	// zero distance wins even with a broken speed
	if eta := EtaMinutes(0, 0); eta != 0 {
		t.Errorf("zero distance, zero speed: got %v, want 0", eta)
	}
	if eta := EtaMinutes(5, 0); !math.IsInf(eta, 1) {
		t.Errorf("zero speed: got %v, want +Inf", eta)
	}
	if eta := EtaMinutes(5, -10); !math.IsInf(eta, 1) {
		t.Errorf("negative speed: got %v, want +Inf", eta)
	}
}
