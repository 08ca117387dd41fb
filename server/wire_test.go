package server

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	m, err := Decode([]byte(`{"type": "position_report", "userId": "u1", "latitude": 23.8110, "longitude": 90.4120}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.Type != TypePositionReport || m.UserID != "u1" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if m.Latitude == nil || *m.Latitude != 23.8110 {
		t.Fatalf("latitude not decoded: %+v", m.Latitude)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode([]byte(`{"type": "shutdown"}`)); !errors.Is(err, ErrMalformedReport) {
		t.Fatalf("expected ErrMalformedReport, got %v", err)
	}
	if _, err := Decode([]byte(`not json`)); !errors.Is(err, ErrMalformedReport) {
		t.Fatalf("expected ErrMalformedReport, got %v", err)
	}
}

func TestValidateReport(t *testing.T) {
	lat, lon := 23.8110, 90.4120
	bad := 91.0

	for _, tc := range []struct {
		name string
		m    *Message
		ok   bool
	}{
		{"valid", &Message{Type: TypePositionReport, UserID: "u1", Latitude: &lat, Longitude: &lon}, true},
		{"missing user", &Message{Type: TypePositionReport, Latitude: &lat, Longitude: &lon}, false},
		{"missing coordinates", &Message{Type: TypePositionReport, UserID: "u1"}, false},
		{"latitude out of range", &Message{Type: TypePositionReport, UserID: "u1", Latitude: &bad, Longitude: &lon}, false},
	} {
		err := tc.m.ValidateReport()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrMalformedReport) {
			t.Errorf("%s: expected ErrMalformedReport, got %v", tc.name, err)
		}
	}
}

func TestZeroCoordinatesAreValid(t *testing.T) {
	// null island is a real position, not a missing one
	zero := 0.0
	m := &Message{Type: TypePositionReport, UserID: "u1", Latitude: &zero, Longitude: &zero}
	if err := m.ValidateReport(); err != nil {
		t.Fatalf("zero coordinates rejected: %v", err)
	}
}

func TestUpdatedAtMarshalsAsString(t *testing.T) {
	m := &Message{Type: TypePositionBroadcast, UserID: "u1", UpdatedAt: 1234567890123456789}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	// nanosecond timestamps overflow float64 precision in javascript clients
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if s, ok := raw["updatedAt"].(string); !ok || s != "1234567890123456789" {
		t.Fatalf("updatedAt not a string: %v", raw["updatedAt"])
	}
}
