package tracker

import (
	"testing"
	"time"

	"uddhar.app/server"
)

func broadcast(userID string, lat, lon float64) *server.Message {
	m := server.NewReport(userID, lat, lon)
	m.Type = server.TypePositionBroadcast
	m.UpdatedAt = time.Now().UnixNano()
	return m
}

func TestNoDataYet(t *testing.T) {
	src := NewSynthetic()
	tr := New(src, "vol-1", 23.8110, 90.4120)
	tr.Start()
	defer tr.Stop()

	if _, ok := tr.Latest(); ok {
		t.Fatal("reading available before any broadcast")
	}
}

func TestTracksCounterpartOnly(t *testing.T) {
	src := NewSynthetic()
	tr := New(src, "vol-1", 23.8110, 90.4120)
	tr.Start()
	defer tr.Stop()

	src.Emit(broadcast("someone-else", 23.9000, 90.5000))
	if _, ok := tr.Latest(); ok {
		t.Fatal("tracker followed the wrong user")
	}

	src.Emit(broadcast("vol-1", 23.8260, 90.4220))
	u, ok := tr.Latest()
	if !ok {
		t.Fatal("no reading after matching broadcast")
	}
	if u.DistanceKm < 1.8 || u.DistanceKm > 2.0 {
		t.Fatalf("distance %.3f km, want ~1.9", u.DistanceKm)
	}
	if u.EtaMinutes < 3.6 || u.EtaMinutes > 4.0 {
		t.Fatalf("eta %.2f min, want ~3.8", u.EtaMinutes)
	}
}

func TestDistanceShrinksAsCounterpartApproaches(t *testing.T) {
	src := NewSynthetic()
	tr := New(src, "vol-1", 23.8110, 90.4120)
	tr.Start()
	defer tr.Stop()

	var got []float64
	tr.Subscribe(func(u Update) { got = append(got, u.DistanceKm) })

	// approach in 0.0005 degree latitude steps
	for _, lat := range []float64{23.8260, 23.8255, 23.8250, 23.8245} {
		src.Emit(broadcast("vol-1", lat, 90.4220))
	}

	if len(got) != 4 {
		t.Fatalf("%d readings, want 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i] >= got[i-1] {
			t.Fatalf("distance not strictly decreasing: %v", got)
		}
	}
}

func TestZeroDistanceIsARealReading(t *testing.T) {
	src := NewSynthetic()
	tr := New(src, "vol-1", 23.8110, 90.4120)
	tr.Start()
	defer tr.Stop()

	src.Emit(broadcast("vol-1", 23.8110, 90.4120))
	u, ok := tr.Latest()
	if !ok {
		t.Fatal("no reading")
	}
	if u.DistanceKm != 0 || u.EtaMinutes != 0 {
		t.Fatalf("co-located counterpart: distance=%v eta=%v", u.DistanceKm, u.EtaMinutes)
	}
}

func TestStopDetaches(t *testing.T) {
	src := NewSynthetic()
	tr := New(src, "vol-1", 23.8110, 90.4120)
	tr.Start()

	src.Emit(broadcast("vol-1", 23.8260, 90.4220))
	before, ok := tr.Latest()
	if !ok {
		t.Fatal("no reading before stop")
	}

	tr.Stop()
	src.Emit(broadcast("vol-1", 23.9000, 90.5000))

	after, ok := tr.Latest()
	if !ok {
		t.Fatal("last reading lost after stop")
	}
	if after != before {
		t.Fatal("tracker kept observing after stop")
	}
}

func TestSyntheticWalkConverges(t *testing.T) {
	src := NewSynthetic()
	defer src.Stop()

	tr := New(src, "vol-1", 23.8110, 90.4120)
	tr.Start()
	defer tr.Stop()

	done := make(chan Update, 16)
	tr.Subscribe(func(u Update) { done <- u })

	src.Walk("vol-1", 23.8260, 90.4220, 23.8110, 90.4120, 5, 10*time.Millisecond)

	var last Update
	for i := 0; i < 5; i++ {
		select {
		case last = <-done:
		case <-time.After(time.Second):
			t.Fatalf("walk stalled at step %d", i)
		}
	}
	if last.DistanceKm > 0.001 {
		t.Fatalf("walk did not converge on the observer, %.4f km left", last.DistanceKm)
	}
}
