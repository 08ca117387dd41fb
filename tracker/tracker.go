// Package tracker turns the live position stream for one counterpart into a
// continuously updated distance and ETA pair.
package tracker

import (
	"sync"

	"uddhar.app/geo"
	"uddhar.app/server"
)

// Source is any live feed the tracker can observe. A reconnecting feed
// client satisfies it; so does a synthetic generator for demos.
type Source interface {
	OnMessage(fn func(*server.Message)) int
	OffMessage(id int)
}

// Update is one computed proximity reading for the counterpart
type Update struct {
	Latitude   float64
	Longitude  float64
	DistanceKm float64
	EtaMinutes float64
	UpdatedAt  int64
}

// Tracker follows one counterpart through the broadcast stream. The observer
// point is fixed; every matching broadcast moves the counterpart and
// publishes a fresh reading.
type Tracker struct {
	source      Source
	counterpart string
	lat         float64
	lon         float64
	speedKmh    float64

	mtx       sync.RWMutex
	handlerID int
	running   bool
	latest    Update
	seen      bool
	subs      []func(Update)
}

// New creates a tracker for the given counterpart, observed from a fixed
// point. ETA assumes the default travel speed.
func New(source Source, counterpart string, lat, lon float64) *Tracker {
	return &Tracker{
		source:      source,
		counterpart: counterpart,
		lat:         lat,
		lon:         lon,
		speedKmh:    geo.DefaultSpeedKmh,
	}
}

// Start attaches the tracker to its source. Idempotent.
func (t *Tracker) Start() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.handlerID = t.source.OnMessage(t.observe)
}

// Stop detaches from the source. The last reading remains available.
func (t *Tracker) Stop() {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	if !t.running {
		return
	}
	t.running = false
	t.source.OffMessage(t.handlerID)
}

// Latest returns the most recent reading. The second return is false until
// the first matching broadcast arrives; no data is not zero distance.
func (t *Tracker) Latest() (Update, bool) {
	t.mtx.RLock()
	defer t.mtx.RUnlock()
	return t.latest, t.seen
}

// Subscribe registers a callback for every new reading
func (t *Tracker) Subscribe(fn func(Update)) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.subs = append(t.subs, fn)
}

func (t *Tracker) observe(m *server.Message) {
	if m.Type != server.TypePositionBroadcast || m.UserID != t.counterpart {
		return
	}
	if m.Latitude == nil || m.Longitude == nil {
		return
	}

	dist := geo.DistanceKm(t.lat, t.lon, *m.Latitude, *m.Longitude)
	u := Update{
		Latitude:   *m.Latitude,
		Longitude:  *m.Longitude,
		DistanceKm: dist,
		EtaMinutes: geo.EtaMinutes(dist, t.speedKmh),
		UpdatedAt:  m.UpdatedAt,
	}

	t.mtx.Lock()
	t.latest = u
	t.seen = true
	subs := make([]func(Update), len(t.subs))
	copy(subs, t.subs)
	t.mtx.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}
