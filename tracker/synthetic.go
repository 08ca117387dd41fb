package tracker

import (
	"sync"
	"time"

	"uddhar.app/server"
)

// Synthetic fabricates a counterpart's movement for demos and tests. It
// implements Source, so a Tracker cannot tell it apart from a real feed.
type Synthetic struct {
	mtx      sync.Mutex
	nextID   int
	handlers map[int]func(*server.Message)
	stop     chan bool
	stopped  bool
}

// NewSynthetic creates an idle synthetic source
func NewSynthetic() *Synthetic {
	return &Synthetic{
		handlers: make(map[int]func(*server.Message)),
		stop:     make(chan bool),
	}
}

// OnMessage registers a handler, returns an id for OffMessage
func (s *Synthetic) OnMessage(fn func(*server.Message)) int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.nextID++
	s.handlers[s.nextID] = fn
	return s.nextID
}

// OffMessage removes a handler by id
func (s *Synthetic) OffMessage(id int) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	delete(s.handlers, id)
}

// Emit delivers one frame to all handlers synchronously
func (s *Synthetic) Emit(m *server.Message) {
	s.mtx.Lock()
	handlers := make([]func(*server.Message), 0, len(s.handlers))
	for _, fn := range s.handlers {
		handlers = append(handlers, fn)
	}
	s.mtx.Unlock()

	for _, fn := range handlers {
		fn(m)
	}
}

// Walk emits broadcasts for userID moving in a straight line from
// (fromLat, fromLon) to (toLat, toLon) in steps ticks spaced by interval.
// It runs in the background until finished or stopped.
func (s *Synthetic) Walk(userID string, fromLat, fromLon, toLat, toLon float64, steps int, interval time.Duration) {
	if steps < 1 {
		steps = 1
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for i := 1; i <= steps; i++ {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
			}

			f := float64(i) / float64(steps)
			lat := fromLat + (toLat-fromLat)*f
			lon := fromLon + (toLon-fromLon)*f

			m := server.NewReport(userID, lat, lon)
			m.Type = server.TypePositionBroadcast
			m.UpdatedAt = time.Now().UnixNano()
			s.Emit(m)
		}
	}()
}

// Stop halts any running walk
func (s *Synthetic) Stop() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stop)
}
