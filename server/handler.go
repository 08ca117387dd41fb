package server

import (
	"encoding/json"
	"net/http"

	"uddhar.app/data"
	"uddhar.app/store"
)

// API is the HTTP surface of the presence subsystem. Handlers hold their
// dependencies explicitly; nothing reaches through a singleton.
type API struct {
	Gateway     *Gateway
	Store       *store.Store
	Push        *PushManager
	Assignments *data.AssignmentsFile
}

// Routes registers all handlers on the mux
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/presence", a.Presence)
	mux.HandleFunc("/locations", a.Locations)
	mux.HandleFunc("/assignments", a.Assignment)
	mux.HandleFunc("/push/subscribe", a.PushSubscribe)
	mux.HandleFunc("/register", a.Register)
}

// Register creates or updates a user in the directory:
// POST {"userId", "name", "role"}
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "unsupported method "+r.Method, 400)
		return
	}

	var req struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UserID) == 0 || len(req.Name) == 0 {
		http.Error(w, "userId and name required", 400)
		return
	}
	switch req.Role {
	case store.RoleVolunteer, store.RoleAffected, store.RoleOther:
	default:
		http.Error(w, "role must be volunteer, affected or other", 400)
		return
	}

	if err := a.Store.AddUser(req.UserID, req.Name, req.Role); err != nil {
		http.Error(w, "cannot register user", 500)
		return
	}
	w.WriteHeader(204)
}

// Presence serves the live position feed over a websocket
func (a *API) Presence(w http.ResponseWriter, r *http.Request) {
	if !IsWebSocket(r) {
		http.Error(w, "websocket upgrade required", 400)
		return
	}
	ServeWebSocket(w, r, a.Gateway)
}

// Locations returns current records as normalized broadcast-shaped JSON,
// optionally filtered by role: /locations?role=volunteer
func (a *API) Locations(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "unsupported method "+r.Method, 400)
		return
	}

	role := r.URL.Query().Get("role")

	var records []*store.Record
	var err error
	if len(role) > 0 {
		records, err = a.Store.GetByRole(role)
	} else {
		records, err = a.Store.GetAll()
	}
	if err != nil {
		http.Error(w, "cannot read locations", 500)
		return
	}

	out := make([]*Message, 0, len(records))
	for _, rec := range records {
		m := NewBroadcast(rec)
		m.Metadata = a.Gateway.getMetadata(rec.UserID)
		out = append(out, m)
	}

	b, _ := json.Marshal(out)
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// Assignment reads or writes the affected-to-volunteer pairing:
// GET /assignments?user=<affectedId>, POST {"affectedId", "volunteerId"},
// DELETE /assignments?user=<affectedId>
func (a *API) Assignment(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		user := r.URL.Query().Get("user")
		if len(user) == 0 {
			http.Error(w, "user required", 400)
			return
		}
		as := a.Assignments.Get(user)
		if as == nil {
			http.Error(w, "no assignment", 404)
			return
		}
		b, _ := json.Marshal(as)
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)

	case "POST":
		var req struct {
			AffectedID  string `json:"affectedId"`
			VolunteerID string `json:"volunteerId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.AffectedID) == 0 || len(req.VolunteerID) == 0 {
			http.Error(w, "affectedId and volunteerId required", 400)
			return
		}
		as := a.Assignments.Set(req.AffectedID, req.VolunteerID)
		go a.Assignments.Save()
		b, _ := json.Marshal(as)
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)

	case "DELETE":
		user := r.URL.Query().Get("user")
		if len(user) == 0 {
			http.Error(w, "user required", 400)
			return
		}
		a.Assignments.Remove(user)
		go a.Assignments.Save()

	default:
		http.Error(w, "unsupported method "+r.Method, 400)
	}
}

// PushSubscribe registers a browser push subscription:
// POST {"userId": ..., "subscription": {endpoint, keys}}
func (a *API) PushSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "unsupported method "+r.Method, 400)
		return
	}
	if a.Push == nil {
		http.Error(w, "push not configured", 503)
		return
	}

	var req struct {
		UserID       string                 `json:"userId"`
		Subscription *data.PushSubscription `json:"subscription"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.UserID) == 0 || req.Subscription == nil {
		http.Error(w, "userId and subscription required", 400)
		return
	}

	a.Push.Subscribe(req.UserID, req.Subscription)
	w.WriteHeader(204)
}

// WithCors wraps a handler with permissive CORS headers
func WithCors(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			return
		}

		h.ServeHTTP(w, r)
	})
}
