// Package store is the authoritative current-location table. One record per
// user, upsert semantics, backed by sqlite with an in-memory spatial index
// for radius queries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/asim/quadtree"
	_ "github.com/mattn/go-sqlite3"
)

// User roles. The role decides which broadcast views a record shows up in.
const (
	RoleVolunteer = "volunteer"
	RoleAffected  = "affected"
	RoleOther     = "other"
)

var (
	// ErrUnknownUser means the report referenced a user id the directory
	// cannot resolve. The store is left untouched.
	ErrUnknownUser = errors.New("unknown user")
)

// Resolver resolves a user id to identity fields from the user store
type Resolver interface {
	Resolve(userID string) (name, role string, err error)
}

// Report is a single inbound position update for a user
type Report struct {
	UserID      string
	Lat         float64
	Lon         float64
	Accuracy    float64
	Description string
	HelpType    string
	Priority    string
	Image       string
}

// Record is the current location of one user, joined with identity
type Record struct {
	UserID      string  `json:"userId"`
	Name        string  `json:"name"`
	Role        string  `json:"role"`
	Lat         float64 `json:"latitude"`
	Lon         float64 `json:"longitude"`
	Accuracy    float64 `json:"accuracy,omitempty"`
	Description string  `json:"description,omitempty"`
	HelpType    string  `json:"helpType,omitempty"`
	Priority    string  `json:"priority,omitempty"`
	Image       string  `json:"image,omitempty"`
	// In nanoseconds
	UpdatedAt int64 `json:"updatedAt,string"`
}

// Store holds current locations. Writes for the same user serialize on a
// per-user lock; different users write in parallel (sqlite serializes the
// actual statement, the lock preserves the read-modify-write of updated_at).
type Store struct {
	db       *sql.DB
	resolver Resolver
	users    *Users

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	tmu    sync.RWMutex
	tree   *quadtree.QuadTree
	points map[string]*quadtree.Point
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	role TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

CREATE TABLE IF NOT EXISTS locations (
	user_id TEXT PRIMARY KEY,
	lat REAL NOT NULL,
	lon REAL NOT NULL,
	accuracy REAL NOT NULL DEFAULT 0,
	description TEXT NOT NULL DEFAULT '',
	help_type TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	image TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);
`

// Open opens (or creates) the sqlite database at path. A nil resolver
// defaults to the users table in the same database.
func Open(path string, resolver Resolver) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	return New(db, resolver)
}

// New wraps an existing database handle
func New(db *sql.DB, resolver Resolver) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	users := NewUsers(db)
	if resolver == nil {
		resolver = users
	}

	s := &Store{
		db:       db,
		resolver: resolver,
		users:    users,
		locks:    make(map[string]*sync.Mutex),
		tree:     newTree(),
		points:   make(map[string]*quadtree.Point),
	}

	if err := s.loadIndex(); err != nil {
		log.Printf("[store] error loading spatial index: %v", err)
	}

	return s, nil
}

func newTree() *quadtree.QuadTree {
	center := quadtree.NewPoint(0, 0, nil)
	half := quadtree.NewPoint(90, 180, nil)
	boundary := quadtree.NewAABB(center, half)
	return quadtree.New(boundary, 0, nil)
}

func (s *Store) loadIndex() error {
	records, err := s.GetAll()
	if err != nil {
		return err
	}
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, rec := range records {
		p := quadtree.NewPoint(rec.Lat, rec.Lon, rec)
		if s.tree.Insert(p) {
			s.points[rec.UserID] = p
		}
	}
	if len(records) > 0 {
		log.Printf("[store] indexed %d locations", len(records))
	}
	return nil
}

func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[userID]
	if !ok {
		lk = new(sync.Mutex)
		s.locks[userID] = lk
	}
	return lk
}

// Upsert writes the current position for a user. Creates the record on the
// first accepted report, replaces it on every subsequent one. The user id
// must resolve via the directory or ErrUnknownUser is returned and nothing
// is written. UpdatedAt strictly increases per user.
func (s *Store) Upsert(r *Report) (*Record, error) {
	name, role, err := s.resolver.Resolve(r.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, r.UserID)
	}

	lk := s.userLock(r.UserID)
	lk.Lock()
	defer lk.Unlock()

	var prev int64
	err = s.db.QueryRow("SELECT updated_at FROM locations WHERE user_id = ?", r.UserID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now().UnixNano()
	if now <= prev {
		// clock did not advance past the last write, nudge forward
		now = prev + 1
	}

	_, err = s.db.Exec(`INSERT INTO locations
		(user_id, lat, lon, accuracy, description, help_type, priority, image, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		lat=excluded.lat, lon=excluded.lon, accuracy=excluded.accuracy,
		description=excluded.description, help_type=excluded.help_type,
		priority=excluded.priority, image=excluded.image, updated_at=excluded.updated_at`,
		r.UserID, r.Lat, r.Lon, r.Accuracy, r.Description, r.HelpType, r.Priority, r.Image, now)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		UserID:      r.UserID,
		Name:        name,
		Role:        role,
		Lat:         r.Lat,
		Lon:         r.Lon,
		Accuracy:    r.Accuracy,
		Description: r.Description,
		HelpType:    r.HelpType,
		Priority:    r.Priority,
		Image:       r.Image,
		UpdatedAt:   now,
	}

	s.index(rec)

	return rec, nil
}

// index maintains the quadtree alongside the table
func (s *Store) index(rec *Record) {
	s.tmu.Lock()
	defer s.tmu.Unlock()

	if old, ok := s.points[rec.UserID]; ok {
		s.tree.Remove(old)
	}
	p := quadtree.NewPoint(rec.Lat, rec.Lon, rec)
	if !s.tree.Insert(p) {
		log.Printf("[store] failed to index %s at (%.4f, %.4f)", rec.UserID, rec.Lat, rec.Lon)
		delete(s.points, rec.UserID)
		return
	}
	s.points[rec.UserID] = p
}

// GetAll returns every current record. Order is unspecified.
func (s *Store) GetAll() ([]*Record, error) {
	return s.query("", "")
}

// GetByRole returns every current record for users with the given role.
// Order is unspecified.
func (s *Store) GetByRole(role string) ([]*Record, error) {
	return s.query("WHERE u.role = ?", role)
}

func (s *Store) query(where, arg string) ([]*Record, error) {
	q := `SELECT l.user_id, u.name, u.role, l.lat, l.lon, l.accuracy,
		l.description, l.help_type, l.priority, l.image, l.updated_at
		FROM locations l JOIN users u ON u.id = l.user_id ` + where

	var rows *sql.Rows
	var err error
	if len(arg) > 0 {
		rows, err = s.db.Query(q, arg)
	} else {
		rows, err = s.db.Query(q)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := new(Record)
		if err := rows.Scan(&rec.UserID, &rec.Name, &rec.Role, &rec.Lat, &rec.Lon,
			&rec.Accuracy, &rec.Description, &rec.HelpType, &rec.Priority,
			&rec.Image, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get returns the current record for one user or nil if none exists
func (s *Store) Get(userID string) (*Record, error) {
	records, err := s.query("WHERE l.user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// Nearby finds current records within radiusMeters of a point, nearest
// first, up to limit. Served from the in-memory index.
func (s *Store) Nearby(lat, lon, radiusMeters float64, limit int) []*Record {
	s.tmu.RLock()
	defer s.tmu.RUnlock()

	center := quadtree.NewPoint(lat, lon, nil)
	half := center.HalfPoint(radiusMeters)
	boundary := quadtree.NewAABB(center, half)

	points := s.tree.KNearest(boundary, limit, func(p *quadtree.Point) bool {
		_, ok := p.Data().(*Record)
		return ok
	})

	var records []*Record
	for _, p := range points {
		if rec, ok := p.Data().(*Record); ok {
			records = append(records, rec)
		}
	}
	return records
}

// AddUser registers or updates a user in the local directory
func (s *Store) AddUser(userID, name, role string) error {
	return s.users.Add(userID, name, role)
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
