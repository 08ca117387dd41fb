package data

import (
	"path/filepath"
	"sync"
	"time"
)

// SubscriptionsFile manages push_subscriptions.json
type SubscriptionsFile struct {
	mu    sync.RWMutex
	path  string
	Users map[string]*PushUser
}

// PushUser is one user's push subscription and alert state
type PushUser struct {
	UserID       string            `json:"user_id"`
	Subscription *PushSubscription `json:"subscription,omitempty"`
	LastPush     time.Time         `json:"last_push"`
	History      []PushHistoryItem `json:"history,omitempty"`
}

// PushSubscription is the browser push subscription
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// PushHistoryItem is a sent push notification
type PushHistoryItem struct {
	Time  time.Time `json:"time"`
	Title string    `json:"title"`
	Body  string    `json:"body"`
}

// NewSubscriptions creates the subscriptions file in the given directory
func NewSubscriptions(dir string) *SubscriptionsFile {
	return &SubscriptionsFile{
		path:  filepath.Join(dir, "push_subscriptions.json"),
		Users: make(map[string]*PushUser),
	}
}

// Load reads from push_subscriptions.json
func (s *SubscriptionsFile) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []*PushUser
	if err := loadJSON(s.path, &users); err != nil {
		return err
	}

	for _, u := range users {
		s.Users[u.UserID] = u
	}
	return nil
}

// Save writes to push_subscriptions.json
func (s *SubscriptionsFile) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*PushUser, 0, len(s.Users))
	for _, u := range s.Users {
		users = append(users, u)
	}
	return saveJSON(s.path, users)
}

// GetUser returns a copy of a user's entry, or nil. Mutations go through
// Update so the entry is never written outside the file lock.
func (s *SubscriptionsFile) GetUser(userID string) *PushUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u := s.Users[userID]
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}

// SetUser adds or updates a user
func (s *SubscriptionsFile) SetUser(user *PushUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users[user.UserID] = user
}

// SetSubscription registers or replaces a user's subscription, creating the
// entry if absent
func (s *SubscriptionsFile) SetSubscription(userID string, sub *PushSubscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.Users[userID]
	if u == nil {
		u = &PushUser{UserID: userID}
		s.Users[userID] = u
	}
	u.Subscription = sub
}

// Update applies fn to an existing user's entry under the file lock and
// reports whether the user was found. Save marshals under the same lock, so
// fn is the only safe place to mutate an entry.
func (s *SubscriptionsFile) Update(userID string, fn func(*PushUser)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.Users[userID]
	if u == nil {
		return false
	}
	fn(u)
	return true
}

// RemoveUser drops a subscription, e.g. after the push service rejects it
func (s *SubscriptionsFile) RemoveUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Users, userID)
}

// GetAllUsers returns copies of all user entries
func (s *SubscriptionsFile) GetAllUsers() []*PushUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]*PushUser, 0, len(s.Users))
	for _, u := range s.Users {
		cp := *u
		users = append(users, &cp)
	}
	return users
}
