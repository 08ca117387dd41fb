package store

import "database/sql"

// Users is the sqlite-backed user directory. It implements Resolver over the
// users table maintained by the registration flow.
type Users struct {
	db *sql.DB
}

// NewUsers returns a directory over the given database
func NewUsers(db *sql.DB) *Users {
	return &Users{db: db}
}

// Resolve looks up a user's name and role. Returns ErrUnknownUser when no
// such user exists.
func (u *Users) Resolve(userID string) (string, string, error) {
	var name, role string
	err := u.db.QueryRow("SELECT name, role FROM users WHERE id = ?", userID).Scan(&name, &role)
	if err == sql.ErrNoRows {
		return "", "", ErrUnknownUser
	}
	if err != nil {
		return "", "", err
	}
	return name, role, nil
}

// Add registers a user. Used by the account flow and test fixtures.
func (u *Users) Add(userID, name, role string) error {
	_, err := u.db.Exec(`INSERT INTO users (id, name, role) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, role=excluded.role`,
		userID, name, role)
	return err
}
