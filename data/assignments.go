package data

import (
	"path/filepath"
	"sync"
	"time"
)

// AssignmentsFile manages assignments.json, the affected-user to volunteer
// pairing used by the proximity tracker
type AssignmentsFile struct {
	mu          sync.RWMutex
	path        string
	Assignments map[string]*Assignment
}

// Assignment pairs an affected user with the volunteer responding to them.
// Keyed by the affected user's id; one live assignment per affected user.
type Assignment struct {
	AffectedID  string    `json:"affected_id"`
	VolunteerID string    `json:"volunteer_id"`
	Created     time.Time `json:"created"`
}

// NewAssignments creates the assignments file in the given directory
func NewAssignments(dir string) *AssignmentsFile {
	return &AssignmentsFile{
		path:        filepath.Join(dir, "assignments.json"),
		Assignments: make(map[string]*Assignment),
	}
}

// Load reads from assignments.json
func (a *AssignmentsFile) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var assignments []*Assignment
	if err := loadJSON(a.path, &assignments); err != nil {
		return err
	}

	for _, as := range assignments {
		a.Assignments[as.AffectedID] = as
	}
	return nil
}

// Save writes to assignments.json
func (a *AssignmentsFile) Save() error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	assignments := make([]*Assignment, 0, len(a.Assignments))
	for _, as := range a.Assignments {
		assignments = append(assignments, as)
	}
	return saveJSON(a.path, assignments)
}

// Get returns the assignment for an affected user, or nil
func (a *AssignmentsFile) Get(affectedID string) *Assignment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Assignments[affectedID]
}

// Set creates or replaces the assignment for an affected user
func (a *AssignmentsFile) Set(affectedID, volunteerID string) *Assignment {
	a.mu.Lock()
	defer a.mu.Unlock()
	as := &Assignment{
		AffectedID:  affectedID,
		VolunteerID: volunteerID,
		Created:     time.Now(),
	}
	a.Assignments[affectedID] = as
	return as
}

// Remove drops the assignment for an affected user
func (a *AssignmentsFile) Remove(affectedID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.Assignments, affectedID)
}

// ForVolunteer returns every assignment a volunteer is responding to
func (a *AssignmentsFile) ForVolunteer(volunteerID string) []*Assignment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*Assignment
	for _, as := range a.Assignments {
		if as.VolunteerID == volunteerID {
			out = append(out, as)
		}
	}
	return out
}
