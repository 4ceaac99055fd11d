// Package session tracks the working directory of each connected session,
// feeding the config-file tier of the resolution chain.
package session

import (
	"errors"
	"path/filepath"
	"sync"
)

// Errors for session registration.
var (
	ErrEmptySessionID        = errors.New("session ID cannot be empty")
	ErrEmptyWorkingDirectory = errors.New("working directory cannot be empty")
)

// Tracker maps session handles to their working directories.
type Tracker struct {
	mu   sync.RWMutex
	dirs map[string]string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{dirs: make(map[string]string)}
}

// Register records the working directory for a session. Re-registering a
// session replaces its directory.
func (t *Tracker) Register(sessionID, workingDir string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if workingDir == "" {
		return ErrEmptyWorkingDirectory
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.dirs[sessionID] = filepath.Clean(workingDir)
	return nil
}

// WorkingDirectory returns the directory registered for a session.
func (t *Tracker) WorkingDirectory(sessionID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	dir, ok := t.dirs[sessionID]
	return dir, ok
}

// Forget removes a session.
func (t *Tracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.dirs, sessionID)
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dirs)
}
