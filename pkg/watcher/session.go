package watcher

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/typewatch/typewatch/pkg/manifest"
)

// Session tracks one watched manifest file.
type Session struct {
	path  string
	label string

	// Owned by the queue worker after Run has read the initial baseline.
	last        manifest.Manifest
	initialized bool
	settings    Settings

	// mu protects pending and timer
	mu      sync.Mutex
	pending bool
	timer   *time.Timer
}

func newSession(path string) *Session {
	return &Session{
		path:  path,
		label: labelFor(path),
		last:  manifest.New(),
	}
}

// Path returns the absolute manifest path.
func (s *Session) Path() string {
	return s.path
}

// Label returns the short name used in summaries: "npm" for package.json,
// "bower" for bower.json, otherwise the file name without extension.
func (s *Session) Label() string {
	return s.label
}

func labelFor(path string) string {
	base := filepath.Base(path)
	switch base {
	case "package.json":
		return "npm"
	case "bower.json":
		return "bower"
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// schedule restarts the settle timer. fire runs once the timer expires.
func (s *Session) schedule(delay time.Duration, fire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, fire)
}

// markPending reports whether the caller should enqueue a change job; it
// returns false when one is already waiting.
func (s *Session) markPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending {
		return false
	}
	s.pending = true
	return true
}

func (s *Session) clearPending() {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()
}

func (s *Session) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
