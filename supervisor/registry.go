package supervisor

import (
	"context"
	"sync"
	"time"
)

// Entry is the registry record for one live sidecar. It is created when a
// start completes, mutated only inside the project's critical section, and
// removed when the process is stopped or found dead.
type Entry struct {
	Project    string
	Sidecar    Sidecar
	Host       string
	Port       int
	PrimaryURL string
	LegacyURL  string
	Auth       *AuthConfig
	PID        int
	LaunchID   string
	StartedAt  time.Time
}

// startHandle tracks one in-flight start attempt so a newer request for the
// same project can cancel and await it (supersede, not queue).
type startHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry is the shared state of the supervisor: one entry per live
// sidecar, ownership maps for ports and PIDs, last-error diagnostics, a
// mutex per project and the in-flight start handles. Mutations happen inside
// a project's critical section; query accessors take only the registry's own
// lock and tolerate momentarily stale reads.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	portOwner map[int]string
	pidOwner  map[int]string
	lastError map[string]string
	locks     map[string]*sync.Mutex
	starts    map[string]*startHandle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries:   make(map[string]*Entry),
		portOwner: make(map[int]string),
		pidOwner:  make(map[int]string),
		lastError: make(map[string]string),
		locks:     make(map[string]*sync.Mutex),
		starts:    make(map[string]*startHandle),
	}
}

// LockFor returns the project's start/stop mutex, creating it on first use.
// Locks are never removed while the registry lives.
func (r *Registry) LockFor(project string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[project]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[project] = lock
	}
	return lock
}

// Put installs a completed entry and its port/pid ownership.
func (r *Registry) Put(entry *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.Project] = entry
	r.portOwner[entry.Port] = entry.Project
	if entry.PID > 0 {
		r.pidOwner[entry.PID] = entry.Project
	}
}

// Remove deletes a project's entry and releases its ownership. It is safe to
// call for a project with no entry.
func (r *Registry) Remove(project string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[project]
	if !ok {
		return
	}
	delete(r.entries, project)
	if r.portOwner[entry.Port] == project {
		delete(r.portOwner, entry.Port)
	}
	if entry.PID > 0 && r.pidOwner[entry.PID] == project {
		delete(r.pidOwner, entry.PID)
	}
}

// Entry returns the live entry for a project, if any.
func (r *Registry) Entry(project string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[project]
	return entry, ok
}

// PortOwner returns which project currently owns a port.
func (r *Registry) PortOwner(port int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	project, ok := r.portOwner[port]
	return project, ok
}

// OwnsPID reports whether any project currently tracks pid.
func (r *Registry) OwnsPID(pid int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pidOwner[pid]
	return ok
}

// Port returns the bound port for a project's live sidecar.
func (r *Registry) Port(project string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[project]
	if !ok {
		return 0, false
	}
	return entry.Port, true
}

// SetLastError records the diagnostic for a project's most recent terminal
// failure.
func (r *Registry) SetLastError(project, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastError[project] = message
}

// ClearLastError removes a project's diagnostic, called on successful start.
func (r *Registry) ClearLastError(project string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastError, project)
}

// LastError returns the recorded diagnostic for a project.
func (r *Registry) LastError(project string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msg, ok := r.lastError[project]
	return msg, ok
}

// BeginStart registers a new in-flight start attempt and returns the handle
// that was displaced, if any. The caller cancels and awaits the displaced
// handle before proceeding.
func (r *Registry) BeginStart(project string, cancel context.CancelFunc) (previous *startHandle, current *startHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous = r.starts[project]
	current = &startHandle{cancel: cancel, done: make(chan struct{})}
	r.starts[project] = current
	return previous, current
}

// FinishStart closes the attempt's done channel and clears the handle if it
// is still the current one (a superseding attempt may have replaced it).
func (r *Registry) FinishStart(project string, handle *startHandle) {
	close(handle.done)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.starts[project] == handle {
		delete(r.starts, project)
	}
}

// Projects returns the ids of all projects with a live entry.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for project := range r.entries {
		out = append(out, project)
	}
	return out
}
