// Package server coordinates client registration, message broadcast, and
// connection cleanup for the igloo chat system via the Registry type.
package server

import (
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ClientEntry is one registered chat participant. The registry holds the only
// long-lived reference to it.
type ClientEntry struct {
	ID       uint64
	Username string
	Session  uuid.UUID
	JoinedAt time.Time
	Handle   *Handle
}

// NewClientEntry builds the entry for a handle whose handshake completed.
func NewClientEntry(h *Handle, username string) *ClientEntry {
	return &ClientEntry{
		ID:       h.ID(),
		Username: username,
		Session:  uuid.New(),
		JoinedAt: time.Now(),
		Handle:   h,
	}
}

// Member is a read-only view of a registered client.
type Member struct {
	ID       uint64
	Username string
	JoinedAt time.Time
}

// Registry manages all connected chat clients. Every read and mutation of the
// entry set happens under mu, including the sends performed by Broadcast.
type Registry struct {
	mu      sync.Mutex
	entries []*ClientEntry
	nextID  atomic.Uint64
	logger  *log.Logger
}

// NewRegistry creates an empty Registry that logs departures to logger.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = NewLogger(nil)
	}
	return &Registry{logger: logger}
}

// NextID issues a connection id that is unique for the life of the process.
func (r *Registry) NextID() uint64 {
	return r.nextID.Add(1)
}

// Register inserts the entry. An entry already holding the same id is replaced
// so that an id never appears twice.
func (r *Registry) Register(entry *ClientEntry) {
	if entry == nil {
		r.logger.Printf("Received nil client registration; skipping")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexOf(entry.ID); i >= 0 {
		r.entries[i] = entry
		return
	}
	r.entries = append(r.entries, entry)
}

// Remove deletes the entry with the given id and reports whether it was present.
func (r *Registry) Remove(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return false
	}
	r.entries = slices.Delete(r.entries, i, i+1)
	return true
}

// Broadcast delivers chat text to every registered client.
func (r *Registry) Broadcast(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Print(text)
	r.fanOutLocked(text)
}

// Announce delivers a server-originated notice to every registered client.
func (r *Registry) Announce(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fanOutLocked(text)
}

// fanOutLocked walks the entries newest first so that deleting index i never
// shifts an entry that has not been visited yet.
func (r *Registry) fanOutLocked(text string) {
	for i := len(r.entries) - 1; i >= 0; i-- {
		entry := r.entries[i]
		if entry.Handle.Send(text) {
			continue
		}
		r.entries = slices.Delete(r.entries, i, i+1)
		r.logger.Printf("%s has disconnected. (session %s)", entry.Username, entry.Session)
	}
}

// Usernames returns the registered usernames in registration order.
func (r *Registry) Usernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for _, entry := range r.entries {
		names = append(names, entry.Username)
	}
	return names
}

// Members returns a snapshot of the registered clients in registration order.
func (r *Registry) Members() []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]Member, 0, len(r.entries))
	for _, entry := range r.entries {
		members = append(members, Member{ID: entry.ID, Username: entry.Username, JoinedAt: entry.JoinedAt})
	}
	return members
}

// Lookup reports whether id is registered and, if so, returns its view.
func (r *Registry) Lookup(id uint64) (Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return Member{}, false
	}
	entry := r.entries[i]
	return Member{ID: entry.ID, Username: entry.Username, JoinedAt: entry.JoinedAt}, true
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) indexOf(id uint64) int {
	return slices.IndexFunc(r.entries, func(entry *ClientEntry) bool {
		return entry.ID == id
	})
}
