// Package registry maintains the live peer table built from received
// presence and chat traffic.
//
// Peers are keyed by network address (ip:port), never by display name:
// two peers may legitimately share a name. Liveness is derived from the
// last-seen timestamp at query time; nothing evicts stale entries in
// the background, they persist until an explicit Remove.
package registry

import (
	"sort"
	"sync"
	"time"
)

// ActiveWindow is the staleness threshold: a peer with no traffic for
// this long is reported inactive but stays in the table.
const ActiveWindow = 60 * time.Second

// Peer is one registry entry.
type Peer struct {
	Addr     string
	Username string
	LastSeen time.Time
}

// ActiveAt reports whether the peer has been seen within ActiveWindow
// of the given instant.
func (p Peer) ActiveAt(now time.Time) bool {
	return now.Sub(p.LastSeen) < ActiveWindow
}

// Registry is a concurrency-safe peer table. The receive path and the
// broadcaster both write to it.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

// Upsert inserts or refreshes the entry for addr.
func (r *Registry) Upsert(addr, username string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers[addr] = Peer{Addr: addr, Username: username, LastSeen: now}
}

// Touch refreshes last-seen for a known address without changing the
// stored name. It is a no-op for unknown addresses.
func (r *Registry) Touch(addr string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[addr]
	if !ok {
		return
	}
	peer.LastSeen = now
	r.peers[addr] = peer
}

// Remove deletes the entry for addr and returns it, if present.
func (r *Registry) Remove(addr string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[addr]
	if ok {
		delete(r.peers, addr)
	}
	return peer, ok
}

// Get looks up the entry for addr.
func (r *Registry) Get(addr string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peer, ok := r.peers[addr]
	return peer, ok
}

// Snapshot returns an independent copy of all entries sorted by
// address. Callers may range over it while writers proceed.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Peer, 0, len(r.peers))
	for _, peer := range r.peers {
		out = append(out, peer)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.peers)
}

// Clear drops every entry. Discovery mode starts from an empty table.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers = make(map[string]Peer)
}
