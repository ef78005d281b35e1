// Package chat relays messages between live websocket connections.
package chat

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// CloseSuperseded is the close reason sent to a connection replaced by a
// newer one for the same identity.
const CloseSuperseded = "superseded"

// CloseShutdown is the close reason sent when the server stops.
const CloseShutdown = "server shutting down"

// Handle is one live transport session owned by an identity.
type Handle interface {
	// Send queues payload for delivery. It reports false when the handle is
	// closed or cannot accept more data; it never blocks.
	Send(payload []byte) bool
	// Close ends the session. It is safe to call more than once.
	Close(reason string)
}

const shardCount = 32

type entry struct {
	handle Handle
	gen    uint64
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]entry
}

// Registry is the authoritative identity -> handle table. It holds at most one
// handle per identity; every registration gets a generation so that a late
// disconnect from a replaced handle cannot evict its successor.
type Registry struct {
	shards [shardCount]shard
	gen    atomic.Uint64
	size   atomic.Int64
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].conns = make(map[string]entry)
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// Register installs h as the live handle for id and returns its generation.
// A handle already registered for id is closed with CloseSuperseded and
// superseded is true.
func (r *Registry) Register(id string, h Handle) (gen uint64, superseded bool) {
	gen = r.gen.Add(1)
	s := r.shardFor(id)

	s.mu.Lock()
	prev, had := s.conns[id]
	s.conns[id] = entry{handle: h, gen: gen}
	s.mu.Unlock()

	if had {
		prev.handle.Close(CloseSuperseded)
	} else {
		r.size.Add(1)
	}
	return gen, had
}

// Unregister removes id only while it is still held by generation gen. It
// reports whether an entry was removed; absent ids are a no-op.
func (r *Registry) Unregister(id string, gen uint64) bool {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.conns[id]
	if !ok || cur.gen != gen {
		return false
	}
	delete(s.conns, id)
	r.size.Add(-1)
	return true
}

// Lookup returns the live handle for id.
func (r *Registry) Lookup(id string) (Handle, bool) {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.conns[id]
	return e.handle, ok
}

// Holds reports whether id is still registered under generation gen.
func (r *Registry) Holds(id string, gen uint64) bool {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.conns[id]
	return ok && e.gen == gen
}

// Send hands payload to id's handle. It reports false when id is absent or
// the handle refused the payload.
func (r *Registry) Send(id string, payload []byte) bool {
	h, ok := r.Lookup(id)
	if !ok {
		return false
	}
	return h.Send(payload)
}

// Len is the number of live identities.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// CloseAll closes every live handle and returns how many there were.
// Entries stay registered until each connection's own disconnect removes them,
// so presence is cleared through the usual path.
func (r *Registry) CloseAll(reason string) int {
	var live []Handle
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.conns {
			live = append(live, e.handle)
		}
		s.mu.RUnlock()
	}
	for _, h := range live {
		h.Close(reason)
	}
	return len(live)
}
