package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	reason  string
	refuses bool
}

func (f *fakeHandle) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.refuses {
		return false
	}
	f.frames = append(f.frames, payload)
	return true
}

func (f *fakeHandle) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.reason = reason
	}
}

func (f *fakeHandle) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, b := range f.frames {
		out[i] = string(b)
	}
	return out
}

func (f *fakeHandle) closedWith() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.reason
}

func TestRegistryLookupAndSend(t *testing.T) {
	r := NewRegistry()
	alice := &fakeHandle{}

	_, ok := r.Lookup("alice")
	assert.False(t, ok)
	assert.False(t, r.Send("alice", []byte("x")))

	_, superseded := r.Register("alice", alice)
	assert.False(t, superseded)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, alice, got)
	assert.True(t, r.Send("alice", []byte("hi")))
	assert.Equal(t, []string{"hi"}, alice.received())
}

func TestRegistryReplaceClosesPrevious(t *testing.T) {
	r := NewRegistry()
	first, second := &fakeHandle{}, &fakeHandle{}

	gen1, _ := r.Register("alice", first)
	gen2, superseded := r.Register("alice", second)
	assert.True(t, superseded)
	assert.Greater(t, gen2, gen1)
	assert.Equal(t, 1, r.Len())

	closed, reason := first.closedWith()
	assert.True(t, closed)
	assert.Equal(t, CloseSuperseded, reason)

	got, _ := r.Lookup("alice")
	assert.Same(t, second, got)
}

func TestRegistryStaleUnregister(t *testing.T) {
	r := NewRegistry()
	gen1, _ := r.Register("alice", &fakeHandle{})
	second := &fakeHandle{}
	gen2, _ := r.Register("alice", second)

	assert.False(t, r.Holds("alice", gen1))
	assert.True(t, r.Holds("alice", gen2))
	assert.False(t, r.Unregister("alice", gen1), "late disconnect of the replaced handle")
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, r.Unregister("alice", gen2))
	assert.False(t, r.Unregister("alice", gen2))
	assert.False(t, r.Holds("alice", gen2))
	assert.False(t, r.Unregister("nobody", 42))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	const ids, rounds = 50, 20

	var wg sync.WaitGroup
	for i := 0; i < ids; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				gen, _ := r.Register(id, &fakeHandle{})
				r.Send(id, []byte("ping"))
				if j < rounds-1 {
					r.Unregister(id, gen)
				}
			}
		}(fmt.Sprintf("user-%d", i))
	}
	wg.Wait()

	assert.Equal(t, ids, r.Len())
	for i := 0; i < ids; i++ {
		_, ok := r.Lookup(fmt.Sprintf("user-%d", i))
		assert.True(t, ok)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	a, b := &fakeHandle{}, &fakeHandle{}
	genA, _ := r.Register("alice", a)
	r.Register("bob", b)

	assert.Equal(t, 2, r.CloseAll("shutdown"))
	for _, h := range []*fakeHandle{a, b} {
		closed, reason := h.closedWith()
		assert.True(t, closed)
		assert.Equal(t, "shutdown", reason)
	}
	assert.True(t, r.Unregister("alice", genA))
	assert.Equal(t, 1, r.Len())
}
