package cl

import (
	"cmp"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gomlx/gocl/cl/driver"
	"k8s.io/klog/v2"
)

// Counters of live objects, for diagnostics and leak tests.
var (
	contextsAlive, modulesAlive, kernelsAlive, buffersAlive, queuesAlive, eventsAlive atomic.Int64
)

// ContextsAlive returns the number of Contexts not yet released.
func ContextsAlive() int64 { return contextsAlive.Load() }

// ModulesAlive returns the number of Modules not yet released.
func ModulesAlive() int64 { return modulesAlive.Load() }

// KernelsAlive returns the number of Kernels not yet released.
func KernelsAlive() int64 { return kernelsAlive.Load() }

// BuffersAlive returns the number of Buffers not yet released.
func BuffersAlive() int64 { return buffersAlive.Load() }

// QueuesAlive returns the number of Queues not yet released.
func QueuesAlive() int64 { return queuesAlive.Load() }

// EventsAlive returns the number of Events not yet released.
func EventsAlive() int64 { return eventsAlive.Load() }

// contextState is shared by a Context and every object created in it. When the last reference to the context is
// released, the objects still alive in it are released first, in the reverse order of creation.
type contextState struct {
	drv driver.Driver
	id  driver.ContextID

	mu       sync.Mutex
	refs     int
	released atomic.Bool

	childrenMu sync.Mutex
	children   map[child]uint64
	lastChild  uint64
}

// child is an object created in a context.
type child interface {
	destroy() error
}

func (s *contextState) adopt(c child) {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()
	if s.children == nil {
		s.children = make(map[child]uint64)
	}
	s.lastChild++
	s.children[c] = s.lastChild
}

func (s *contextState) forget(c child) {
	s.childrenMu.Lock()
	defer s.childrenMu.Unlock()
	delete(s.children, c)
}

// releaseChildren releases every object still alive in the context, newest first, and returns the first error.
func (s *contextState) releaseChildren() error {
	type ordered struct {
		c   child
		seq uint64
	}
	s.childrenMu.Lock()
	children := make([]ordered, 0, len(s.children))
	for c, seq := range s.children {
		children = append(children, ordered{c, seq})
	}
	s.childrenMu.Unlock()
	slices.SortFunc(children, func(a, b ordered) int { return cmp.Compare(b.seq, a.seq) })

	var firstErr error
	for _, o := range children {
		if err := o.c.destroy(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				klog.Errorf("cl: releasing context: %v", err)
			}
		}
	}
	return firstErr
}

// handle owns a driver handle of an object created in a context, and releases it exactly once.
type handle[H ~uintptr] struct {
	state   *contextState
	id      H
	call    string
	release func(H) driver.Status
	alive   *atomic.Int64

	mu    sync.Mutex
	freed bool
}

// newHandle creates the handle and registers owner for automatic release, if it is garbage collected before
// being released.
func newHandle[T any, H ~uintptr](owner *T, state *contextState, id H, alive *atomic.Int64, call string,
	release func(H) driver.Status) *handle[H] {
	h := &handle[H]{state: state, id: id, call: call, release: release, alive: alive}
	alive.Add(1)
	state.adopt(h)
	runtime.AddCleanup(owner, func(h *handle[H]) {
		if err := h.destroy(); err != nil {
			klog.Errorf("cl: automatic %s failed: %v", h.call, err)
		}
	}, h)
	return h
}

// valid returns whether the handle can still be used.
func (h *handle[H]) valid() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.freed && !h.state.released.Load()
}

// destroy releases the driver handle. It is a no-op if it was already released.
func (h *handle[H]) destroy() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.freed {
		return nil
	}
	h.freed = true
	h.alive.Add(-1)
	h.state.forget(h)
	return statusError(h.call, h.release(h.id))
}
