package adapter

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Device is the per-adapter operation set a tuner backend registers with the host.
//
// The host calls these from a single control goroutine per adapter: any number
// of SetPID/DelPID/Tune calls only record the request, Commit applies them.
type Device interface {
	Open() error
	// SetPID requests a PID and returns a filter token for DelPID.
	SetPID(pid uint16) (int, error)
	DelPID(token int, pid uint16) error
	// Commit applies all pending tuning and PID changes. Failures are handled
	// by the backend; the host never sees them.
	Commit()
	Tune(tp Transponder) error
	DeliverySystems() []DeliverySystem
	Close() error
}

// Adapter is the host-visible record of one tuner.
type Adapter struct {
	ID      int
	Name    string
	Present bool
	Device  Device
	Systems []DeliverySystem

	// DVR is the read end of the transport stream pipe.
	DVR    *os.File
	Status *Status

	inUse atomic.Bool
}

// Acquire reserves the adapter for exclusive use. It returns false if the
// adapter is already in use.
func (a *Adapter) Acquire() bool {
	return a.inUse.CompareAndSwap(false, true)
}

func (a *Adapter) Release() {
	a.inUse.Store(false)
}

func (a *Adapter) InUse() bool {
	return a.inUse.Load()
}

// Supports reports if the adapter can tune the given delivery system.
func (a *Adapter) Supports(system DeliverySystem) bool {
	for _, s := range a.Systems {
		if s == system {
			return true
		}
	}
	return false
}

// Registry holds the adapters of all backends, indexed by adapter id.
type Registry struct {
	mu       sync.RWMutex
	adapters []*Adapter
}

func NewRegistry(capacity int) *Registry {
	return &Registry{
		adapters: make([]*Adapter, capacity),
	}
}

func (r *Registry) Capacity() int {
	return len(r.adapters)
}

// FirstFree returns the lowest id that has no adapter or an adapter that is
// not physically present. It returns Capacity() if the registry is full.
func (r *Registry) FirstFree() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, a := range r.adapters {
		if a == nil || !a.Present {
			return i
		}
	}
	return len(r.adapters)
}

func (r *Registry) Get(id int) (*Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.adapters) || r.adapters[id] == nil {
		return nil, false
	}
	return r.adapters[id], true
}

// Put stores the adapter at its id.
func (r *Registry) Put(a *Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID < 0 || a.ID >= len(r.adapters) {
		return fmt.Errorf("adapter id %d out of range [0, %d)", a.ID, len(r.adapters))
	}
	r.adapters[a.ID] = a
	return nil
}

// MarkAbsent marks all existing adapters from the given id on as not
// physically present.
func (r *Registry) MarkAbsent(from int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := from; i < len(r.adapters); i++ {
		if r.adapters[i] != nil {
			r.adapters[i].Present = false
		}
	}
}

// Present returns the adapters that are physically present, ordered by id.
func (r *Registry) Present() []*Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a != nil && a.Present {
			result = append(result, a)
		}
	}
	return result
}
