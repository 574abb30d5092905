// Package registry maps caller-supplied string handles to live objects.
//
// Handles are only unique within a namespace. The registry holds the sole
// long-lived reference the bridge keeps to each object; entries are removed
// only by an explicit call.
package registry

import "sync"

// Namespace groups handles of one entity kind.
type Namespace string

// Namespaces used by the bridge.
const (
	Clients      Namespace = "client"
	Accounts     Namespace = "account"
	Transactions Namespace = "transaction"
)

// Store is the contract the bridge depends on. Implementations must be safe
// for concurrent use and linearizable per key.
type Store interface {
	// Put registers obj under handle, replacing any previous object.
	Put(ns Namespace, handle string, obj any)
	// Get returns the object registered under handle, if any.
	Get(ns Namespace, handle string) (any, bool)
	// Remove drops handle. Removing an absent handle is a no-op.
	Remove(ns Namespace, handle string)
	// Take removes handle and returns the object it held, atomically.
	Take(ns Namespace, handle string) (any, bool)
	// ContainsValue reports whether obj is registered under any handle.
	ContainsValue(ns Namespace, obj any) bool
	// PutIfValueAbsent registers obj under handle unless obj is already
	// registered under some handle. It reports whether it stored obj.
	PutIfValueAbsent(ns Namespace, handle string, obj any) bool
	// Len returns the number of handles in ns.
	Len(ns Namespace) int
}

// Registry is an in-memory Store. Each namespace has its own lock so that
// traffic on accounts never waits behind traffic on transactions.
type Registry struct {
	mu     sync.Mutex
	spaces map[Namespace]*space
}

type space struct {
	mu      sync.RWMutex
	objects map[string]any
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{spaces: make(map[Namespace]*space)}
}

func (r *Registry) space(ns Namespace) *space {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spaces[ns]
	if !ok {
		s = &space{objects: make(map[string]any)}
		r.spaces[ns] = s
	}
	return s
}

// Put stores obj under handle, replacing any previous object.
func (r *Registry) Put(ns Namespace, handle string, obj any) {
	s := r.space(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[handle] = obj
}

// Get returns the object stored under handle.
func (r *Registry) Get(ns Namespace, handle string) (any, bool) {
	s := r.space(ns)
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[handle]
	return obj, ok
}

// Remove forgets handle. Removing an unknown handle is a no-op.
func (r *Registry) Remove(ns Namespace, handle string) {
	s := r.space(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, handle)
}

// Take removes handle and returns what it held, atomically.
func (r *Registry) Take(ns Namespace, handle string) (any, bool) {
	s := r.space(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[handle]
	if ok {
		delete(s.objects, handle)
	}
	return obj, ok
}

// ContainsValue scans ns linearly. Objects must be comparable (pointers or
// interfaces holding pointers).
func (r *Registry) ContainsValue(ns Namespace, obj any) bool {
	s := r.space(ns)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.containsLocked(obj)
}

// PutIfValueAbsent stores obj under handle unless obj is already registered
// in ns under any handle. It reports whether obj was stored.
func (r *Registry) PutIfValueAbsent(ns Namespace, handle string, obj any) bool {
	s := r.space(ns)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.containsLocked(obj) {
		return false
	}
	s.objects[handle] = obj
	return true
}

// Len returns the number of handles in ns.
func (r *Registry) Len(ns Namespace) int {
	s := r.space(ns)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

func (s *space) containsLocked(obj any) bool {
	for _, v := range s.objects {
		if v == obj {
			return true
		}
	}
	return false
}

// Lookup fetches handle from ns and asserts it to T. A missing handle or an
// object of the wrong type both report ok=false.
func Lookup[T any](st Store, ns Namespace, handle string) (T, bool) {
	var zero T
	obj, ok := st.Get(ns, handle)
	if !ok {
		return zero, false
	}
	v, ok := obj.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
