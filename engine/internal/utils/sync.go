package utils

import (
	"sync"
)

// OptionalMutex is a mutex that can be switched off for objects that the consumer has promised to
// synchronize externally. The zero value does not lock.
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

// OptionalRWMutex is the reader/writer counterpart to OptionalMutex. The engine's segment registry
// uses it so that address lookups from many goroutines do not serialize against one another.
type OptionalRWMutex struct {
	Mutex    sync.RWMutex
	UseMutex bool
}

func (m *OptionalRWMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.UseMutex {
		m.Mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.UseMutex {
		m.Mutex.RUnlock()
	}
}

// LockPair locks two optional mutexes belonging to distinct objects. Callers must always pass them in
// the same order (owner before target) to avoid lock inversion.
func LockPair(first, second *OptionalMutex) {
	first.Lock()
	if second != first {
		second.Lock()
	}
}

// UnlockPair releases the locks taken by LockPair
func UnlockPair(first, second *OptionalMutex) {
	if second != first {
		second.Unlock()
	}
	first.Unlock()
}
