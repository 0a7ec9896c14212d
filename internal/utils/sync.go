package utils

import (
	"sync"
)

// OptionalMutex behaves as a sync.Mutex when UseMutex is set and does nothing otherwise, for
// types whose callers may choose to serialize access themselves
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
