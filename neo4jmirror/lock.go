package neo4jmirror

import (
	"sync"
)

// A writeShareMutex lets many write transactions run at once while a read is
// exclusive, so reads never observe a change set applied halfway. The zero
// value for a writeShareMutex is an unlocked mutex.
//
// The guarantees provided by sync.RWMutex regarding the Go memory model apply
// here as well, with the roles of readers and writers swapped.
type writeShareMutex sync.RWMutex

// WLock locks wr for writing. It should not be used for recursive write locking;
// a blocked Lock call excludes new writers from acquiring the lock.
func (wr *writeShareMutex) WLock() {
	(*sync.RWMutex)(wr).RLock()
}

// WUnlock undoes a single WLock call; it does not affect other simultaneous
// writers.
func (wr *writeShareMutex) WUnlock() {
	(*sync.RWMutex)(wr).RUnlock()
}

// Lock locks wr for reading. If the lock is already locked for writing or
// reading, Lock blocks until the lock is available.
func (wr *writeShareMutex) Lock() {
	(*sync.RWMutex)(wr).Lock()
}

// Unlock undoes Lock.
func (wr *writeShareMutex) Unlock() {
	(*sync.RWMutex)(wr).Unlock()
}
