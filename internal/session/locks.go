package session

import (
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// FileLocks hands out one mutex per filename. Locks are created the first time
// a name is seen and never removed, so the table grows with the number of
// distinct filenames ever uploaded.
type FileLocks struct {
	cacheInstance *gocache.Cache
}

func NewFileLocks() *FileLocks {
	// No default expiration and no janitor.
	return &FileLocks{cacheInstance: gocache.New(gocache.NoExpiration, 0)}
}

func (f *FileLocks) mutex(filename string) *sync.Mutex {
	mu := &sync.Mutex{}
	// Add only succeeds for the first caller; everyone else gets the stored lock.
	if err := f.cacheInstance.Add(filename, mu, gocache.NoExpiration); err == nil {
		return mu
	}
	existing, ok := f.cacheInstance.Get(filename)
	if !ok {
		panic("file lock disappeared for " + filename)
	}
	return existing.(*sync.Mutex)
}

// TryLock acquires the lock for filename without blocking and reports whether
// it succeeded.
func (f *FileLocks) TryLock(filename string) bool {
	return f.mutex(filename).TryLock()
}

func (f *FileLocks) Unlock(filename string) {
	f.mutex(filename).Unlock()
}

// Len returns the number of filenames that have a lock.
func (f *FileLocks) Len() int {
	return f.cacheInstance.ItemCount()
}
