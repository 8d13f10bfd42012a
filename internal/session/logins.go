package session

import (
	"sort"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Logins tracks which username each connection is logged in as. A username
// may only be held by one connection at a time.
type Logins struct {
	byConnection map[int64]string
	byUsername   map[string]int64
	sync.RWMutex
}

func NewLogins() *Logins {
	return &Logins{
		byConnection: make(map[int64]string),
		byUsername:   make(map[string]int64),
	}
}

// NormalizeUsername returns the form of username used for uniqueness checks so
// that visually identical names in different Unicode forms collide.
func NormalizeUsername(username string) string {
	return norm.NFC.String(username)
}

// Login registers username for the connection and returns false without
// changing anything if the name is already taken or the connection is
// already logged in.
func (l *Logins) Login(id int64, username string) bool {
	username = NormalizeUsername(username)

	l.Lock()
	defer l.Unlock()

	if _, taken := l.byUsername[username]; taken {
		return false
	}
	if _, loggedIn := l.byConnection[id]; loggedIn {
		return false
	}
	l.byConnection[id] = username
	l.byUsername[username] = id
	return true
}

// Logout releases the username held by the connection (may be a no-op).
func (l *Logins) Logout(id int64) {
	l.Lock()
	defer l.Unlock()

	if username, ok := l.byConnection[id]; ok {
		delete(l.byUsername, username)
		delete(l.byConnection, id)
	}
}

func (l *Logins) Taken(username string) bool {
	l.RLock()
	defer l.RUnlock()
	_, ok := l.byUsername[NormalizeUsername(username)]
	return ok
}

// Connections returns the IDs of all logged in connections in ascending order.
func (l *Logins) Connections() []int64 {
	l.RLock()
	ids := make([]int64, 0, len(l.byConnection))
	for id := range l.byConnection {
		ids = append(ids, id)
	}
	l.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *Logins) Len() int {
	l.RLock()
	defer l.RUnlock()
	return len(l.byConnection)
}
