// Package session holds the state shared by every connection on a server:
// the registry of connected clients, the table of logged in usernames, and the
// per-filename locks that serialize uploads.
package session

import (
	"errors"
	"sync"

	"github.com/dcrodman/tftp/internal/packets"
)

// ErrUnknownConnection is returned when sending to an ID that isn't registered.
var ErrUnknownConnection = errors.New("unknown connection")

// Sender is the send-capable handle registered for each connection.
type Sender interface {
	Send(pkt packets.Packet) error
}

// Registry is a concurrency-safe mapping of connection IDs to their handles.
type Registry struct {
	connections map[int64]Sender
	sync.RWMutex

	// Serializes fan-out so that notifications triggered by different
	// connections reach every client in the same order.
	broadcastMu sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{connections: make(map[int64]Sender)}
}

func (r *Registry) Add(id int64, s Sender) {
	r.Lock()
	r.connections[id] = s
	r.Unlock()
}

func (r *Registry) Remove(id int64) {
	r.Lock()
	delete(r.connections, id)
	r.Unlock()
}

func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.connections)
}

// Send delivers pkt to a single connection.
func (r *Registry) Send(id int64, pkt packets.Packet) error {
	r.RLock()
	s, ok := r.connections[id]
	r.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}
	return s.Send(pkt)
}

// Broadcast sends pkt to every connection in ids that is still registered and
// returns the number of connections it was delivered to. Failures are left to
// the owning connection's read loop to notice and tear down.
func (r *Registry) Broadcast(ids []int64, pkt packets.Packet) int {
	r.broadcastMu.Lock()
	defer r.broadcastMu.Unlock()

	delivered := 0
	for _, id := range ids {
		if err := r.Send(id, pkt); err == nil {
			delivered++
		}
	}
	return delivered
}
