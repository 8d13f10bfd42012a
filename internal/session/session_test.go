package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dcrodman/tftp/internal/packets"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []packets.Packet
	err  error
}

func (s *recordingSender) Send(pkt packets.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, pkt)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestRegistry_Send(t *testing.T) {
	r := NewRegistry()
	s := &recordingSender{}
	r.Add(1, s)

	if err := r.Send(1, &packets.Ack{}); err != nil {
		t.Fatalf("Send() returned an unexpected error: %v", err)
	}
	if err := r.Send(2, &packets.Ack{}); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("expected ErrUnknownConnection for unregistered id, got %v", err)
	}

	r.Remove(1)
	if err := r.Send(1, &packets.Ack{}); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("expected ErrUnknownConnection after Remove(), got %v", err)
	}
	if s.count() != 1 {
		t.Errorf("expected one packet delivered, got %d", s.count())
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	r := NewRegistry()
	senders := map[int64]*recordingSender{
		1: {},
		2: {},
		3: {err: errors.New("broken pipe")},
		4: {},
	}
	for id, s := range senders {
		r.Add(id, s)
	}

	delivered := r.Broadcast([]int64{1, 2, 3, 5}, &packets.Broadcast{Filename: "a"})
	if delivered != 2 {
		t.Errorf("expected 2 deliveries, got %d", delivered)
	}
	if senders[4].count() != 0 {
		t.Error("broadcast reached a connection that was not targeted")
	}
}

func TestLogins(t *testing.T) {
	l := NewLogins()

	if !l.Login(1, "alice") {
		t.Fatal("expected first login to succeed")
	}
	if l.Login(2, "alice") {
		t.Error("expected duplicate username to be rejected")
	}
	if l.Login(1, "bob") {
		t.Error("expected second login on the same connection to be rejected")
	}
	if !l.Login(2, "bob") {
		t.Error("expected login with a free username to succeed")
	}

	if diff := cmp.Diff([]int64{1, 2}, l.Connections()); diff != "" {
		t.Errorf("unexpected logged in connections; diff:\n%s", diff)
	}

	l.Logout(1)
	if l.Taken("alice") {
		t.Error("expected alice to be released after Logout()")
	}
	if !l.Login(3, "alice") {
		t.Error("expected alice to be available after Logout()")
	}
	if l.Len() != 2 {
		t.Errorf("expected 2 logins, got %d", l.Len())
	}
}

func TestLogins_UnicodeForms(t *testing.T) {
	l := NewLogins()
	composed := "jos\u00e9"
	decomposed := "jose\u0301"

	if !l.Login(1, composed) {
		t.Fatal("expected first login to succeed")
	}
	if l.Login(2, decomposed) {
		t.Error("expected canonically equivalent username to be rejected")
	}
}

func TestLogins_ConcurrentSameUsername(t *testing.T) {
	l := NewLogins()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := int64(0); i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if l.Login(id, "shared") {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("expected exactly one successful login, got %d", successes)
	}
	if l.Len() != 1 {
		t.Errorf("expected exactly one registry entry, got %d", l.Len())
	}
}

func TestFileLocks(t *testing.T) {
	f := NewFileLocks()

	if !f.TryLock("a.txt") {
		t.Fatal("expected first TryLock() to succeed")
	}
	if f.TryLock("a.txt") {
		t.Error("expected TryLock() on a held lock to fail")
	}
	if !f.TryLock("b.txt") {
		t.Error("expected locks for different names to be independent")
	}

	f.Unlock("a.txt")
	if !f.TryLock("a.txt") {
		t.Error("expected TryLock() to succeed after Unlock()")
	}
	if f.Len() != 2 {
		t.Errorf("expected 2 locks in the table, got %d", f.Len())
	}
}

func TestState_Disconnect(t *testing.T) {
	s := NewState()
	s.Registry.Add(7, &recordingSender{})
	s.Logins.Login(7, "carol")

	s.Disconnect(7)

	if s.Registry.Len() != 0 {
		t.Error("expected connection to be removed from the registry")
	}
	if s.Logins.Taken("carol") {
		t.Error("expected username to be released")
	}
}
