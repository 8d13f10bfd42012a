package session

// State bundles the structures shared by every connection on one server. One
// instance is created at startup and handed to each connection's protocol.
type State struct {
	Registry *Registry
	Logins   *Logins
	Locks    *FileLocks
}

func NewState() *State {
	return &State{
		Registry: NewRegistry(),
		Logins:   NewLogins(),
		Locks:    NewFileLocks(),
	}
}

// Disconnect removes every trace of a connection from the shared state.
func (s *State) Disconnect(id int64) {
	s.Logins.Logout(id)
	s.Registry.Remove(id)
}
