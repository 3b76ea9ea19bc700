package store

// State is the connection state of a Store.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// RequireConnected returns ErrConnection for op unless s is connected.
func RequireConnected(s State, backend Backend, op string) error {
	if s != StateConnected {
		return Errorf(KindConnection, backend, op, "store is not connected")
	}
	return nil
}

// RequireDisconnected returns ErrAlreadyConnected unless s is disconnected.
func RequireDisconnected(s State, backend Backend) error {
	if s != StateDisconnected {
		return NewError(KindAlreadyConnected, backend, "connect", nil)
	}
	return nil
}
