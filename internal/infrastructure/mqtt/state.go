package mqtt

// ConnectionState is the observable lifecycle of the broker session.
//
//	Disconnected --Connect--> Connecting --ack ok--> Connected
//	Connecting --ack fail--> Disconnected
//	Connected --connection lost--> Disconnected
//	Disconnected --auto reconnect--> Connecting
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the lower-case state name used in logs and JSON.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// StateChangeFunc observes session transitions. err carries the transport
// error for failed attempts and lost connections, and is nil otherwise.
type StateChangeFunc func(state ConnectionState, err error)
