package endpoint

import "time"

// State is one of the three connection states in §3/§4.1.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	// connectDeadline is the aggressive 250ms window §4.1 allows a
	// connect attempt before it is treated as failed. The rationale
	// (§4.1): a higher-level pool can try another endpoint, so fast
	// failure beats slow correctness here.
	connectDeadline = 250 * time.Millisecond

	// deadInterval is how long alive() reports false after a
	// transition into Disconnected caused by failure.
	deadInterval = 10 * time.Second

	// defaultPort is used when a hostspec carries no explicit port.
	defaultPort = 7003
)
