package common

// State represents all possible states for a process in a token ring
// mutual exclusion context.
type State int

const (
	NoTokenIdle State = iota
	NoTokenPending
	HoldingToken
)

func (s State) String() string {
	switch s {
	case NoTokenIdle:
		return "NoToken-Idle"
	case NoTokenPending:
		return "NoToken-Pending"
	case HoldingToken:
		return "HoldingToken"
	default:
		return "Unknown"
	}
}

// EventKind tells what a process just did with the token.
type EventKind string

const (
	EventEnter   EventKind = "enter"
	EventExit    EventKind = "exit"
	EventForward EventKind = "forward"
)

// Event is emitted by a process at critical section entry and exit, and each
// time it forwards the token. Index is monotonic across the whole ring.
type Event struct {
	Run      string    `json:",omitempty"`
	Index    uint64
	PID      int
	Kind     EventKind
	Request  uint64 // issuance order of the served request, 0 for forwards
	TokenSeq uint64 // number of forwards the token went through before this event
}
