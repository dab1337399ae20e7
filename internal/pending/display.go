package pending

import "github.com/kalambet/dynasty/internal/client"

// State is how an achievement should be rendered.
type State int

const (
	StateLocked State = iota
	StatePending
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	default:
		return "locked"
	}
}

// DisplayState combines the server flags with the ledger. Completed beats
// pending, and an achievement is pending when either the server or the
// ledger says so.
func (l *Ledger) DisplayState(a client.Achievement) State {
	switch {
	case a.IsCompleted:
		return StateCompleted
	case a.IsPending, l.IsPending(a.ID):
		return StatePending
	default:
		return StateLocked
	}
}
