package domain

import "fmt"

// IdeaStatus is the lifecycle state of a WatchedItem.
type IdeaStatus string

const (
	StatusWatching IdeaStatus = "WATCHING"
	StatusExecuted IdeaStatus = "EXECUTED"
)

// transitions lists every allowed status move. Anything absent is rejected.
var transitions = map[IdeaStatus][]IdeaStatus{
	StatusWatching: {StatusExecuted},
	StatusExecuted: nil,
}

// Valid reports whether s is a known status.
func (s IdeaStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether an idea may move from one status to another.
func CanTransition(from, to IdeaStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when from -> to is not in
// the transition table.
func CheckTransition(from, to IdeaStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ParseIdeaStatus validates a persisted status string.
func ParseIdeaStatus(s string) (IdeaStatus, error) {
	st := IdeaStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown idea status %q", ErrValidation, s)
	}
	return st, nil
}
