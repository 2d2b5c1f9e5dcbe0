package session

import (
	"fmt"

	"github.com/kalambet/interview/internal/questions"
)

// State is a session lifecycle state.
type State int

const (
	Created State = iota
	Listening
	Active
	Completed
	Cancelled
	TimedOut
	Aborted
)

var stateNames = [...]string{
	Created:   "created",
	Listening: "listening",
	Active:    "active",
	Completed: "completed",
	Cancelled: "cancelled",
	TimedOut:  "timedOut",
	Aborted:   "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s is one of the four sticky end states.
func (s State) Terminal() bool {
	return s >= Completed
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

// Reason qualifies a cancelled, timed out or aborted outcome.
type Reason string

const (
	ReasonUser      Reason = "user"
	ReasonTimeout   Reason = "timeout"
	ReasonAbandoned Reason = "abandoned"
	ReasonAborted   Reason = "aborted"
)

// Outcome is the terminal result handed back to the owner of a session. It
// always carries a status and whatever answers were recorded.
type Outcome struct {
	Status       State                `json:"status"`
	Reason       Reason               `json:"reason,omitempty"`
	Responses    []questions.Response `json:"responses"`
	Answers      questions.Answers    `json:"answers"`
	SnapshotPath string               `json:"snapshotPath,omitempty"`
	RecoveryPath string               `json:"recoveryPath,omitempty"`
}
