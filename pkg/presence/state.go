package presence

import (
	"fmt"
	"strings"
)

// State is the availability of a remote contact. The order is for display only.
type State int

const (
	Offline State = iota
	Online
	Busy
	Away
	AwayLong
)

var stateNames = map[State]string{
	Offline:  "OFFLINE",
	Online:   "ONLINE",
	Busy:     "BUSY",
	Away:     "AWAY",
	AwayLong: "AWAY_LONG",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ParseState parses a state name such as "away_long" or "AWAY-LONG".
func ParseState(s string) (State, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	for state, name := range stateNames {
		if name == norm {
			return state, nil
		}
	}
	return Offline, fmt.Errorf("unknown presence state %q", s)
}

// StateSet is a set of presence states.
type StateSet map[State]struct{}

// NewStateSet builds a set from the given states.
func NewStateSet(states ...State) StateSet {
	set := make(StateSet, len(states))
	for _, s := range states {
		set[s] = struct{}{}
	}
	return set
}

// Contains reports membership.
func (s StateSet) Contains(state State) bool {
	_, ok := s[state]
	return ok
}

func (s StateSet) String() string {
	names := make([]string, 0, len(s))
	for _, state := range []State{Offline, Online, Busy, Away, AwayLong} {
		if s.Contains(state) {
			names = append(names, state.String())
		}
	}
	return "[" + strings.Join(names, ",") + "]"
}

// DefaultNotifiable is used when no notifiable statuses are configured.
func DefaultNotifiable() StateSet {
	return NewStateSet(Online, Away)
}
