package engine

import "fmt"

// State is the position of the run loop.
type State int32

const (
	Idle State = iota
	Confirming
	Planning
	Executing
	Waiting
	Terminated
)

var stateToString = map[State]string{
	Idle:       "idle",
	Confirming: "confirming",
	Planning:   "planning",
	Executing:  "executing",
	Waiting:    "waiting",
	Terminated: "terminated",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_state(%d)", int32(s))
}
