package engine

// State is a unit's position in the execution state machine.
//
//	Created -> Ready <-> Running -> {Ready, Blocked, Zombie} -> Terminated
type State int32

const (
	// StateCreated is the state of a unit that has never been stepped.
	StateCreated State = iota
	// StateReady means eligible for stepping this pass.
	StateReady
	// StateRunning is held only for the duration of a step call.
	StateRunning
	// StateBlocked means waiting on upstream deltas.
	StateBlocked
	// StateZombie means the unit exhausted its work or faulted. It is no
	// longer scheduled but stays queryable.
	StateZombie
	// StateTerminated is reached after removal from the graph.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Done reports whether the state is final for scheduling purposes.
func (s State) Done() bool {
	return s == StateZombie || s == StateTerminated
}
