package setup

// State is the per-node setup state.
type State string

// State constants.
const (
	StateIdle           State = "IDLE"
	StateRamping        State = "RAMPING"
	StateCharacterizing State = "CHARACTERIZING"
	StateRunning        State = "RUNNING"
	StateAborting       State = "ABORTING"
	StateAborted        State = "ABORTED"
	StateFaulted        State = "FAULTED"
	StateShuttingDown   State = "SHUTTING_DOWN"
)

// InProgress reports whether the state is a transient phase of an active
// invocation.
func (s State) InProgress() bool {
	switch s {
	case StateRamping, StateCharacterizing, StateAborting, StateShuttingDown:
		return true
	default:
		return false
	}
}

// Terminal reports whether the state is a settled outcome.
func (s State) Terminal() bool {
	return !s.InProgress()
}

// Direction selects setup or shutdown.
type Direction string

// Direction constants.
const (
	DirectionSetup    Direction = "SETUP"
	DirectionShutdown Direction = "SHUTDOWN"
)

// aggregate derives a non-leaf node's displayed state from its leaf
// descendants. The aggregate is never stored; it is recomputed on demand.
//
// Precedence: FAULTED if any leaf faulted; ABORTING while any leaf is
// aborting; then the in-progress phases; then ABORTED; RUNNING only when
// every leaf is running; IDLE otherwise.
func aggregate(leafStates []State) State {
	if len(leafStates) == 0 {
		return StateIdle
	}

	var anyAborting, anyShuttingDown, anyRamping, anyCharacterizing, anyAborted bool
	allRunning := true

	for _, s := range leafStates {
		switch s {
		case StateFaulted:
			return StateFaulted
		case StateAborting:
			anyAborting = true
		case StateShuttingDown:
			anyShuttingDown = true
		case StateRamping:
			anyRamping = true
		case StateCharacterizing:
			anyCharacterizing = true
		case StateAborted:
			anyAborted = true
		}
		if s != StateRunning {
			allRunning = false
		}
	}

	switch {
	case anyAborting:
		return StateAborting
	case anyShuttingDown:
		return StateShuttingDown
	case anyRamping:
		return StateRamping
	case anyCharacterizing:
		return StateCharacterizing
	case anyAborted:
		return StateAborted
	case allRunning:
		return StateRunning
	default:
		return StateIdle
	}
}
