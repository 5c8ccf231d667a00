package supervisor

import "fmt"

// State is the lifecycle state of a worker.
type State int32

const (
	// StateStarting is a worker whose process is up but not yet Ready.
	StateStarting State = iota
	// StateReady is an idle worker waiting for a chunk.
	StateReady
	// StateBusy is a worker executing a chunk.
	StateBusy
	// StateRestarting is a worker being stopped so its slot can be refilled.
	StateRestarting
	// StateDead is a worker whose process is gone.
	StateDead
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateRestarting:
		return "restarting"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// EventKind classifies a lifecycle Event.
type EventKind int

const (
	// EventReady is emitted when a freshly spawned worker reports ready.
	EventReady EventKind = iota
	// EventSpawnFailed is emitted for every failed spawn attempt.
	EventSpawnFailed
	// EventRestart is emitted when a worker is retired by the restart policy.
	EventRestart
	// EventDeath is emitted when a worker process died or was killed.
	EventDeath
	// EventSlotDead is emitted when a slot gave up respawning.
	EventSlotDead
	// EventStopped is emitted when a worker stopped during shutdown.
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventSpawnFailed:
		return "spawn-failed"
	case EventRestart:
		return "restart"
	case EventDeath:
		return "death"
	case EventSlotDead:
		return "slot-dead"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event describes one worker lifecycle transition.
type Event struct {
	Kind     EventKind
	Slot     int
	WorkerID string
	PID      int
	Err      error
}
