package nvenc

// State represents the lifecycle state of an encoder session.
type State string

// Session states.
const (
	StateUninitialized State = "uninitialized" // Never initialized, or a failed Initialize
	StateInitializing  State = "initializing"  // Acquiring hardware resources
	StateReady         State = "ready"         // Accepting frames
	StateShuttingDown  State = "shutting_down" // Releasing hardware resources
	StateClosed        State = "closed"        // Released; may be initialized again
)

// StateChangeCallback is called on every session state transition.
// It runs with the session lock held and must not call back into the session.
type StateChangeCallback func(sessionID string, oldState, newState State)
