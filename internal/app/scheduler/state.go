// Package scheduler provides the per-session playback scheduler: an ordered
// queue of tracks drained by a single driving loop.
package scheduler

// State represents the scheduler state.
type State int

const (
	StateEmpty              State = iota // Loop parked, no current item
	StatePreparing                       // Materializing a source for a popped item
	StatePlaying                         // Engine invoked, audio starting
	StateAwaitingCompletion              // Blocked on the engine's completion signal
	StateTerminating                     // Loop exiting, cleanup in progress
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePreparing:
		return "preparing"
	case StatePlaying:
		return "playing"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateTerminating:
		return "terminating"
	default:
		return "unknown"
	}
}
