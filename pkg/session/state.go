package session

// State is where a session is in its lifecycle
type State int

const (
	NotStarted State = iota
	Running
	Stepping
	Completed
	Stopped
	// Error absorbs every failure; the session's resources are released on entry
	Error
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Stepping:
		return "Stepping"
	case Completed:
		return "Completed"
	case Stopped:
		return "Stopped"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// Active reports whether the debugged program can still make progress
func (s State) Active() bool {
	return s == Running || s == Stepping
}
