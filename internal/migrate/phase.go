package migrate

// Phase is the orchestrator's state machine position.
type Phase int

const (
	NotStarted Phase = iota
	Preparing
	SendingFiles
	SendingApps
	Finalizing
	Completed
	Aborted
)

// Terminal reports whether no further transitions can occur.
func (p Phase) Terminal() bool {
	return p == Completed || p == Aborted
}

func (p Phase) String() string {
	switch p {
	case NotStarted:
		return "not_started"
	case Preparing:
		return "preparing"
	case SendingFiles:
		return "sending_files"
	case SendingApps:
		return "sending_apps"
	case Finalizing:
		return "finalizing"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}
