package nci

// State represents the RF state of the NFC controller. States are ordered:
// everything at or below StateIdle means the RF side is quiet.
type State int

const (
	StateInit State = iota
	StateError
	StateStop
	StateIdle
	StateDiscovery
	StateW4AllDiscoveries
	StateW4HostSelect
	StatePollActive
	StateListenActive
	StateListenSleep
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateError:
		return "Error"
	case StateStop:
		return "Stop"
	case StateIdle:
		return "Idle"
	case StateDiscovery:
		return "Discovery"
	case StateW4AllDiscoveries:
		return "W4AllDiscoveries"
	case StateW4HostSelect:
		return "W4HostSelect"
	case StatePollActive:
		return "PollActive"
	case StateListenActive:
		return "ListenActive"
	case StateListenSleep:
		return "ListenSleep"
	default:
		return "Unknown"
	}
}
