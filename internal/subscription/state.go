package subscription

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

var stateNext = map[State]map[State]bool{
	Disconnected: {Connecting: true},
	Connecting:   {Connected: true, Reconnecting: true, Failed: true, Disconnected: true},
	Connected:    {Reconnecting: true, Failed: true, Disconnected: true},
	Reconnecting: {Connecting: true, Failed: true, Disconnected: true},
	Failed:       {Connecting: true, Disconnected: true},
}

func canTransition(from, to State) bool {
	return stateNext[from][to]
}
