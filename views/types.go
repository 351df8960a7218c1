package views

// FilterMode selects which packet kinds the session log shows.
// Routing traffic is always hidden; the session runner reports
// delivery outcomes on the status line instead.
type FilterMode int

const (
	FilterAll     FilterMode = iota // everything except routing
	FilterChatter                   // messages and node announcements
	FilterText                      // messages only
)

// Next cycles to the following filter mode.
func (f FilterMode) Next() FilterMode {
	switch f {
	case FilterAll:
		return FilterChatter
	case FilterChatter:
		return FilterText
	default:
		return FilterAll
	}
}

// Label names the mode for the help line.
func (f FilterMode) Label() string {
	switch f {
	case FilterChatter:
		return "chatter"
	case FilterText:
		return "text"
	default:
		return "all"
	}
}

// Shows reports whether packets of the given port are visible.
func (f FilterMode) Shows(port string) bool {
	switch port {
	case "ROUTING_APP":
		return false
	case "TEXT_MESSAGE_APP":
		return true
	case "NODEINFO_APP":
		return f != FilterText
	default:
		return f == FilterAll
	}
}
