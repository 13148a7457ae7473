// Package trigger defines the explicit events that start a sync cycle,
// decoupling the engine from any particular UI framework's lifecycle API.
package trigger

// Event names the reason a sync cycle was requested.
type Event int

const (
	// AppDidBecomeActive fires when the app returns to the foreground.
	AppDidBecomeActive Event = iota
	// AuthenticationSucceeded fires right after sign-in; staleness is
	// unacceptable here, so the cooldown is bypassed.
	AuthenticationSucceeded
	// ManualRefreshRequested is an explicit user pull-to-refresh.
	ManualRefreshRequested
	// ColdStart fires once when the agent boots with a session present.
	ColdStart
	// RemoteChange arrives when another device of the same owner pushed.
	RemoteChange
	// Periodic is the agent's steady background interval.
	Periodic
)

func (e Event) String() string {
	switch e {
	case AppDidBecomeActive:
		return "app_did_become_active"
	case AuthenticationSucceeded:
		return "authentication_succeeded"
	case ManualRefreshRequested:
		return "manual_refresh_requested"
	case ColdStart:
		return "cold_start"
	case RemoteChange:
		return "remote_change"
	case Periodic:
		return "periodic"
	default:
		return "unknown"
	}
}

// Force reports whether the event must bypass the debounce cooldown.
func (e Event) Force() bool {
	switch e {
	case AuthenticationSucceeded, ColdStart, ManualRefreshRequested:
		return true
	default:
		return false
	}
}
