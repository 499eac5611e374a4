package sessions

// statusRank orders statuses for monotonic progression. A transition is
// only applied when the new status has a strictly higher rank, so repeated
// or late-arriving events never move a session backwards.
var statusRank = map[SessionStatus]int{
	StatusPending:    0,
	StatusStarting:   1,
	StatusRunning:    2,
	StatusCompleted:  3,
	StatusFailed:     3,
	StatusExpired:    3,
	StatusCrashed:    3,
	StatusTimedOut:   3,
	StatusTerminated: 3,
}

// eventStatus maps lifecycle events to the status they imply. Events
// absent from the map (session_idle, session_active) carry no transition.
// StatusFailed has no event mapping; it is set directly on provision
// failure.
var eventStatus = map[SessionEventType]SessionStatus{
	EvtSessionCreated:    StatusPending,
	EvtSessionAssigned:   StatusPending,
	EvtSessionStarting:   StatusStarting,
	EvtBrowserStarted:    StatusRunning,
	EvtSessionCompleted:  StatusCompleted,
	EvtSessionCrashed:    StatusCrashed,
	EvtSessionTimedOut:   StatusTimedOut,
	EvtSessionTerminated: StatusTerminated,
}

// StatusFromEvent returns the status implied by an event, if any.
func StatusFromEvent(e SessionEventType) (SessionStatus, bool) {
	s, ok := eventStatus[e]
	return s, ok
}

// ShouldTransition reports whether moving from cur to next advances the
// session under the monotonicity rank.
func ShouldTransition(cur, next SessionStatus) bool {
	return statusRank[next] > statusRank[cur]
}

// StatusRank exposes the monotonicity rank of a status.
func StatusRank(s SessionStatus) int {
	return statusRank[s]
}

func IsTerminalStatus(status SessionStatus) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusExpired,
		StatusCrashed, StatusTimedOut, StatusTerminated:
		return true
	default:
		return false
	}
}
