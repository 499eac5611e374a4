package sessions

// OperatingSystem represents supported operating systems
// @Description Supported operating systems for browser sessions
type OperatingSystem string //@name OperatingSystem

const (
	OSWindows OperatingSystem = "windows"
	OSMacOS   OperatingSystem = "macos"
	OSLinux   OperatingSystem = "linux"
)

func (os OperatingSystem) Valid() bool {
	switch os {
	case OSWindows, OSMacOS, OSLinux:
		return true
	}
	return false
}

// Browser represents supported browser types
// @Description Supported browser types
type Browser string //@name Browser

const (
	BrowserChrome  Browser = "chrome"
	BrowserFirefox Browser = "firefox"
	BrowserEdge    Browser = "edge"
	BrowserSafari  Browser = "safari"
)

func (b Browser) Valid() bool {
	switch b {
	case BrowserChrome, BrowserFirefox, BrowserEdge, BrowserSafari:
		return true
	}
	return false
}

// BrowserVersion represents browser version channels
// @Description Browser version channels (latest, stable, canary, dev)
type BrowserVersion string //@name BrowserVersion

const (
	VerLatest BrowserVersion = "latest"
	VerStable BrowserVersion = "stable"
	VerCanary BrowserVersion = "canary"
	VerDev    BrowserVersion = "dev"
)

func (v BrowserVersion) Valid() bool {
	switch v {
	case VerLatest, VerStable, VerCanary, VerDev:
		return true
	}
	return false
}

// SessionStatus represents the current status of a browser session
// @Description Current status of a browser session
type SessionStatus string //@name SessionStatus

const (
	StatusPending    SessionStatus = "pending"
	StatusStarting   SessionStatus = "starting"
	StatusRunning    SessionStatus = "running"
	StatusCompleted  SessionStatus = "completed"
	StatusFailed     SessionStatus = "failed"
	StatusExpired    SessionStatus = "expired"
	StatusCrashed    SessionStatus = "crashed"
	StatusTimedOut   SessionStatus = "timed_out"
	StatusTerminated SessionStatus = "terminated"
)

func (s SessionStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// SessionEventType represents the lifecycle events a session can emit
// @Description Types of events that can occur during a session
type SessionEventType string //@name SessionEventType

const (
	EvtSessionCreated    SessionEventType = "session_created"
	EvtSessionAssigned   SessionEventType = "session_assigned"
	EvtSessionStarting   SessionEventType = "session_starting"
	EvtBrowserStarted    SessionEventType = "browser_started"
	EvtSessionCompleted  SessionEventType = "session_completed"
	EvtSessionCrashed    SessionEventType = "session_crashed"
	EvtSessionTimedOut   SessionEventType = "session_timed_out"
	EvtSessionTerminated SessionEventType = "session_terminated"
	EvtSessionIdle       SessionEventType = "session_idle"
	EvtSessionActive     SessionEventType = "session_active"
)

func (e SessionEventType) Valid() bool {
	switch e {
	case EvtSessionCreated, EvtSessionAssigned, EvtSessionStarting,
		EvtBrowserStarted, EvtSessionCompleted, EvtSessionCrashed,
		EvtSessionTimedOut, EvtSessionTerminated, EvtSessionIdle,
		EvtSessionActive:
		return true
	}
	return false
}
