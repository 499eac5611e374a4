package sessions

import (
	"testing"
)

func TestStatusFromEvent(t *testing.T) {
	tests := []struct {
		event     SessionEventType
		expected  SessionStatus
		hasStatus bool
	}{
		{EvtSessionCreated, StatusPending, true},
		{EvtSessionAssigned, StatusPending, true},
		{EvtSessionStarting, StatusStarting, true},
		{EvtBrowserStarted, StatusRunning, true},
		{EvtSessionCompleted, StatusCompleted, true},
		{EvtSessionCrashed, StatusCrashed, true},
		{EvtSessionTimedOut, StatusTimedOut, true},
		{EvtSessionTerminated, StatusTerminated, true},
		{EvtSessionIdle, "", false},
		{EvtSessionActive, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			status, hasStatus := StatusFromEvent(tt.event)
			if hasStatus != tt.hasStatus {
				t.Errorf("StatusFromEvent(%v) hasStatus = %v, want %v", tt.event, hasStatus, tt.hasStatus)
			}
			if status != tt.expected {
				t.Errorf("StatusFromEvent(%v) status = %v, want %v", tt.event, status, tt.expected)
			}
		})
	}
}

func TestShouldTransition(t *testing.T) {
	tests := []struct {
		current  SessionStatus
		next     SessionStatus
		expected bool
	}{
		{StatusPending, StatusStarting, true},
		{StatusPending, StatusRunning, true},
		{StatusStarting, StatusRunning, true},
		{StatusRunning, StatusCompleted, true},
		{StatusStarting, StatusCompleted, true},
		{StatusPending, StatusTerminated, true},
		{StatusRunning, StatusStarting, false},
		{StatusStarting, StatusPending, false},
		{StatusPending, StatusPending, false},
		{StatusRunning, StatusRunning, false},
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusStarting, false},
		{StatusCrashed, StatusRunning, false},
		// terminal to terminal never moves
		{StatusCompleted, StatusTerminated, false},
		{StatusTimedOut, StatusFailed, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.current)+"_to_"+string(tt.next), func(t *testing.T) {
			if got := ShouldTransition(tt.current, tt.next); got != tt.expected {
				t.Errorf("ShouldTransition(%v, %v) = %v, want %v", tt.current, tt.next, got, tt.expected)
			}
		})
	}
}

func TestIsTerminalStatus(t *testing.T) {
	terminal := []SessionStatus{
		StatusCompleted, StatusFailed, StatusExpired,
		StatusCrashed, StatusTimedOut, StatusTerminated,
	}
	for _, s := range terminal {
		if !IsTerminalStatus(s) {
			t.Errorf("IsTerminalStatus(%v) = false, want true", s)
		}
		if StatusRank(s) != 3 {
			t.Errorf("StatusRank(%v) = %d, want 3", s, StatusRank(s))
		}
	}

	for _, s := range []SessionStatus{StatusPending, StatusStarting, StatusRunning} {
		if IsTerminalStatus(s) {
			t.Errorf("IsTerminalStatus(%v) = true, want false", s)
		}
	}
}
