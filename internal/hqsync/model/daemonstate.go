package model

import "fmt"

// DaemonState is the Sync Daemon's lifecycle state. Transitions are linear
// and illegal ones are rejected — see daemon.legalTransitions.
type DaemonState string

const (
	DaemonIdle     DaemonState = "idle"
	DaemonStarting DaemonState = "starting"
	DaemonRunning  DaemonState = "running"
	DaemonPaused   DaemonState = "paused"
	DaemonStopping DaemonState = "stopping"
	DaemonStopped  DaemonState = "stopped"
)

// ErrIllegalTransition is returned when a requested DaemonState transition
// is not reachable from the current state.
type ErrIllegalTransition struct {
	From DaemonState
	To   DaemonState
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal daemon transition: %s -> %s", e.From, e.To)
}
