package scheduler

import "errors"

var (
	// ErrWorkInProgress is returned when a unit starts while another is
	// still current.
	ErrWorkInProgress = errors.New("another work unit is in progress")

	ErrNilUnit    = errors.New("work unit cannot be nil")
	ErrNilPlanner = errors.New("planner cannot be nil")
	ErrNilTracker = errors.New("tracker cannot be nil")
	ErrNilQueue   = errors.New("queue manager cannot be nil")
)
