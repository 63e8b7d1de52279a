package automation

import "errors"

// Domain errors for the automation package.
//
//	if errors.Is(err, automation.ErrScheduleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = errors.New("schedule: not found")

	// ErrScheduleExists is returned when creating a schedule with an ID that already exists.
	ErrScheduleExists = errors.New("schedule: already exists")

	// ErrInvalidSchedule is returned when schedule validation fails.
	ErrInvalidSchedule = errors.New("schedule: invalid")

	// ErrInvalidTime is returned for a malformed or out-of-range time of day.
	ErrInvalidTime = errors.New("schedule: invalid time of day")

	// ErrInvalidAction is returned for an action other than On or Off.
	ErrInvalidAction = errors.New("schedule: invalid action")

	// ErrUnknownTarget is returned when a schedule targets a device not in the catalog.
	ErrUnknownTarget = errors.New("schedule: unknown target")

	// ErrNotPersisted is returned when a change was applied in memory but
	// could not be saved.
	ErrNotPersisted = errors.New("schedule: change not persisted")

	// ErrEvaluatorRunning is returned by Start when the loop is already running.
	ErrEvaluatorRunning = errors.New("schedule: evaluator already running")
)
