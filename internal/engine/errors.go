package engine

import (
	"fmt"
	"time"
)

// LaunchError reports a container that could not be created or started.
type LaunchError struct {
	Reason string
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("container launch failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("container launch failed: %s", e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TimeoutError reports a run that exceeded its wall-clock limit and was
// terminated.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("container exceeded %s timeout and was terminated", e.Timeout)
}
