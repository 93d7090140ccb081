package kernelrun

import "sync"

// Status is the kernel lifecycle state as observed by the client.
type Status string

const (
	// StatusStopped means no kernel is running.
	StatusStopped Status = "stopped"

	// StatusStarting means the transport is launching or the kernel has
	// not yet answered the readiness probe.
	StatusStarting Status = "starting"

	// StatusIdle means the kernel is running and not executing.
	StatusIdle Status = "idle"

	// StatusBusy means the kernel is executing.
	StatusBusy Status = "busy"

	// StatusError means startup failed or the transport died.
	StatusError Status = "error"
)

// statusTransitions lists the allowed next states for each status. A
// transition outside the table is ignored; in particular nothing but a
// start resurrects a stopped kernel, and a failed one recovers only
// through restart.
var statusTransitions = map[Status][]Status{
	StatusStopped:  {StatusStarting},
	StatusStarting: {StatusIdle, StatusBusy, StatusError, StatusStopped},
	StatusIdle:     {StatusBusy, StatusStarting, StatusError, StatusStopped},
	StatusBusy:     {StatusIdle, StatusStarting, StatusError, StatusStopped},
	StatusError:    {StatusStarting, StatusStopped},
}

func canTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// statusFromExecutionState maps a broadcast execution_state value to a
// Status. Reports false for states the client does not track.
func statusFromExecutionState(state string) (Status, bool) {
	switch state {
	case "idle":
		return StatusIdle, true
	case "busy":
		return StatusBusy, true
	case "starting":
		return StatusStarting, true
	}
	return "", false
}

// statusCell holds the current status behind a mutex. All writes go
// through the transition table, which keeps concurrent writers (lifecycle
// methods, the broadcast reader, liveness probes) from producing states
// the lifecycle cannot reach.
type statusCell struct {
	mu sync.Mutex
	s  Status
}

func newStatusCell() *statusCell {
	return &statusCell{s: StatusStopped}
}

func (c *statusCell) get() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// set applies the transition and reports whether the table allowed it.
func (c *statusCell) set(next Status) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.s, next) {
		return false
	}
	c.s = next
	return true
}
