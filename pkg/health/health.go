package health

import (
	"encoding/json"
	"sync"
)

// State is the coarse condition of a long-lived session or service.
type State int

const (
	Starting State = iota
	Healthy
	Degraded
	Unhealthy
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

// Status pairs a state with an optional human-readable reason.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Tracker holds a Status behind a mutex. Sessions write during init and on
// call failures; health endpoints read.
type Tracker struct {
	mu     sync.RWMutex
	status Status
}

func NewTracker() *Tracker {
	return &Tracker{status: Status{State: Starting, Reason: "starting up"}}
}

func (t *Tracker) Set(state State, reason string) {
	t.mu.Lock()
	t.status = Status{State: state, Reason: reason}
	t.mu.Unlock()
}

func (t *Tracker) Get() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}
