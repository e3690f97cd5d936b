package domain

import (
	"fmt"
	"time"
)

// State is the per-target classification kept by the transition state machine.
type State string

const (
	StateUnknown State = "UNKNOWN"
	StateUp      State = "UP"
	StateDown    State = "DOWN"
)

func StateFromUp(up bool) State {
	if up {
		return StateUp
	}
	return StateDown
}

// ParseState maps a stored value back to a State. Empty values read as UNKNOWN.
func ParseState(s string) (State, error) {
	switch State(s) {
	case "", StateUnknown:
		return StateUnknown, nil
	case StateUp:
		return StateUp, nil
	case StateDown:
		return StateDown, nil
	}
	return StateUnknown, fmt.Errorf("unknown state %q", s)
}

// TransitionEvent is emitted once per observed UP/DOWN change.
type TransitionEvent struct {
	TargetID   TargetID  `json:"target_id"`
	URL        string    `json:"url"`
	EventType  State     `json:"event_type"`
	StatusCode *int      `json:"status_code"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      *string   `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewTransitionEvent carries the triggering result's metadata.
func NewTransitionEvent(r ProbeResult, to State) TransitionEvent {
	return TransitionEvent{
		TargetID:   r.TargetID,
		URL:        r.URL,
		EventType:  to,
		StatusCode: r.StatusCode,
		LatencyMS:  r.LatencyMS,
		Error:      r.Error,
		Timestamp:  r.Timestamp,
	}
}

// Incident is the durable audit record appended on every transition.
type Incident struct {
	EventType State  `json:"event_type"`
	Details   string `json:"details"`
}

func NewIncident(r ProbeResult, to State) Incident {
	details := r.ErrorText()
	if details == "" {
		details = "N/A"
	}
	return Incident{EventType: to, Details: details}
}

// UptimeAggregate holds monotonically increasing check counters.
type UptimeAggregate struct {
	TargetID    TargetID  `json:"target_id"`
	TotalChecks int64     `json:"total_checks"`
	UpChecks    int64     `json:"up_checks"`
	LastUpdated time.Time `json:"last_updated"`
}

// Record applies one check; UpChecks never exceeds TotalChecks.
func (a *UptimeAggregate) Record(up bool, at time.Time) {
	a.TotalChecks++
	if up {
		a.UpChecks++
	}
	a.LastUpdated = at
}

// UptimePercent is 100 when nothing has been checked yet.
func (a UptimeAggregate) UptimePercent() float64 {
	if a.TotalChecks == 0 {
		return 100
	}
	return float64(a.UpChecks) / float64(a.TotalChecks) * 100
}
