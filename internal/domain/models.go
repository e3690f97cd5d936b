package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	// MinInterval bounds the probe rate for any single target.
	MinInterval     = 10 * time.Second
	DefaultInterval = 60 * time.Second
)

type TargetID string

// UnmarshalJSON accepts both numeric and string ids; the Registry hands out integers.
func (id *TargetID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = TargetID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = TargetID(n.String())
	return nil
}

// Target is the scheduler's read-only copy of a Registry monitor.
type Target struct {
	ID       TargetID      `json:"id"`
	URL      string        `json:"url"`
	Interval time.Duration `json:"-"`
	Active   bool          `json:"-"`
}

type targetWire struct {
	ID              TargetID `json:"id"`
	URL             string   `json:"url"`
	IntervalSeconds int      `json:"interval_seconds"`
	IsActive        *bool    `json:"is_active,omitempty"`
}

func (t Target) MarshalJSON() ([]byte, error) {
	active := t.Active
	return json.Marshal(targetWire{
		ID:              t.ID,
		URL:             t.URL,
		IntervalSeconds: int(t.Interval / time.Second),
		IsActive:        &active,
	})
}

// UnmarshalJSON decodes the Registry shape. Targets without is_active are active,
// since /all_monitors only lists active monitors.
func (t *Target) UnmarshalJSON(b []byte) error {
	var w targetWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t.ID = w.ID
	t.URL = strings.TrimSpace(w.URL)
	t.Interval = time.Duration(w.IntervalSeconds) * time.Second
	t.Active = w.IsActive == nil || *w.IsActive
	return nil
}

var (
	ErrMissingID  = errors.New("target id is required")
	ErrMissingURL = errors.New("target url is required")
)

// Normalize validates t and clamps its interval into the allowed range.
func (t Target) Normalize() (Target, error) {
	if t.ID == "" {
		return t, ErrMissingID
	}
	if t.URL == "" {
		return t, ErrMissingURL
	}
	switch {
	case t.Interval <= 0:
		t.Interval = DefaultInterval
	case t.Interval < MinInterval:
		t.Interval = MinInterval
	}
	return t, nil
}

// ProbeResult is one immutable health-check outcome; the unit of the result stream.
type ProbeResult struct {
	TargetID   TargetID  `json:"target_id"`
	URL        string    `json:"url"`
	Timestamp  time.Time `json:"timestamp"`
	IsUp       bool      `json:"is_up"`
	StatusCode *int      `json:"status_code"`
	LatencyMS  int64     `json:"latency_ms"`
	Error      *string   `json:"error"`
}

// ErrorText returns the probe error or "" when the probe carried none.
func (r ProbeResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Validate rejects results that cannot be routed to a target.
func (r ProbeResult) Validate() error {
	if r.TargetID == "" {
		return ErrMissingID
	}
	return nil
}
