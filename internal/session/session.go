// Package session implements profiling sample sessions. A session is either
// live (bound to a remote agent link) or file-backed (bound to historical
// TSFiles); both variants share one capability set and each carries its own
// lock, so a slow operation on one session never blocks another.
package session

import (
	"github.com/flare-profiler/flare/internal/tsfile"
)

// Type identifies the session variant. The wire values match what the
// dashboard expects.
type Type string

const (
	// TypeLive is an agent-backed session.
	TypeLive Type = "attach"
	// TypeFile is a store-backed session.
	TypeFile Type = "file"
)

// MetricSummary summarizes one sampled series.
type MetricSummary struct {
	Name           string  `json:"name"`
	BeginTime      int64   `json:"begin_time"`
	EndTime        int64   `json:"end_time"`
	NativeInterval int64   `json:"native_interval"`
	Amount         int64   `json:"amount"`
	LastValue      float64 `json:"last_value"`
}

// SampleInfo summarizes a session for the dashboard.
type SampleInfo struct {
	SessionID        string `json:"session_id"`
	Type             Type   `json:"type"`
	BeginTime        int64  `json:"begin_time"`
	EndTime          int64  `json:"end_time"`
	SampleIntervalMs int64  `json:"sample_interval_ms"`
	RecordCount      int64  `json:"record_count"`
	AgentAddr        string `json:"agent_addr,omitempty"`
	SampleDataDir    string `json:"sample_data_dir,omitempty"`
}

// DashboardInfo is the full dashboard payload for a session.
type DashboardInfo struct {
	SampleInfo SampleInfo      `json:"sample_info"`
	Metrics    []MetricSummary `json:"metrics"`
}

// Session is the capability set shared by both variants.
type Session interface {
	// ID returns the session identifier used as the registry key.
	ID() string
	// Type returns the session variant.
	Type() Type
	// SampleInfo summarizes the session.
	SampleInfo() (SampleInfo, error)
	// Dashboard returns the dashboard payload.
	Dashboard() (DashboardInfo, error)
	// Close releases the session's resources.
	Close() error
}

// RangeQuerier is implemented by sessions that can answer downsampled
// range queries (the file variant).
type RangeQuerier interface {
	RangeValue(metric string, startTime, endTime, unitTime int64) (*tsfile.RangeResult, error)
}
