// Package profiler implements the session registry and command operations
// behind the flare protocol.
package profiler

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/flare-profiler/flare/internal/agentlink"
	"github.com/flare-profiler/flare/internal/config"
	"github.com/flare-profiler/flare/internal/flarerr"
	"github.com/flare-profiler/flare/internal/session"
	"github.com/flare-profiler/flare/internal/tsfile"
)

// SessionEntry is one row of a list_sessions snapshot.
type SessionEntry struct {
	SessionID string       `json:"session_id"`
	Type      session.Type `json:"type"`
}

// HistoryEntry is one row of a history_samples listing.
type HistoryEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
}

// AttachRequest is a validated attach_jvm request with defaults applied.
// The attach mechanism itself is an external collaborator; the coordinator
// only validates inputs.
type AttachRequest struct {
	TargetPID         int32 `json:"target_pid"`
	SampleIntervalMs  int64 `json:"sample_interval_ms"`
	SampleDurationSec int64 `json:"sample_duration_sec"`
}

// Coordinator owns the session registry and the server liveness flag. The
// registry mutex guards only lookup, insert, and the flag; session-level
// work and network I/O happen outside it, so concurrent operations on
// distinct sessions proceed independently.
type Coordinator struct {
	cfg    config.Config
	logger zerolog.Logger

	mu       sync.Mutex
	sessions map[string]session.Session
	running  bool
}

// New creates a running coordinator with an empty registry.
func New(cfg config.Config, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		logger:   logger.With().Str("component", "coordinator").Logger(),
		sessions: make(map[string]session.Session),
		running:  true,
	}
}

// Running reports the liveness flag.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Shutdown flips the liveness flag. New connections stop being accepted;
// connections already in progress are not interrupted.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.running = false
		c.logger.Info().Msg("Coordinator shutting down, no longer accepting connections")
	}
}

// ListSessions snapshots the registry, ordered by session id.
func (c *Coordinator) ListSessions() []SessionEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]SessionEntry, 0, len(c.sessions))
	for id, s := range c.sessions {
		entries = append(entries, SessionEntry{SessionID: id, Type: s.Type()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SessionID < entries[j].SessionID })
	return entries
}

// HistorySamples lists the entries under the historical-samples root.
func (c *Coordinator) HistorySamples() ([]HistoryEntry, error) {
	dirEntries, err := os.ReadDir(c.cfg.HistoryDir)
	if err != nil {
		return nil, flarerr.Wrap(flarerr.KindNotFound, err, "cannot list history samples")
	}

	entries := make([]HistoryEntry, 0, len(dirEntries))
	for _, e := range dirEntries {
		entries = append(entries, HistoryEntry{
			Path: filepath.Join(c.cfg.HistoryDir, e.Name()),
			Type: "file",
		})
	}
	return entries, nil
}

// OpenSample opens a file session over a historical sample directory and
// registers it under the directory path.
func (c *Coordinator) OpenSample(sampleDataDir string) (session.Session, error) {
	if sampleDataDir == "" {
		return nil, flarerr.MissingOption("sample_data_dir")
	}

	c.logger.Info().Str("sample_data_dir", sampleDataDir).Msg("Opening sample")

	s, err := session.OpenFile(sampleDataDir, sampleDataDir, c.logger)
	if err != nil {
		return nil, err
	}

	c.register(s)
	return s, nil
}

// ConnectAgent dials the agent, subscribes to its event stream, and
// registers the live session under the agent address. Nothing is
// registered when the handshake or subscription fails. The dial happens
// outside the registry lock.
func (c *Coordinator) ConnectAgent(agentAddr string) (session.Session, error) {
	if agentAddr == "" {
		return nil, flarerr.MissingOption("agent_addr")
	}

	c.logger.Info().Str("agent_addr", agentAddr).Msg("Connecting to agent")

	link, err := agentlink.Dial(agentAddr, c.logger)
	if err != nil {
		return nil, err
	}

	s, err := session.NewLive(agentAddr, link, c.cfg.HistoryDir, c.cfg.Attach.SampleIntervalMs, c.logger)
	if err != nil {
		_ = link.Close()
		return nil, err
	}

	c.logger.Info().Str("agent_addr", agentAddr).Msg("Connected to agent")
	c.register(s)
	return s, nil
}

// register inserts a session, closing any session it replaces. There is no
// explicit destroy command in the protocol; replacement is the only way an
// entry leaves the registry.
func (c *Coordinator) register(s session.Session) {
	c.mu.Lock()
	old := c.sessions[s.ID()]
	c.sessions[s.ID()] = s
	c.mu.Unlock()

	if old != nil {
		c.logger.Info().Str("session_id", s.ID()).Msg("Replacing existing session")
		if err := old.Close(); err != nil {
			c.logger.Warn().Err(err).Str("session_id", s.ID()).Msg("Cannot close replaced session")
		}
	}
}

// AttachJVM validates an attach request and applies configured defaults.
// The attach mechanism is an external collaborator and not invoked here.
func (c *Coordinator) AttachJVM(targetPID int32, sampleIntervalMs, sampleDurationSec int64) (AttachRequest, error) {
	if targetPID <= 0 {
		return AttachRequest{}, flarerr.MissingOption("target_pid")
	}
	if sampleIntervalMs <= 0 {
		sampleIntervalMs = c.cfg.Attach.SampleIntervalMs
	}
	if sampleDurationSec < 0 {
		sampleDurationSec = c.cfg.Attach.SampleDurationSec
	}

	exists, err := process.PidExists(targetPID)
	if err != nil {
		return AttachRequest{}, flarerr.Wrap(flarerr.KindInternal, err, "cannot inspect target process")
	}
	if !exists {
		return AttachRequest{}, flarerr.Newf(flarerr.KindInvalidInput, "no such process: %d", targetPID)
	}

	return AttachRequest{
		TargetPID:         targetPID,
		SampleIntervalMs:  sampleIntervalMs,
		SampleDurationSec: sampleDurationSec,
	}, nil
}

// Get looks up a session. The registry lock is held only for the lookup.
func (c *Coordinator) Get(sessionID string) (session.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.sessions[sessionID]
	if !ok {
		return nil, flarerr.NotFound("sample instance not found")
	}
	return s, nil
}

// Dashboard fetches the dashboard payload for a session.
func (c *Coordinator) Dashboard(sessionID string) (session.DashboardInfo, error) {
	s, err := c.Get(sessionID)
	if err != nil {
		return session.DashboardInfo{}, err
	}
	return s.Dashboard()
}

// SampleInfo fetches the sample summary for a session.
func (c *Coordinator) SampleInfo(sessionID string) (session.SampleInfo, error) {
	s, err := c.Get(sessionID)
	if err != nil {
		return session.SampleInfo{}, err
	}
	return s.SampleInfo()
}

// RangeValue answers a downsampled range query against a file session.
func (c *Coordinator) RangeValue(sessionID, metric string, startTime, endTime, unitTime int64) (*tsfile.RangeResult, error) {
	s, err := c.Get(sessionID)
	if err != nil {
		return nil, err
	}

	q, ok := s.(session.RangeQuerier)
	if !ok {
		return nil, flarerr.Newf(flarerr.KindInvalidInput,
			"session '%s' does not support range queries", sessionID)
	}
	return q.RangeValue(metric, startTime, endTime, unitTime)
}

// CloseAll closes every registered session. Used by tests and by a strict
// process teardown; the protocol itself never calls it.
func (c *Coordinator) CloseAll() {
	c.mu.Lock()
	sessions := make([]session.Session, 0, len(c.sessions))
	for id, s := range c.sessions {
		sessions = append(sessions, s)
		delete(c.sessions, id)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			c.logger.Warn().Err(err).Str("session_id", s.ID()).Msg("Cannot close session")
		}
	}
}
