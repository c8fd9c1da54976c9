package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/flare-profiler/flare/internal/agentlink"
	"github.com/flare-profiler/flare/internal/tsfile"
)

// flushEvery is how many persisted records may accumulate per metric before
// the TSFile header is flushed.
const flushEvery = 50

// liveMetric is the aggregated state of one sampled series on a live
// session, updated incrementally as the agent pushes events.
type liveMetric struct {
	beginTime int64
	endTime   int64
	count     int64
	lastValue float64
	writer    *tsfile.Writer // nil when persistence failed for this metric
	unflushed int
}

// LiveSession is bound to a remote agent link. Agent events update the
// session's aggregated state; dashboard and sample-info reads serve that
// state without re-contacting the agent. Events are also persisted as
// TSFiles under the history root, so a live run becomes a replayable
// historical sample.
type LiveSession struct {
	id         string
	link       *agentlink.Client
	sampleDir  string
	intervalMs int64
	logger     zerolog.Logger

	mu        sync.Mutex
	beginTime int64
	endTime   int64
	count     int64
	metrics   map[string]*liveMetric
}

var _ Session = (*LiveSession)(nil)

// NewLive creates a live session over an established agent link and
// subscribes to its event stream before returning. On subscription failure
// the session is unusable and the caller keeps ownership of the link.
func NewLive(id string, link *agentlink.Client, historyDir string, intervalMs int64, logger zerolog.Logger) (*LiveSession, error) {
	sampleDir := filepath.Join(historyDir, sampleDirName(link.Addr()))
	if err := os.MkdirAll(sampleDir, 0o755); err != nil {
		logger.Warn().Err(err).Str("dir", sampleDir).Msg("Cannot create sample directory, live session will not be persisted")
		sampleDir = ""
	}

	s := &LiveSession{
		id:         id,
		link:       link,
		sampleDir:  sampleDir,
		intervalMs: intervalMs,
		logger:     logger.With().Str("component", "live_session").Str("session_id", id).Logger(),
		metrics:    make(map[string]*liveMetric),
	}

	if err := link.Subscribe(s.onEvent); err != nil {
		return nil, err
	}
	return s, nil
}

// sampleDirName derives a filesystem-safe directory name from the agent
// address and the connect time.
func sampleDirName(agentAddr string) string {
	addr := strings.NewReplacer(":", "_", "/", "_").Replace(agentAddr)
	return fmt.Sprintf("%s-%d", addr, time.Now().UnixMilli())
}

// ID returns the session identifier.
func (s *LiveSession) ID() string {
	return s.id
}

// Type returns TypeLive.
func (s *LiveSession) Type() Type {
	return TypeLive
}

// SampleDir returns the directory live samples are persisted under, or ""
// when persistence is disabled.
func (s *LiveSession) SampleDir() string {
	return s.sampleDir
}

// onEvent folds one agent event into the aggregated state and persists it.
func (s *LiveSession) onEvent(ev agentlink.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 || ev.Time < s.beginTime {
		s.beginTime = ev.Time
	}
	if ev.Time > s.endTime {
		s.endTime = ev.Time
	}
	s.count++

	m, ok := s.metrics[ev.Metric]
	if !ok {
		m = &liveMetric{beginTime: ev.Time}
		if s.sampleDir != "" {
			path := filepath.Join(s.sampleDir, ev.Metric+tsfile.Ext)
			w, err := tsfile.Create(path, ev.Time, int32(s.intervalMs))
			if err != nil {
				s.logger.Warn().Err(err).Str("metric", ev.Metric).Msg("Cannot persist metric")
			} else {
				m.writer = w
			}
		}
		s.metrics[ev.Metric] = m
	}

	m.endTime = ev.Time
	m.count++
	m.lastValue = ev.Value

	if m.writer != nil {
		if err := m.writer.Append(ev.Value); err != nil {
			s.logger.Warn().Err(err).Str("metric", ev.Metric).Msg("Dropping metric persistence after write failure")
			_ = m.writer.Close()
			m.writer = nil
			return
		}
		m.unflushed++
		if m.unflushed >= flushEvery {
			if err := m.writer.Flush(); err != nil {
				s.logger.Warn().Err(err).Str("metric", ev.Metric).Msg("Cannot flush metric file")
			}
			m.unflushed = 0
		}
	}
}

// SampleInfo reads the aggregated state.
func (s *LiveSession) SampleInfo() (SampleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SampleInfo{
		SessionID:        s.id,
		Type:             TypeLive,
		BeginTime:        s.beginTime,
		EndTime:          s.endTime,
		SampleIntervalMs: s.intervalMs,
		RecordCount:      s.count,
		AgentAddr:        s.link.Addr(),
		SampleDataDir:    s.sampleDir,
	}, nil
}

// Dashboard reads the aggregated state.
func (s *LiveSession) Dashboard() (DashboardInfo, error) {
	info, err := s.SampleInfo()
	if err != nil {
		return DashboardInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metrics := make([]MetricSummary, 0, len(s.metrics))
	for name, m := range s.metrics {
		metrics = append(metrics, MetricSummary{
			Name:           name,
			BeginTime:      m.beginTime,
			EndTime:        m.endTime,
			NativeInterval: s.intervalMs,
			Amount:         m.count,
			LastValue:      m.lastValue,
		})
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })

	return DashboardInfo{SampleInfo: info, Metrics: metrics}, nil
}

// Close drops the agent link and finalizes the persisted sample files.
func (s *LiveSession) Close() error {
	err := s.link.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, m := range s.metrics {
		if m.writer == nil {
			continue
		}
		if cerr := m.writer.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Str("metric", name).Msg("Cannot finalize metric file")
		}
		m.writer = nil
	}
	return err
}
