package session

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/flare-profiler/flare/internal/flarerr"
	"github.com/flare-profiler/flare/internal/tsfile"
)

// FileSession serves a historical sample directory. Every TSFile in the
// directory becomes one metric, keyed by its base name.
type FileSession struct {
	id      string
	dir     string
	logger  zerolog.Logger
	mu      sync.Mutex
	readers map[string]*tsfile.Reader
}

var _ Session = (*FileSession)(nil)
var _ RangeQuerier = (*FileSession)(nil)

// OpenFile opens every TSFile under dir as a new file session with the
// given session id.
func OpenFile(id, dir string, logger zerolog.Logger) (*FileSession, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, flarerr.Wrap(flarerr.KindNotFound, err, "cannot open sample directory")
	}

	readers := make(map[string]*tsfile.Reader)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tsfile.Ext) {
			continue
		}
		metric := strings.TrimSuffix(entry.Name(), tsfile.Ext)
		r, err := tsfile.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			for _, open := range readers {
				_ = open.Close()
			}
			return nil, err
		}
		readers[metric] = r
	}

	if len(readers) == 0 {
		return nil, flarerr.Newf(flarerr.KindNotFound, "no sample files in directory '%s'", dir)
	}

	s := &FileSession{
		id:      id,
		dir:     dir,
		logger:  logger.With().Str("component", "file_session").Str("session_id", id).Logger(),
		readers: readers,
	}
	s.logger.Debug().Int("metrics", len(readers)).Msg("Opened sample directory")
	return s, nil
}

// ID returns the session identifier.
func (s *FileSession) ID() string {
	return s.id
}

// Type returns TypeFile.
func (s *FileSession) Type() Type {
	return TypeFile
}

// Metrics returns the metric names served by this session, sorted.
func (s *FileSession) Metrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.readers))
	for name := range s.readers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SampleInfo summarizes the directory's files: the earliest begin time, the
// latest end time, the finest native interval, and the total record count.
func (s *FileSession) SampleInfo() (SampleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SampleInfo{
		SessionID:     s.id,
		Type:          TypeFile,
		SampleDataDir: s.dir,
	}

	first := true
	for _, r := range s.readers {
		h := r.HeaderInfo()
		if first || h.BeginTime < info.BeginTime {
			info.BeginTime = h.BeginTime
		}
		if first || h.EndTime() > info.EndTime {
			info.EndTime = h.EndTime()
		}
		if first || int64(h.NativeInterval) < info.SampleIntervalMs {
			info.SampleIntervalMs = int64(h.NativeInterval)
		}
		info.RecordCount += int64(h.Amount)
		first = false
	}

	return info, nil
}

// Dashboard builds the dashboard payload from the cached file headers.
func (s *FileSession) Dashboard() (DashboardInfo, error) {
	info, err := s.SampleInfo()
	if err != nil {
		return DashboardInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metrics := make([]MetricSummary, 0, len(s.readers))
	for name, r := range s.readers {
		h := r.HeaderInfo()
		metrics = append(metrics, MetricSummary{
			Name:           name,
			BeginTime:      h.BeginTime,
			EndTime:        h.EndTime(),
			NativeInterval: int64(h.NativeInterval),
			Amount:         int64(h.Amount),
		})
	}
	sort.Slice(metrics, func(i, j int) bool { return metrics[i].Name < metrics[j].Name })

	return DashboardInfo{SampleInfo: info, Metrics: metrics}, nil
}

// RangeValue answers a downsampled range query against one metric. An empty
// metric name selects the session's only metric when there is exactly one.
func (s *FileSession) RangeValue(metric string, startTime, endTime, unitTime int64) (*tsfile.RangeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if metric == "" && len(s.readers) == 1 {
		for name := range s.readers {
			metric = name
		}
	}

	r, ok := s.readers[metric]
	if !ok {
		return nil, flarerr.Newf(flarerr.KindNotFound, "metric '%s' not found in session '%s'", metric, s.id)
	}
	return r.GetRangeValue(startTime, endTime, unitTime)
}

// Close closes every underlying file.
func (s *FileSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, r := range s.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.readers, name)
	}
	return firstErr
}
