package tsfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-profiler/flare/internal/flarerr"
)

// writeFixture creates a TSFile with amount records whose value at index i
// is value(i).
func writeFixture(t *testing.T, beginTime int64, native int32, amount int, value func(i int) float64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "cpu_time"+Ext)
	w, err := Create(path, beginTime, native)
	require.NoError(t, err)

	for i := 0; i < amount; i++ {
		require.NoError(t, w.Append(value(i)))
	}
	require.NoError(t, w.Close())
	return path
}

func TestOpen(t *testing.T) {
	t.Run("missing file is not found", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"+Ext))
		require.Error(t, err)
		assert.Equal(t, flarerr.KindNotFound, flarerr.KindOf(err))
	})

	t.Run("truncated header is not found", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "short"+Ext)
		require.NoError(t, os.WriteFile(path, []byte("FTS1"), 0o644))

		_, err := Open(path)
		require.Error(t, err)
		assert.Equal(t, flarerr.KindNotFound, flarerr.KindOf(err))
	})

	t.Run("bad magic is not found", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "junk"+Ext)
		require.NoError(t, os.WriteFile(path, make([]byte, 64), 0o644))

		_, err := Open(path)
		require.Error(t, err)
		assert.Equal(t, flarerr.KindNotFound, flarerr.KindOf(err))
	})

	t.Run("header is cached from the writer's flush", func(t *testing.T) {
		path := writeFixture(t, 1000, 100, 500, func(i int) float64 { return float64(i) })

		r, err := Open(path)
		require.NoError(t, err)
		defer func() { _ = r.Close() }()

		h := r.HeaderInfo()
		assert.Equal(t, int64(1000), h.BeginTime)
		assert.Equal(t, int32(100), h.NativeInterval)
		assert.Equal(t, int32(500), h.Amount)
		assert.Equal(t, int64(1000+500*100), h.EndTime())
	})
}

func TestGetRangeValue(t *testing.T) {
	// Header {begin_time: 1000, amount: 500, native_interval: 100}, values
	// all 1.0 so means are easy to assert.
	path := writeFixture(t, 1000, 100, 500, func(i int) float64 { return 1.0 })
	r, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	t.Run("fifty buckets of ten records each", func(t *testing.T) {
		res, err := r.GetRangeValue(1000, 51000, 1000)
		require.NoError(t, err)

		assert.Equal(t, int32(50), res.Steps)
		assert.Equal(t, int64(1000), res.UnitTime)
		assert.Equal(t, int64(1000), res.BeginTime)
		assert.Equal(t, int64(51000), res.EndTime)
		require.Len(t, res.Values, 50)
		for k, v := range res.Values {
			assert.InDelta(t, 1.0, v, 1e-9, "bucket %d", k)
		}
	})

	t.Run("end time rounds outward to a whole bucket", func(t *testing.T) {
		res, err := r.GetRangeValue(1000, 2500, 1000)
		require.NoError(t, err)

		assert.Equal(t, int32(2), res.Steps)
		assert.Equal(t, int64(3000), res.EndTime)
		assert.Equal(t, res.EndTime-res.BeginTime, int64(res.Steps)*res.UnitTime)
	})

	t.Run("unit below native interval is clamped", func(t *testing.T) {
		fine, err := r.GetRangeValue(1000, 2000, 10)
		require.NoError(t, err)
		native, err := r.GetRangeValue(1000, 2000, 100)
		require.NoError(t, err)

		assert.Equal(t, native, fine)
		assert.Equal(t, int64(100), fine.UnitTime)
	})

	t.Run("full range at native interval covers every record", func(t *testing.T) {
		h := r.HeaderInfo()
		res, err := r.GetRangeValue(h.BeginTime, h.EndTime(), int64(h.NativeInterval))
		require.NoError(t, err)
		assert.Equal(t, h.Amount, res.Steps)
	})

	t.Run("buckets past the last record are zero-filled", func(t *testing.T) {
		res, err := r.GetRangeValue(50000, 53000, 1000)
		require.NoError(t, err)

		require.Len(t, res.Values, 3)
		assert.InDelta(t, 1.0, res.Values[0], 1e-9) // records 490..499
		assert.Zero(t, res.Values[1])
		assert.Zero(t, res.Values[2])
	})

	t.Run("start at or past end is invalid", func(t *testing.T) {
		_, err := r.GetRangeValue(2000, 2000, 100)
		require.Error(t, err)
		assert.Equal(t, flarerr.KindInvalidInput, flarerr.KindOf(err))

		_, err = r.GetRangeValue(3000, 2000, 100)
		require.Error(t, err)
		assert.Equal(t, flarerr.KindInvalidInput, flarerr.KindOf(err))
	})

	t.Run("start before file begin is invalid", func(t *testing.T) {
		_, err := r.GetRangeValue(500, 2000, 100)
		require.Error(t, err)
		assert.Equal(t, flarerr.KindInvalidInput, flarerr.KindOf(err))
	})
}

func TestGetRangeValue_Means(t *testing.T) {
	// Values 0..99 at 100ms; bucket means are means of consecutive runs.
	path := writeFixture(t, 0, 100, 100, func(i int) float64 { return float64(i) })
	r, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	res, err := r.GetRangeValue(0, 10000, 1000)
	require.NoError(t, err)

	require.Equal(t, int32(10), res.Steps)
	for k := 0; k < 10; k++ {
		// Bucket k covers records 10k..10k+9, mean 10k+4.5.
		assert.InDelta(t, float64(10*k)+4.5, res.Values[k], 1e-9, "bucket %d", k)
	}
}

func TestWriter(t *testing.T) {
	t.Run("flush publishes the record count", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "w"+Ext)
		w, err := Create(path, 0, 50)
		require.NoError(t, err)

		require.NoError(t, w.Append(1, 2, 3))
		assert.Equal(t, int32(0), w.HeaderInfo().Amount)

		require.NoError(t, w.Flush())
		assert.Equal(t, int32(3), w.HeaderInfo().Amount)

		// A reader opened mid-write sees the flushed view.
		r, err := Open(path)
		require.NoError(t, err)
		defer func() { _ = r.Close() }()
		assert.Equal(t, int32(3), r.HeaderInfo().Amount)

		require.NoError(t, w.Close())
	})

	t.Run("zero native interval is rejected", func(t *testing.T) {
		_, err := Create(filepath.Join(t.TempDir(), "bad"+Ext), 0, 0)
		assert.Error(t, err)
	})
}
