package tsfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/flare-profiler/flare/internal/flarerr"
)

// maxBucketRecords bounds how many records a single bucket read pulls into
// memory at once. Buckets wider than this are scanned in chunks.
const maxBucketRecords = 4096

// Reader reads a TSFile. The header is read once at open time and cached;
// range queries address records by byte offset and never load the whole
// file.
type Reader struct {
	f      *os.File
	path   string
	header HeaderInfo
}

// Open opens a TSFile and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, flarerr.Wrap(flarerr.KindNotFound, err, "cannot open sample file")
	}

	header, err := readHeader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Reader{f: f, path: path, header: header}, nil
}

func readHeader(f *os.File) (HeaderInfo, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(f, buf[:]); err != nil {
		return HeaderInfo{}, flarerr.Wrap(flarerr.KindNotFound, err, "cannot read sample file header")
	}
	if string(buf[0:4]) != magic {
		return HeaderInfo{}, flarerr.New(flarerr.KindNotFound, "not a TSFile: bad magic")
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != formatVersion {
		return HeaderInfo{}, flarerr.Newf(flarerr.KindNotFound, "unsupported TSFile version %d", v)
	}

	header := HeaderInfo{
		BeginTime:      int64(binary.LittleEndian.Uint64(buf[8:16])),
		NativeInterval: int32(binary.LittleEndian.Uint32(buf[16:20])),
		Amount:         int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
	if header.NativeInterval <= 0 {
		return HeaderInfo{}, flarerr.Newf(flarerr.KindNotFound, "corrupt TSFile header: native interval %d", header.NativeInterval)
	}
	return header, nil
}

// Path returns the file path this reader was opened with.
func (r *Reader) Path() string {
	return r.path
}

// HeaderInfo returns the cached file header.
func (r *Reader) HeaderInfo() HeaderInfo {
	return r.header
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

// GetRangeValue aggregates records into buckets of width unitTime over
// [startTime, endTime). Each bucket holds the arithmetic mean of the native
// records whose timestamp falls inside it; buckets containing no records
// are zero-filled. unitTime is clamped to at least the native interval, and
// the result end time rounds outward to a whole number of buckets.
func (r *Reader) GetRangeValue(startTime, endTime, unitTime int64) (*RangeResult, error) {
	h := r.header
	if startTime >= endTime {
		return nil, flarerr.Newf(flarerr.KindInvalidInput,
			"invalid range: start_time %d >= end_time %d", startTime, endTime)
	}
	if startTime < h.BeginTime {
		return nil, flarerr.Newf(flarerr.KindInvalidInput,
			"invalid range: start_time %d precedes file begin_time %d", startTime, h.BeginTime)
	}

	native := int64(h.NativeInterval)
	if unitTime < native {
		unitTime = native
	}

	steps := (endTime - startTime + unitTime - 1) / unitTime
	values := make([]float64, steps)

	for k := int64(0); k < steps; k++ {
		bucketStart := startTime + k*unitTime
		bucketEnd := bucketStart + unitTime

		// First record with timestamp >= bucketStart, last (exclusive)
		// with timestamp >= bucketEnd.
		first := ceilDiv(bucketStart-h.BeginTime, native)
		last := ceilDiv(bucketEnd-h.BeginTime, native)
		if first < 0 {
			first = 0
		}
		if last > int64(h.Amount) {
			last = int64(h.Amount)
		}
		if first >= last {
			continue // empty bucket, zero-filled
		}

		mean, err := r.meanOf(first, last)
		if err != nil {
			return nil, err
		}
		values[k] = mean
	}

	return &RangeResult{
		BeginTime: startTime,
		EndTime:   startTime + steps*unitTime,
		UnitTime:  unitTime,
		Steps:     int32(steps),
		Values:    values,
	}, nil
}

// meanOf averages records [first, last). The caller guarantees first < last
// and both lie within the file.
func (r *Reader) meanOf(first, last int64) (float64, error) {
	sum := 0.0
	count := last - first

	buf := make([]byte, min64(count, maxBucketRecords)*recordSize)
	for idx := first; idx < last; {
		n := min64(last-idx, maxBucketRecords)
		chunk := buf[:n*recordSize]
		if _, err := r.f.ReadAt(chunk, headerSize+idx*recordSize); err != nil {
			return 0, flarerr.Wrap(flarerr.KindInternal, err,
				fmt.Sprintf("cannot read records %d..%d", idx, idx+n))
		}
		for i := int64(0); i < n; i++ {
			bits := binary.LittleEndian.Uint64(chunk[i*recordSize:])
			sum += math.Float64frombits(bits)
		}
		idx += n
	}

	return sum / float64(count), nil
}

func ceilDiv(a, b int64) int64 {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
