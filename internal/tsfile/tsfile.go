// Package tsfile implements the TSFile on-disk time-series sample format
// and its downsampling range-query engine.
//
// A TSFile is an append-only sequence of float64 samples taken at a fixed
// native interval. Record timestamps are implicit: record i was sampled at
// begin_time + i*native_interval. The layout is little-endian:
//
//	offset  size  field
//	0       4     magic "FTS1"
//	4       2     format version (currently 1)
//	6       2     value kind (0 = float64 gauge)
//	8       8     begin_time, unix milliseconds
//	16      4     native_interval, milliseconds
//	20      4     amount, record count
//	24      8     reserved
//	32      8*n   records, one float64 per native interval
package tsfile

// Format constants.
const (
	// Ext is the file extension for TSFiles.
	Ext = ".fts"

	magic         = "FTS1"
	formatVersion = 1

	headerSize = 32
	recordSize = 8
)

// HeaderInfo describes a TSFile. Immutable once the reader has opened the
// file; read once and cached.
type HeaderInfo struct {
	// BeginTime is the timestamp of the first record, unix milliseconds.
	BeginTime int64 `json:"begin_time"`
	// Amount is the number of records in the file.
	Amount int32 `json:"amount"`
	// NativeInterval is the sampling interval, milliseconds.
	NativeInterval int32 `json:"native_interval"`
}

// EndTime returns the timestamp just past the last record.
func (h HeaderInfo) EndTime() int64 {
	return h.BeginTime + int64(h.Amount)*int64(h.NativeInterval)
}

// RangeResult is the outcome of a downsampled range query. Produced fresh
// per query, never cached.
type RangeResult struct {
	// BeginTime is the requested start time.
	BeginTime int64 `json:"begin_time"`
	// EndTime is begin_time + steps*unit_time. It may exceed the requested
	// end time by less than one unit_time (the range rounds outward).
	EndTime int64 `json:"end_time"`
	// UnitTime is the effective bucket width, clamped to at least the
	// file's native interval.
	UnitTime int64 `json:"unit_time"`
	// Steps is the number of buckets.
	Steps int32 `json:"steps"`
	// Values holds one aggregated value per bucket.
	Values []float64 `json:"values"`
}
