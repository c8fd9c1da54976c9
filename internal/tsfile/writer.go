package tsfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Writer appends samples to a TSFile at its native interval. The record
// count in the header is maintained on Flush and Close, so readers opened
// on a flushed file observe a consistent header.
type Writer struct {
	f      *os.File
	header HeaderInfo
	// pending counts appended records not yet reflected in the on-disk
	// header.
	pending int32
}

// Create creates a TSFile at path, truncating any existing file.
func Create(path string, beginTime int64, nativeInterval int32) (*Writer, error) {
	if nativeInterval <= 0 {
		return nil, fmt.Errorf("native interval must be positive, got %d", nativeInterval)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot create sample file: %w", err)
	}

	w := &Writer{
		f: f,
		header: HeaderInfo{
			BeginTime:      beginTime,
			NativeInterval: nativeInterval,
		},
	}
	if err := w.writeHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeHeader() error {
	var buf [headerSize]byte
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint16(buf[4:6], formatVersion)
	binary.LittleEndian.PutUint16(buf[6:8], 0)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(w.header.BeginTime))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(w.header.NativeInterval))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(w.header.Amount))

	if _, err := w.f.WriteAt(buf[:], 0); err != nil {
		return fmt.Errorf("cannot write sample file header: %w", err)
	}
	return nil
}

// HeaderInfo returns the header as of the last Flush.
func (w *Writer) HeaderInfo() HeaderInfo {
	return w.header
}

// Append appends one record per value, each advancing the implicit
// timestamp by the native interval.
func (w *Writer) Append(values ...float64) error {
	if len(values) == 0 {
		return nil
	}

	buf := make([]byte, len(values)*recordSize)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*recordSize:], math.Float64bits(v))
	}

	offset := headerSize + int64(w.header.Amount+w.pending)*recordSize
	if _, err := w.f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("cannot append records: %w", err)
	}
	w.pending += int32(len(values))
	return nil
}

// Flush publishes pending records to the on-disk header.
func (w *Writer) Flush() error {
	if w.pending == 0 {
		return nil
	}
	w.header.Amount += w.pending
	w.pending = 0
	return w.writeHeader()
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}
