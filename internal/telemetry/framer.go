// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"bytes"
	"fmt"
	"strings"
)

// Framing selects how records are delimited in the byte stream.
type Framing int

const (
	// FramingFixed treats the stream as back-to-back 44-byte records.
	FramingFixed Framing = iota
	// FramingCRLF expects every record to be followed by "\r\n".
	FramingCRLF
	// FramingReport treats every chunk as one device report holding a
	// record at offset 0. Trailing bytes are padding. Used with hidraw,
	// which returns exactly one report per read.
	FramingReport
)

func (f Framing) String() string {
	switch f {
	case FramingFixed:
		return "fixed"
	case FramingCRLF:
		return "crlf"
	case FramingReport:
		return "report"
	default:
		return "unknown"
	}
}

// ParseFraming accepts "fixed", "crlf" or "report".
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "":
		return FramingFixed, nil
	case "crlf":
		return FramingCRLF, nil
	case "report":
		return FramingReport, nil
	default:
		return FramingFixed, fmt.Errorf("unknown framing %q (want fixed, crlf or report)", s)
	}
}

// DefaultFraming is the framing that fits a port transport: one record per
// report on hidraw, a continuous stream of fixed records on serial.
func DefaultFraming(transport string) Framing {
	if transport == TransportHIDRaw {
		return FramingReport
	}
	return FramingFixed
}

// MaxBuffered bounds the bytes a Framer keeps between chunks.
const MaxBuffered = 4096

var crlf = []byte("\r\n")

// Framer reassembles records from arbitrarily split chunks. Bytes that do
// not complete a record are kept for the next Push.
type Framer struct {
	mode    Framing
	buf     []byte
	dropped uint64
}

// NewFramer returns an empty Framer.
func NewFramer(mode Framing) *Framer {
	return &Framer{mode: mode, buf: make([]byte, 0, 2*RecordSize)}
}

// Push appends chunk and returns the complete records found, in order.
// In CRLF mode a segment of the wrong length between terminators is
// returned as is, so the caller reports it as malformed and moves on.
// Returned slices do not alias the framer's buffer.
func (f *Framer) Push(chunk []byte) [][]byte {
	if f.mode == FramingReport {
		return f.splitReport(chunk)
	}
	f.buf = append(f.buf, chunk...)

	var records [][]byte
	switch f.mode {
	case FramingCRLF:
		records = f.splitCRLF()
	default:
		records = f.splitFixed()
	}

	if over := len(f.buf) - MaxBuffered; over > 0 {
		f.dropped += uint64(over)
		f.buf = f.buf[over:]
	}
	f.compact()
	return records
}

// splitReport keeps nothing between chunks. A short report is returned
// whole so it fails decoding.
func (f *Framer) splitReport(chunk []byte) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	if len(chunk) > RecordSize {
		chunk = chunk[:RecordSize]
	}
	return [][]byte{clone(chunk)}
}

func (f *Framer) splitFixed() [][]byte {
	var records [][]byte
	for len(f.buf) >= RecordSize {
		records = append(records, clone(f.buf[:RecordSize]))
		f.buf = f.buf[RecordSize:]
	}
	return records
}

func (f *Framer) splitCRLF() [][]byte {
	var records [][]byte
	for len(f.buf) >= RecordSize+len(crlf) {
		// Aligned record: payload bytes may contain "\r\n" themselves,
		// so trust the length first.
		if bytes.Equal(f.buf[RecordSize:RecordSize+len(crlf)], crlf) {
			records = append(records, clone(f.buf[:RecordSize]))
			f.buf = f.buf[RecordSize+len(crlf):]
			continue
		}

		// Out of sync: resync on the next terminator.
		idx := bytes.Index(f.buf, crlf)
		if idx < 0 {
			break
		}
		if idx > 0 {
			records = append(records, clone(f.buf[:idx]))
		}
		f.buf = f.buf[idx+len(crlf):]
	}
	return records
}

// compact moves the remainder to the front so the buffer does not creep.
func (f *Framer) compact() {
	if cap(f.buf)-len(f.buf) >= RecordSize {
		return
	}
	f.buf = append(make([]byte, 0, len(f.buf)+2*RecordSize), f.buf...)
}

// Reset discards a partial record, typically because the device was
// reopened and its stream starts over. It returns the bytes discarded.
func (f *Framer) Reset() int {
	n := len(f.buf)
	f.buf = f.buf[:0]
	return n
}

// Buffered returns the number of bytes waiting for a complete record.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Dropped returns the bytes discarded because the buffer overflowed.
func (f *Framer) Dropped() uint64 {
	return f.dropped
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
