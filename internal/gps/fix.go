// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"bytes"
	"fmt"
	"strings"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/relabs-tech/imu_bridge/internal/header"
)

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
type Fix struct {
	Header header.Header `json:"header"`

	Time       string  `json:"time"`        // e.g. "12:34:56"
	Date       string  `json:"date"`        // e.g. "06/12/25"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	Altitude   float64 `json:"alt"`         // meters above mean sea level, from GGA
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void), etc.
	FixQuality string  `json:"fix_quality"` // GGA fix quality
	Satellites int64   `json:"satellites"`
	HDOP       float64 `json:"hdop"`
}

// SetHeader stamps the fix before publishing.
func (f *Fix) SetHeader(h header.Header) {
	f.Header = h
}

// Valid reports whether the receiver flagged the position as usable.
func (f Fix) Valid() bool {
	return f.Validity == nmea.ValidRMC
}

// maxLine bounds a partial sentence; NMEA allows 82 characters.
const maxLine = 256

// Tracker accumulates NMEA sentences into fixes. GGA refreshes altitude
// and quality; every RMC completes a fix.
type Tracker struct {
	current Fix
	partial []byte
}

// Update applies one NMEA line. It returns a fix when the line was an RMC
// sentence. Lines that are not sentences are ignored.
func (t *Tracker) Update(line string) (Fix, bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Fix{}, false, nil
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		return Fix{}, false, fmt.Errorf("parse %q: %w", line, err)
	}

	switch sentence.DataType() {
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		t.current.Altitude = m.Altitude
		t.current.FixQuality = m.FixQuality
		t.current.Satellites = m.NumSatellites
		t.current.HDOP = m.HDOP
		return Fix{}, false, nil

	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		t.current.Time = m.Time.String()
		t.current.Date = m.Date.String()
		t.current.Latitude = m.Latitude
		t.current.Longitude = m.Longitude
		t.current.SpeedKnots = m.Speed
		t.current.CourseDeg = m.Course
		t.current.Validity = string(m.Validity)
		return t.current, true, nil

	default:
		// GSA, GSV, VTG and friends
		return Fix{}, false, nil
	}
}

// Reset drops a partial sentence left over from a previous connection.
func (t *Tracker) Reset() {
	t.partial = t.partial[:0]
}

// Feed splits a raw serial chunk into lines and applies each complete one.
// Parse errors are returned alongside the fixes so the caller can log
// them; a bad sentence does not stop the rest of the chunk.
func (t *Tracker) Feed(chunk []byte) ([]Fix, []error) {
	t.partial = append(t.partial, chunk...)

	var fixes []Fix
	var errs []error
	for {
		idx := bytes.IndexByte(t.partial, '\n')
		if idx < 0 {
			break
		}
		line := string(t.partial[:idx])
		t.partial = t.partial[idx+1:]

		fix, ok, err := t.Update(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			fixes = append(fixes, fix)
		}
	}

	if len(t.partial) > maxLine {
		t.partial = t.partial[:0]
	}
	t.partial = append([]byte(nil), t.partial...)
	return fixes, errs
}
