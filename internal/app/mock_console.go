// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/relabs-tech/imu_bridge/internal/gps"
	"github.com/relabs-tech/imu_bridge/internal/imu"
)

// consoleTransport prints messages instead of publishing them, for
// running a producer without a broker.
type consoleTransport struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsoleTransport(w io.Writer) *consoleTransport {
	return &consoleTransport{w: w}
}

// Publish implements publish.Transport.
func (c *consoleTransport) Publish(topic string, payload any) error {
	var line string
	switch m := payload.(type) {
	case *imu.Sample:
		line = formatSample(topic, *m)
	case *gps.Fix:
		line = formatFix(topic, *m)
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		line = fmt.Sprintf("[%s] %s", topic, b)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func formatSample(topic string, s imu.Sample) string {
	q, w, a := s.Orientation, s.AngularVelocity, s.LinearAcceleration
	return fmt.Sprintf(
		"[%s] seq=%d frame=%s  q=(%6.3f %6.3f %6.3f %6.3f)  gyro=(%7.3f %7.3f %7.3f) rad/s  acc=(%7.3f %7.3f %7.3f) m/s²",
		topic, s.Header.Seq, s.Header.FrameID,
		q.W, q.X, q.Y, q.Z,
		w.X, w.Y, w.Z,
		a.X, a.Y, a.Z,
	)
}

func formatFix(topic string, f gps.Fix) string {
	return fmt.Sprintf(
		"[%s] seq=%d time=%s date=%s lat=%.6f lon=%.6f alt=%.1fm speed=%.1fkn course=%.1f° sats=%d validity=%s",
		topic, f.Header.Seq, f.Time, f.Date, f.Latitude, f.Longitude, f.Altitude,
		f.SpeedKnots, f.CourseDeg, f.Satellites, f.Validity,
	)
}
