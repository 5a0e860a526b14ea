// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors drives the three platform sensor streams. Each stream
// runs on its own goroutine and ticker, so readings reach the listener
// asynchronously and at independent rates.
package sensors

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

// Listener receives platform readings. *fusion.Node implements it.
//
// Accelerometer values are m/s² (x, y, z), gyroscope values °/s
// (x, y, z) and orientation values degrees (azimuth, pitch, roll).
type Listener interface {
	OnAccelerometer(r imu.Reading)
	OnGyroscope(r imu.Reading)
	OnOrientation(r imu.Reading)
}

// Source reads the current value of each stream.
type Source interface {
	Accelerometer() ([3]float64, error)
	Gyroscope() ([3]float64, error)
	Orientation() ([3]float64, error)
}

// Intervals is the sampling period of each stream.
type Intervals struct {
	Accelerometer time.Duration
	Gyroscope     time.Duration
	Orientation   time.Duration
}

// DefaultIntervals samples every stream at 200 Hz.
func DefaultIntervals() Intervals {
	return Intervals{
		Accelerometer: 5 * time.Millisecond,
		Gyroscope:     5 * time.Millisecond,
		Orientation:   5 * time.Millisecond,
	}
}

// Run samples src and delivers readings to l until ctx is done.
// It returns ctx.Err().
func Run(ctx context.Context, src Source, iv Intervals, l Listener) error {
	def := DefaultIntervals()
	if iv.Accelerometer <= 0 {
		iv.Accelerometer = def.Accelerometer
	}
	if iv.Gyroscope <= 0 {
		iv.Gyroscope = def.Gyroscope
	}
	if iv.Orientation <= 0 {
		iv.Orientation = def.Orientation
	}

	var wg sync.WaitGroup
	streams := []struct {
		name    string
		every   time.Duration
		read    func() ([3]float64, error)
		deliver func(imu.Reading)
	}{
		{"accelerometer", iv.Accelerometer, src.Accelerometer, l.OnAccelerometer},
		{"gyroscope", iv.Gyroscope, src.Gyroscope, l.OnGyroscope},
		{"orientation", iv.Orientation, src.Orientation, l.OnOrientation},
	}
	for _, s := range streams {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream(ctx, s.name, s.every, s.read, s.deliver)
		}()
	}
	log.Printf("sensors: streaming accel=%s gyro=%s orientation=%s", iv.Accelerometer, iv.Gyroscope, iv.Orientation)

	wg.Wait()
	return ctx.Err()
}

func stream(ctx context.Context, name string, every time.Duration, read func() ([3]float64, error), deliver func(imu.Reading)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	failing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		values, err := read()
		if err != nil {
			// Log the first failure of a run only.
			if !failing {
				log.WithError(err).Warnf("sensors: %s read failed", name)
				failing = true
			}
			continue
		}
		if failing {
			log.Printf("sensors: %s recovered", name)
			failing = false
		}
		deliver(imu.Reading{Values: values, Time: time.Now()})
	}
}
