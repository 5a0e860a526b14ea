// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"math"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/imu"
)

type mockSource struct {
	start time.Time
	now   func() time.Time
}

// NewMockSource creates a source that generates smoothly changing
// motion: a slow roll and pitch sway while turning at 30°/s.
func NewMockSource() Source {
	return &mockSource{start: time.Now(), now: time.Now}
}

func (m *mockSource) elapsed() float64 {
	return m.now().Sub(m.start).Seconds()
}

// angles returns roll, pitch, yaw in degrees at time t.
func mockAngles(t float64) (roll, pitch, yaw float64) {
	return 20 * math.Sin(t), 15 * math.Cos(t*0.7), math.Mod(t*30, 360)
}

func (m *mockSource) Accelerometer() ([3]float64, error) {
	roll, pitch, _ := mockAngles(m.elapsed())
	const rad = math.Pi / 180
	sr, cr := math.Sincos(roll * rad)
	sp, cp := math.Sincos(pitch * rad)
	g := imu.StandardGravity
	return [3]float64{-g * sp, g * sr * cp, g * cr * cp}, nil
}

func (m *mockSource) Gyroscope() ([3]float64, error) {
	t := m.elapsed()
	return [3]float64{
		-15 * 0.7 * math.Sin(t*0.7),
		20 * math.Cos(t),
		30,
	}, nil
}

func (m *mockSource) Orientation() ([3]float64, error) {
	roll, pitch, yaw := mockAngles(m.elapsed())
	return [3]float64{yaw, pitch, roll}, nil
}
