// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import (
	"math"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/orientation"
)

// Vector3 is a 3-axis value.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// VectorFrom builds a Vector3 from an array.
func VectorFrom(v [3]float64) Vector3 {
	return Vector3{X: v[0], Y: v[1], Z: v[2]}
}

// Finite reports whether every value is a usable number.
func (v Vector3) Finite() bool {
	for _, c := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Sample is one fused orientation+motion message, shaped like
// sensor_msgs/Imu.
type Sample struct {
	Header             header.Header          `json:"header"`
	Orientation        orientation.Quaternion `json:"orientation"`
	AngularVelocity    Vector3                `json:"angular_velocity"`    // rad/s
	LinearAcceleration Vector3                `json:"linear_acceleration"` // m/s²
}

// SetHeader stamps the sample before it is handed to the transport.
func (s *Sample) SetHeader(h header.Header) {
	s.Header = h
}

// Reading is one delivery from a platform sensor stream.
type Reading struct {
	Values [3]float64
	Time   time.Time
}
