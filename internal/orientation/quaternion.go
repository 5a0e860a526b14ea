// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"
)

// Quaternion is a rotation in (w, x, y, z) form.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Identity is the zero rotation.
var Identity = Quaternion{W: 1}

// Norm returns the sum of the squared components.
func (q Quaternion) Norm() float64 {
	return q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
}

// Normalize rescales q to unit length. A zero or non-finite norm is an
// error rather than a NaN quaternion.
func (q Quaternion) Normalize() (Quaternion, error) {
	norm := q.Norm()
	if norm == 0 || !finite(norm) {
		return Quaternion{}, fmt.Errorf("normalize quaternion (norm=%v): %w", norm, ErrNumeric)
	}
	n := math.Sqrt(1 / norm)
	return Quaternion{W: q.W * n, X: q.X * n, Y: q.Y * n, Z: q.Z * n}, nil
}

// FromEuler builds a unit quaternion from yaw, roll and pitch in radians
// using the half-angle formula.
func FromEuler(yaw, roll, pitch float64) (Quaternion, error) {
	sinPitch, cosPitch := math.Sincos(pitch * 0.5)
	sinRoll, cosRoll := math.Sincos(roll * 0.5)
	sinYaw, cosYaw := math.Sincos(yaw * 0.5)

	cosRollCosPitch := cosRoll * cosPitch
	sinRollSinPitch := sinRoll * sinPitch
	cosRollSinPitch := cosRoll * sinPitch
	sinRollCosPitch := sinRoll * cosPitch

	q := Quaternion{
		W: cosRollCosPitch*cosYaw - sinRollSinPitch*sinYaw,
		X: cosRollCosPitch*sinYaw + sinRollSinPitch*cosYaw,
		Y: sinRollCosPitch*cosYaw + cosRollSinPitch*sinYaw,
		Z: cosRollSinPitch*cosYaw - sinRollCosPitch*sinYaw,
	}

	out, err := q.Normalize()
	if err != nil {
		return Quaternion{}, fmt.Errorf("from euler (yaw=%v roll=%v pitch=%v): %w", yaw, roll, pitch, err)
	}
	return out, nil
}
