// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry ingests the binary output of an external fused IMU
// (a BNO055 bridge board on USB serial or HID). The device does its own
// fusion, so each record becomes one sample without reconciliation.
//
// Record layout, 11 IEEE-754 float32 words:
//
//	 0-15  orientation x, y, z, w
//	16-27  linear acceleration x, y, z (m/s²)
//	28-39  angular velocity x, y, z (°/s on the wire)
//	40-43  reserved
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/relabs-tech/imu_bridge/internal/imu"
	"github.com/relabs-tech/imu_bridge/internal/orientation"
)

// RecordSize is the length of one telemetry record in bytes.
const RecordSize = 44

const wordCount = 10 // decoded words; the 11th is reserved

// ErrDecode is wrapped by every malformed record error.
var ErrDecode = errors.New("decode error")

// ParseByteOrder accepts "little" or "big".
func ParseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "little", "":
		return binary.LittleEndian, nil
	case "big":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q (want little or big)", s)
	}
}

// Decode converts one record into a sample with an empty header.
// The orientation is renormalized; angular velocity is converted to rad/s.
func Decode(rec []byte, order binary.ByteOrder) (imu.Sample, error) {
	if len(rec) != RecordSize {
		return imu.Sample{}, fmt.Errorf("record is %d bytes, want %d: %w", len(rec), RecordSize, ErrDecode)
	}

	var w [wordCount]float64
	for i := range w {
		w[i] = float64(math.Float32frombits(order.Uint32(rec[i*4:])))
	}

	// Normalize rejects NaN and Inf components through the norm.
	q, err := orientation.Quaternion{W: w[3], X: w[0], Y: w[1], Z: w[2]}.Normalize()
	if err != nil {
		return imu.Sample{}, fmt.Errorf("orientation: %w: %w", ErrDecode, err)
	}

	const rad = math.Pi / 180
	acc := imu.Vector3{X: w[4], Y: w[5], Z: w[6]}
	if !acc.Finite() {
		return imu.Sample{}, fmt.Errorf("linear acceleration %+v is not finite: %w", acc, ErrDecode)
	}
	gyro := imu.Vector3{X: w[7] * rad, Y: w[8] * rad, Z: w[9] * rad}
	if !gyro.Finite() {
		return imu.Sample{}, fmt.Errorf("angular velocity %+v is not finite: %w", gyro, ErrDecode)
	}

	return imu.Sample{
		Orientation:        q,
		LinearAcceleration: acc,
		AngularVelocity:    gyro,
	}, nil
}
