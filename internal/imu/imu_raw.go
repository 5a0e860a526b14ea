// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// IMURaw is one raw accel+gyro sample in device counts.
type IMURaw struct {
	Source string `json:"source"`

	Ax int16 `json:"ax"` // accel
	Ay int16 `json:"ay"`
	Az int16 `json:"az"`

	Gx int16 `json:"gx"` // gyro
	Gy int16 `json:"gy"`
	Gz int16 `json:"gz"`
}

// StandardGravity in m/s².
const StandardGravity = 9.80665

// accelLSBPerG and gyroLSBPerDPS are indexed by the full-scale range code
// (0-3) shared by the MPU-9250 family.
var (
	accelLSBPerG  = [4]float64{16384, 8192, 4096, 2048}
	gyroLSBPerDPS = [4]float64{131, 65.5, 32.8, 16.4}
)

// Accel converts the accelerometer counts to m/s² for the given range code.
func (r IMURaw) Accel(rangeCode byte) [3]float64 {
	scale := StandardGravity / accelLSBPerG[rangeCode&3]
	return [3]float64{float64(r.Ax) * scale, float64(r.Ay) * scale, float64(r.Az) * scale}
}

// Gyro converts the gyroscope counts to °/s for the given range code.
func (r IMURaw) Gyro(rangeCode byte) [3]float64 {
	scale := 1 / gyroLSBPerDPS[rangeCode&3]
	return [3]float64{float64(r.Gx) * scale, float64(r.Gy) * scale, float64(r.Gz) * scale}
}
