// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

// GravityAlpha is the low-pass coefficient of GravityFilter.
const GravityAlpha = 0.8

// GravityFilter isolates linear acceleration from a raw accelerometer
// signal with a per-axis exponential low-pass on gravity.
// The estimate persists across calls; the zero value starts from 0.
// Not safe for concurrent use.
type GravityFilter struct {
	gravity [3]float64
}

// Apply feeds one raw sample and returns raw minus the gravity estimate.
func (f *GravityFilter) Apply(raw [3]float64) [3]float64 {
	var linear [3]float64
	for i := range raw {
		f.gravity[i] = GravityAlpha*f.gravity[i] + (1-GravityAlpha)*raw[i]
		linear[i] = raw[i] - f.gravity[i]
	}
	return linear
}

// Gravity returns the current gravity estimate.
func (f *GravityFilter) Gravity() [3]float64 {
	return f.gravity
}

// Reset clears the estimate.
func (f *GravityFilter) Reset() {
	f.gravity = [3]float64{}
}
