// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"fmt"
	"math"
	"strings"
)

// WrapPolicy selects how an angle delta that crosses ±180° is corrected.
type WrapPolicy int

const (
	// WrapLegacy subtracts the delta from 360 when it exceeds 180. The
	// threshold is compared against a radian delta, so it only fires for
	// implausibly large jumps, and only in the positive direction.
	WrapLegacy WrapPolicy = iota
	// WrapBidirectional maps the delta into [-180°, 180°) after converting
	// it to degrees, then converts back to radians.
	WrapBidirectional
)

func (w WrapPolicy) String() string {
	switch w {
	case WrapLegacy:
		return "legacy"
	case WrapBidirectional:
		return "bidirectional"
	default:
		return "unknown"
	}
}

// ParseWrapPolicy accepts "legacy" or "bidirectional".
func ParseWrapPolicy(s string) (WrapPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy", "":
		return WrapLegacy, nil
	case "bidirectional":
		return WrapBidirectional, nil
	default:
		return WrapLegacy, fmt.Errorf("unknown angle wrap policy %q (want legacy or bidirectional)", s)
	}
}

func (w WrapPolicy) apply(delta float64) float64 {
	switch w {
	case WrapBidirectional:
		deg := delta * 180.0 / math.Pi
		deg = math.Mod(deg+180, 360)
		if deg < 0 {
			deg += 360
		}
		return (deg - 180) * math.Pi / 180.0
	default:
		if delta > 180 {
			delta = 360 - delta
		}
		return delta
	}
}

// AngularRate returns (cur-prev)/dt in rad/s for one axis.
// dt is in seconds and must be positive.
func AngularRate(prev, cur, dt float64, wrap WrapPolicy) (float64, error) {
	if dt <= 0 || !finite(dt) {
		return 0, fmt.Errorf("angular rate with dt=%v: %w", dt, ErrNumeric)
	}
	rate := wrap.apply(cur-prev) / dt
	if !finite(rate) {
		return 0, fmt.Errorf("angular rate (prev=%v cur=%v): %w", prev, cur, ErrNumeric)
	}
	return rate, nil
}

// AngularVelocity applies AngularRate to roll, pitch and yaw.
func AngularVelocity(prev, cur [3]float64, dt float64, wrap WrapPolicy) ([3]float64, error) {
	var out [3]float64
	for i := range cur {
		r, err := AngularRate(prev[i], cur[i], dt, wrap)
		if err != nil {
			return [3]float64{}, err
		}
		out[i] = r
	}
	return out, nil
}
