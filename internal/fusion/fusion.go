// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fusion reconciles three independent sensor streams
// (accelerometer, gyroscope, orientation) into one IMU sample per
// complete set of fresh readings.
//
// Producers call OnAccelerometer, OnGyroscope and OnOrientation from
// any goroutine. Run is the single consumer: it waits until all three
// streams reported since the last sample, snapshots and clears them in
// one critical section, and hands the fused sample to the publisher.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/imu"
	"github.com/relabs-tech/imu_bridge/internal/metrics"
	"github.com/relabs-tech/imu_bridge/internal/orientation"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// DefaultIdleSleep is how long Run waits when not all streams are ready.
const DefaultIdleSleep = time.Millisecond

// Publisher receives fused samples. *publish.Scheduler implements it.
type Publisher interface {
	Publish(ctx context.Context, msg publish.Message) (header.Header, error)
}

// Config configures a Node.
type Config struct {
	IdleSleep time.Duration
	Wrap      orientation.WrapPolicy
}

// Pending is a copy of the node's unconsumed readings.
type Pending struct {
	LinearAcceleration [3]float64 // m/s², gravity removed
	GyroRates          [3]float64 // roll, pitch, yaw rates, rad/s
	Angles             [3]float64 // roll, pitch, yaw, rad

	AccelerometerReady bool
	GyroscopeReady     bool
	OrientationReady   bool
}

func (p Pending) complete() bool {
	return p.AccelerometerReady && p.GyroscopeReady && p.OrientationReady
}

// Node owns the shared fusion state. All fields below mu are guarded by it.
type Node struct {
	cfg Config
	pub Publisher
	now func() time.Time

	mu          sync.Mutex
	pending     Pending
	gravity     orientation.GravityFilter
	prevAngles  [3]float64
	prevPublish time.Time
}

// New creates a fusion node publishing through pub.
func New(cfg Config, pub Publisher) *Node {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = DefaultIdleSleep
	}
	n := &Node{
		cfg: cfg,
		pub: pub,
		now: time.Now,
	}
	n.prevPublish = n.now()
	return n
}

// remap converts a platform reading in degrees to roll, pitch, yaw in
// radians: roll = v[2], pitch = -v[0], yaw = -v[1].
func remap(v [3]float64) [3]float64 {
	const rad = math.Pi / 180
	return [3]float64{v[2] * rad, -v[0] * rad, -v[1] * rad}
}

// OnAccelerometer removes gravity from the reading and stores the result.
func (n *Node) OnAccelerometer(r imu.Reading) {
	n.mu.Lock()
	n.pending.LinearAcceleration = n.gravity.Apply(r.Values)
	n.pending.AccelerometerReady = true
	n.mu.Unlock()
}

// OnGyroscope stores the remapped angular rates.
func (n *Node) OnGyroscope(r imu.Reading) {
	rates := remap(r.Values)
	n.mu.Lock()
	n.pending.GyroRates = rates
	n.pending.GyroscopeReady = true
	n.mu.Unlock()
}

// OnOrientation stores the remapped absolute angles.
func (n *Node) OnOrientation(r imu.Reading) {
	angles := remap(r.Values)
	n.mu.Lock()
	n.pending.Angles = angles
	n.pending.OrientationReady = true
	n.mu.Unlock()
}

// Pending returns a copy of the current unconsumed state.
func (n *Node) Pending() Pending {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending
}

type snapshot struct {
	linear      [3]float64
	angles      [3]float64
	prevAngles  [3]float64
	prevPublish time.Time
}

// take returns the readings and clears the ready flags if all three
// streams are ready. Check, copy and clear happen under one lock so a
// producer cannot overwrite a reading in between.
func (n *Node) take() (snapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.pending.complete() {
		return snapshot{}, false
	}
	snap := snapshot{
		linear:      n.pending.LinearAcceleration,
		angles:      n.pending.Angles,
		prevAngles:  n.prevAngles,
		prevPublish: n.prevPublish,
	}
	n.pending.AccelerometerReady = false
	n.pending.GyroscopeReady = false
	n.pending.OrientationReady = false
	return snap, true
}

func (n *Node) build(snap snapshot, now time.Time) (imu.Sample, error) {
	dt := now.Sub(snap.prevPublish).Seconds()
	rates, err := orientation.AngularVelocity(snap.prevAngles, snap.angles, dt, n.cfg.Wrap)
	if err != nil {
		return imu.Sample{}, err
	}

	roll, pitch, yaw := snap.angles[0], snap.angles[1], snap.angles[2]
	q, err := orientation.FromEuler(yaw, roll, pitch)
	if err != nil {
		return imu.Sample{}, err
	}

	return imu.Sample{
		Orientation:        q,
		AngularVelocity:    imu.VectorFrom(rates),
		LinearAcceleration: imu.VectorFrom(snap.linear),
	}, nil
}

// TryFuse runs one fusion cycle. It reports whether a complete set of
// readings was consumed. A numeric error aborts the cycle without
// publishing; the next complete set is tried normally.
func (n *Node) TryFuse(ctx context.Context) (bool, error) {
	snap, ok := n.take()
	if !ok {
		return false, nil
	}

	sample, err := n.build(snap, n.now())
	if err != nil {
		metrics.FusionErrors.Inc()
		return true, fmt.Errorf("fuse sample: %w", err)
	}

	h, err := n.pub.Publish(ctx, &sample)
	if err != nil && !errors.Is(err, publish.ErrTransport) {
		return true, err
	}

	n.mu.Lock()
	n.prevAngles = snap.angles
	n.prevPublish = h.Stamp
	n.mu.Unlock()

	return true, err
}

// Run is the consumer loop. It returns ctx.Err() once ctx is done.
func (n *Node) Run(ctx context.Context) error {
	idle := time.NewTimer(n.cfg.IdleSleep)
	defer idle.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fused, err := n.TryFuse(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).Warn("fusion: cycle skipped")
			continue
		}
		if fused {
			continue
		}

		idle.Reset(n.cfg.IdleSleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
		}
	}
}
