// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/metrics"
)

// ErrTransport is wrapped by every failed handoff to the transport.
var ErrTransport = errors.New("transport error")

// DefaultMaxFrequency is the publish rate cap in Hz.
const DefaultMaxFrequency = 100.0

// Message is anything the scheduler can stamp before publishing.
type Message interface {
	SetHeader(h header.Header)
}

// Transport hands a finished message to the bus.
type Transport interface {
	Publish(topic string, payload any) error
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Topic string
	// MaxFrequency caps the publish rate in Hz. 0 disables throttling.
	MaxFrequency float64
	FrameID      *header.FrameID
}

// Scheduler enforces the minimum interval between publishes, assigns
// sequence numbers and timestamps, and forwards messages to a Transport.
// One Scheduler serves one topic.
type Scheduler struct {
	mu          sync.Mutex
	topic       string
	minInterval time.Duration
	frameID     *header.FrameID
	transport   Transport

	seq  uint64
	prev time.Time

	now func() time.Time
}

// NewScheduler creates a Scheduler. The previous publish time starts at
// construction, so a publish right after start is throttled too.
func NewScheduler(cfg SchedulerConfig, t Transport) *Scheduler {
	frameID := cfg.FrameID
	if frameID == nil {
		frameID = header.NewFrameID("")
	}
	s := &Scheduler{
		topic:     cfg.Topic,
		frameID:   frameID,
		transport: t,
		seq:       1,
		now:       time.Now,
	}
	if cfg.MaxFrequency > 0 {
		s.minInterval = time.Duration(float64(time.Second) / cfg.MaxFrequency)
	}
	s.prev = s.now()
	return s
}

// Topic returns the topic this scheduler publishes to.
func (s *Scheduler) Topic() string {
	return s.topic
}

// MinInterval returns the enforced spacing between publishes.
func (s *Scheduler) MinInterval() time.Duration {
	return s.minInterval
}

// LastPublish returns the time of the previous handoff.
func (s *Scheduler) LastPublish() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

// NextSeq returns the sequence number the next successful publish gets.
func (s *Scheduler) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Publish throttles, stamps msg and hands it to the transport.
// It blocks for at most the minimum interval; cancelling ctx aborts the
// wait and returns ctx.Err(). The sequence number is only consumed when
// the transport accepts the message.
func (s *Scheduler) Publish(ctx context.Context, msg Message) (header.Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.minInterval > 0 {
		if wait := s.minInterval - now.Sub(s.prev); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return header.Header{}, err
			}
			metrics.ThrottleWait.WithLabelValues(s.topic).Observe(wait.Seconds())
			now = s.now()
		}
	}

	h := header.Header{
		Seq:     s.seq,
		Stamp:   now,
		FrameID: s.frameID.Get(),
	}
	msg.SetHeader(h)
	s.prev = now

	if err := s.transport.Publish(s.topic, msg); err != nil {
		metrics.PublishErrors.WithLabelValues(s.topic).Inc()
		return h, fmt.Errorf("publish %q seq %d: %w: %w", s.topic, h.Seq, ErrTransport, err)
	}

	s.seq++
	metrics.Published.WithLabelValues(s.topic).Inc()
	return h, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
