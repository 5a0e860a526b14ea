// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/metrics"
)

// ErrDeviceConnect is wrapped when the device cannot be opened.
var ErrDeviceConnect = errors.New("device connect error")

// Opener opens the device. It is called again after every failure.
type Opener func() (io.ReadCloser, error)

// Sink receives every chunk read from the device. The chunk is only valid
// for the duration of the call.
type Sink func(ctx context.Context, chunk []byte)

// ReaderConfig controls chunk size and reconnect backoff.
type ReaderConfig struct {
	ReadSize      int           // bytes per read (default 64)
	RetryDelay    time.Duration // first retry delay (default 500ms)
	MaxRetryDelay time.Duration // backoff cap (default 30s)
}

// DefaultReaderConfig matches the bridge board: 64-byte HID reports,
// polled again every 500ms while unplugged.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		ReadSize:      64,
		RetryDelay:    500 * time.Millisecond,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Reader keeps the device open and streams its bytes into a Sink.
type Reader struct {
	cfg       ReaderConfig
	open      Opener
	sink      Sink
	onConnect func()
}

// NewReader creates a Reader. Zero config fields take their defaults.
func NewReader(cfg ReaderConfig, open Opener, sink Sink) *Reader {
	def := DefaultReaderConfig()
	if cfg.ReadSize <= 0 {
		cfg.ReadSize = def.ReadSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = max(def.MaxRetryDelay, cfg.RetryDelay)
	}
	return &Reader{cfg: cfg, open: open, sink: sink}
}

// OnConnect registers fn to run after every successful open, before the
// first chunk of the new connection reaches the sink.
func (r *Reader) OnConnect(fn func()) {
	r.onConnect = fn
}

// Run opens the device, reads until it fails, and starts over. Failed
// opens back off exponentially. It only returns once ctx is done.
func (r *Reader) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		port, err := r.open()
		if err != nil {
			attempt++
			metrics.DeviceReconnects.Inc()
			delay := backoff(attempt, r.cfg)
			log.WithError(fmt.Errorf("%w: %w", ErrDeviceConnect, err)).
				WithField("attempt", attempt).
				Warnf("telemetry: device unavailable, retrying in %s", delay)
			if err := wait(ctx, delay); err != nil {
				return err
			}
			continue
		}

		attempt = 0
		log.Printf("telemetry: device connected")
		if r.onConnect != nil {
			r.onConnect()
		}
		metrics.DeviceConnected.Set(1)
		err = r.stream(ctx, port)
		metrics.DeviceConnected.Set(0)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("telemetry: device lost, reconnecting")
		if err := wait(ctx, r.cfg.RetryDelay); err != nil {
			return err
		}
	}
}

// stream reads chunks until the port fails. Cancelling ctx closes the
// port, which unblocks a pending Read.
func (r *Reader) stream(ctx context.Context, port io.ReadCloser) error {
	var once sync.Once
	closePort := func() { once.Do(func() { port.Close() }) }
	defer closePort()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closePort()
		case <-done:
		}
	}()

	buf := make([]byte, r.cfg.ReadSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			r.sink(ctx, buf[:n])
		}
		if err != nil {
			return err
		}
		if n == 0 {
			// Nothing arrived before the port's read timeout.
			if err := wait(ctx, time.Millisecond); err != nil {
				return err
			}
		}
	}
}

// backoff returns RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func backoff(attempt int, cfg ReaderConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 31 {
		return cfg.MaxRetryDelay
	}
	delay := cfg.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > cfg.MaxRetryDelay || delay <= 0 {
		delay = cfg.MaxRetryDelay
	}
	return delay
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
