// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"encoding/binary"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/metrics"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// Publisher receives decoded samples. *publish.Scheduler implements it.
type Publisher interface {
	Publish(ctx context.Context, msg publish.Message) (header.Header, error)
}

// NodeConfig configures a Node.
type NodeConfig struct {
	ByteOrder binary.ByteOrder // defaults to little endian
	Framing   Framing
}

// Stats counts what one OnBytes call did.
type Stats struct {
	Published     int
	DecodeErrors  int
	PublishErrors int
}

// Node turns raw device bytes into published samples.
type Node struct {
	order binary.ByteOrder
	pub   Publisher

	mu     sync.Mutex
	framer *Framer
}

// NewNode creates a telemetry node publishing through pub.
func NewNode(cfg NodeConfig, pub Publisher) *Node {
	order := cfg.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}
	return &Node{
		order:  order,
		pub:    pub,
		framer: NewFramer(cfg.Framing),
	}
}

// OnBytes consumes one chunk read from the device. Every complete record
// is decoded and published. A bad record is logged and skipped; the rest
// of the chunk is still processed. Only ctx cancellation stops early.
func (n *Node) OnBytes(ctx context.Context, chunk []byte) (Stats, error) {
	n.mu.Lock()
	records := n.framer.Push(chunk)
	n.mu.Unlock()

	var st Stats
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		sample, err := Decode(rec, n.order)
		if err != nil {
			st.DecodeErrors++
			metrics.DecodeErrors.Inc()
			log.WithError(err).Warn("telemetry: dropping record")
			continue
		}

		if _, err := n.pub.Publish(ctx, &sample); err != nil {
			if ctx.Err() != nil {
				return st, ctx.Err()
			}
			st.PublishErrors++
			log.WithError(err).Warn("telemetry: publish failed")
			continue
		}
		st.Published++
	}
	return st, nil
}

// Reset drops any partial record. Call it whenever the device is reopened
// so the new stream is not appended to bytes from the old one.
func (n *Node) Reset() {
	n.mu.Lock()
	discarded := n.framer.Reset()
	n.mu.Unlock()
	if discarded > 0 {
		log.WithField("bytes", discarded).Debug("telemetry: discarded partial record from previous connection")
	}
}

// Buffered returns the bytes held back waiting for a complete record.
func (n *Node) Buffered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.framer.Buffered()
}
