// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package header

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// Header is attached to every published message.
type Header struct {
	Seq     uint64    `json:"seq"`      // starts at 1
	Stamp   time.Time `json:"stamp"`    // publish time
	FrameID string    `json:"frame_id"` // coordinate frame of the message
}

// ErrEmptyFrameID is returned by FrameID.Set for blank ids.
var ErrEmptyFrameID = errors.New("frame id must not be empty")

// FrameID holds the frame id used for the next published message.
// Set may be called from any goroutine (MQTT control topic, web handler).
type FrameID struct {
	mu sync.RWMutex
	id string
}

// NewFrameID returns a holder initialized with id.
func NewFrameID(id string) *FrameID {
	return &FrameID{id: id}
}

// Set replaces the frame id. Surrounding whitespace is trimmed.
func (f *FrameID) Set(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyFrameID
	}
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
	return nil
}

// Get returns the current frame id.
func (f *FrameID) Get() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id
}
