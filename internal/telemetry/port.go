// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	serial "github.com/jacobsa/go-serial/serial"
	log "github.com/sirupsen/logrus"
)

// USB ids of the STM32 bridge board.
const (
	BridgeVendorID  = 0x0483
	BridgeProductID = 0x5750
)

// Port transports.
const (
	TransportSerial = "serial"
	TransportHIDRaw = "hidraw"
)

// PortConfig selects how the device is reached.
type PortConfig struct {
	Transport string // "serial" or "hidraw"
	Device    string // empty hidraw device means look it up by USB id
	BaudRate  uint

	// SysfsRoot is where hidraw nodes are listed (default /sys/class/hidraw).
	SysfsRoot string
}

// OpenPort opens the device described by cfg.
func OpenPort(cfg PortConfig) (io.ReadCloser, error) {
	switch strings.ToLower(cfg.Transport) {
	case TransportSerial, "":
		opts := serial.OpenOptions{
			PortName:              cfg.Device,
			BaudRate:              cfg.BaudRate,
			DataBits:              8,
			StopBits:              1,
			MinimumReadSize:       1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
		}
		port, err := serial.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
		}
		log.Printf("telemetry: serial port opened on %s at %d baud", opts.PortName, opts.BaudRate)
		return port, nil

	case TransportHIDRaw:
		device := cfg.Device
		if device == "" {
			found, err := FindHIDRaw(cfg.SysfsRoot, BridgeVendorID, BridgeProductID)
			if err != nil {
				return nil, err
			}
			device = found
		}
		f, err := os.Open(device)
		if err != nil {
			return nil, fmt.Errorf("open hidraw %s: %w", device, err)
		}
		log.Printf("telemetry: hid device opened on %s", device)
		return f, nil

	default:
		return nil, fmt.Errorf("unknown transport %q (want serial or hidraw)", cfg.Transport)
	}
}

// PortOpener returns an Opener bound to cfg.
func PortOpener(cfg PortConfig) Opener {
	return func() (io.ReadCloser, error) {
		return OpenPort(cfg)
	}
}

// FindHIDRaw returns the /dev/hidrawN node whose USB ids match.
func FindHIDRaw(sysfsRoot string, vendor, product uint16) (string, error) {
	if sysfsRoot == "" {
		sysfsRoot = "/sys/class/hidraw"
	}
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return "", fmt.Errorf("list hidraw devices: %w", err)
	}

	want := fmt.Sprintf("%08X:%08X", vendor, product)
	for _, e := range entries {
		id, err := hidID(filepath.Join(sysfsRoot, e.Name(), "device", "uevent"))
		if err != nil {
			continue
		}
		// HID_ID is bus:vendor:product
		if strings.HasSuffix(strings.ToUpper(id), want) {
			return filepath.Join("/dev", e.Name()), nil
		}
	}
	return "", fmt.Errorf("no hidraw device with id %04x:%04x", vendor, product)
}

func hidID(uevent string) (string, error) {
	f, err := os.Open(uevent)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if v, ok := strings.CutPrefix(scanner.Text(), "HID_ID="); ok {
			return v, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s has no HID_ID", uevent)
}
