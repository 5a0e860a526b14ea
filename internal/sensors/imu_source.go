// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/imu_bridge/internal/imu"
	"github.com/relabs-tech/imu_bridge/internal/orientation"
)

// RawReader reads one raw accel+gyro sample.
type RawReader interface {
	ReadRaw() (imu.IMURaw, error)
}

// MPU9250Config selects the SPI wiring and full-scale ranges.
type MPU9250Config struct {
	SPIDevice  string
	CSPin      string
	AccelRange byte // 0=±2g, 1=±4g, 2=±8g, 3=±16g
	GyroRange  byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
}

type mpuDevice struct {
	dev *mpu9250.MPU9250
}

// NewMPU9250 initializes an MPU9250 over SPI and returns it as a Source.
// Orientation is a tilt estimate from the accelerometer; azimuth stays 0
// without a heading reference.
func NewMPU9250(cfg MPU9250Config) (Source, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("IMU: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.CSPin)
	if cs == nil {
		return nil, fmt.Errorf("IMU: CS pin %q not found", cfg.CSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.SPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("IMU: SPI transport (%s): %w", cfg.SPIDevice, err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("IMU: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("IMU: initialization: %w", err)
	}

	if err := dev.SetAccelRange(cfg.AccelRange); err != nil {
		return nil, fmt.Errorf("IMU: set accel range: %w", err)
	}
	log.Printf("IMU: accelerometer range set to %d (±%dg)", cfg.AccelRange, []int{2, 4, 8, 16}[cfg.AccelRange&3])

	if err := dev.SetGyroRange(cfg.GyroRange); err != nil {
		return nil, fmt.Errorf("IMU: set gyro range: %w", err)
	}
	log.Printf("IMU: gyroscope range set to %d (±%d°/s)", cfg.GyroRange, []int{250, 500, 1000, 2000}[cfg.GyroRange&3])

	if err := dev.Calibrate(); err != nil {
		log.WithError(err).Warn("IMU: calibration failed")
	} else {
		log.Printf("IMU: calibration complete")
	}

	return newRawSource(&mpuDevice{dev: dev}, cfg.AccelRange, cfg.GyroRange), nil
}

// ReadRaw reads accelerometer and gyroscope counts.
func (d *mpuDevice) ReadRaw() (imu.IMURaw, error) {
	ax, err := d.dev.GetAccelerationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel X: %w", err)
	}
	ay, err := d.dev.GetAccelerationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel Y: %w", err)
	}
	az, err := d.dev.GetAccelerationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU accel Z: %w", err)
	}

	gx, err := d.dev.GetRotationX()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro X: %w", err)
	}
	gy, err := d.dev.GetRotationY()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro Y: %w", err)
	}
	gz, err := d.dev.GetRotationZ()
	if err != nil {
		return imu.IMURaw{}, fmt.Errorf("IMU gyro Z: %w", err)
	}

	return imu.IMURaw{
		Source: "mpu9250",
		Ax:     ax,
		Ay:     ay,
		Az:     az,
		Gx:     gx,
		Gy:     gy,
		Gz:     gz,
	}, nil
}

// rawSource turns a RawReader into the three streams. The three stream
// goroutines share one bus, so reads are serialized.
type rawSource struct {
	mu         sync.Mutex
	reader     RawReader
	accelRange byte
	gyroRange  byte
}

func newRawSource(r RawReader, accelRange, gyroRange byte) *rawSource {
	return &rawSource{reader: r, accelRange: accelRange, gyroRange: gyroRange}
}

func (s *rawSource) read() (imu.IMURaw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader.ReadRaw()
}

func (s *rawSource) Accelerometer() ([3]float64, error) {
	raw, err := s.read()
	if err != nil {
		return [3]float64{}, err
	}
	return raw.Accel(s.accelRange), nil
}

func (s *rawSource) Gyroscope() ([3]float64, error) {
	raw, err := s.read()
	if err != nil {
		return [3]float64{}, err
	}
	return raw.Gyro(s.gyroRange), nil
}

func (s *rawSource) Orientation() ([3]float64, error) {
	raw, err := s.read()
	if err != nil {
		return [3]float64{}, err
	}
	a := raw.Accel(s.accelRange)
	pose := orientation.ComputePoseFromAccel(a[0], a[1], a[2])
	return [3]float64{pose.Yaw, pose.Pitch, pose.Roll}, nil
}
