// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/fusion"
	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/metrics"
	"github.com/relabs-tech/imu_bridge/internal/publish"
	"github.com/relabs-tech/imu_bridge/internal/sensors"
)

// RunIMUProducer fuses the platform sensor streams and publishes one IMU
// sample per complete set of readings on TOPIC_IMU. With dryRun the
// samples are printed instead of sent to the broker.
func RunIMUProducer(ctx context.Context, dryRun bool) error {
	cfg := config.Get()
	log.Println("imu producer: starting (platform sensors → fusion → MQTT)")
	metrics.Serve(cfg.MetricsAddr)

	frameID := header.NewFrameID(cfg.FrameIDIMU)

	var transport publish.Transport
	if dryRun {
		log.Println("imu producer: dry run, printing samples")
		transport = newConsoleTransport(os.Stdout)
	} else {
		client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		if err := publish.SubscribeFrameID(client, cfg.TopicIMU, frameID); err != nil {
			return err
		}
		transport = publish.NewMQTTTransport(client)
	}

	sched := publish.NewScheduler(publish.SchedulerConfig{
		Topic:        cfg.TopicIMU,
		MaxFrequency: cfg.MaxFrequencyHz,
		FrameID:      frameID,
	}, transport)

	node := fusion.New(fusion.Config{
		IdleSleep: config.Millis(cfg.FusionIdleSleepMS),
		Wrap:      cfg.Wrap(),
	}, sched)

	src, err := newPlatformSource(cfg)
	if err != nil {
		return err
	}
	iv := sensors.Intervals{
		Accelerometer: config.Millis(cfg.AccelIntervalMS),
		Gyroscope:     config.Millis(cfg.GyroIntervalMS),
		Orientation:   config.Millis(cfg.OrientationIntervalMS),
	}

	log.Printf("imu producer: publishing on %s at up to %.0f Hz (wrap=%s)", cfg.TopicIMU, cfg.MaxFrequencyHz, cfg.Wrap())
	err = runAll(ctx,
		node.Run,
		func(ctx context.Context) error { return sensors.Run(ctx, src, iv, node) },
	)
	log.Println("imu producer: shutting down")
	return err
}

func newPlatformSource(cfg *config.Config) (sensors.Source, error) {
	switch cfg.IMUSource {
	case "mpu9250":
		log.Printf("imu producer: using MPU9250 on %s (CS %s)", cfg.IMUSPIDevice, cfg.IMUCSPin)
		return sensors.NewMPU9250(sensors.MPU9250Config{
			SPIDevice:  cfg.IMUSPIDevice,
			CSPin:      cfg.IMUCSPin,
			AccelRange: cfg.IMUAccelRange,
			GyroRange:  cfg.IMUGyroRange,
		})
	default:
		log.Println("imu producer: using mock platform source")
		return sensors.NewMockSource(), nil
	}
}
