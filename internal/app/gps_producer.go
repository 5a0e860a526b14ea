// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/gps"
	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/metrics"
	"github.com/relabs-tech/imu_bridge/internal/publish"
	"github.com/relabs-tech/imu_bridge/internal/telemetry"
)

// RunGPSProducer opens the GPS serial port, parses NMEA sentences, and
// publishes one fix per RMC sentence on TOPIC_GPS.
func RunGPSProducer(ctx context.Context) error {
	cfg := config.Get()
	log.Println("gps producer: starting (NMEA serial → MQTT)")
	metrics.Serve(cfg.MetricsAddr)

	client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientIDGPS)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	frameID := header.NewFrameID(cfg.FrameIDGPS)
	if err := publish.SubscribeFrameID(client, cfg.TopicGPS, frameID); err != nil {
		return err
	}

	sched := publish.NewScheduler(publish.SchedulerConfig{
		Topic:        cfg.TopicGPS,
		MaxFrequency: cfg.GPSMaxFrequencyHz,
		FrameID:      frameID,
	}, publish.NewMQTTTransport(client))

	sink, reset := newFixSink(sched)

	port := telemetry.PortConfig{
		Transport: "serial",
		Device:    cfg.GPSSerialPort,
		BaudRate:  uint(cfg.GPSBaudRate),
	}
	rc := cfg.ReaderConfig()
	rc.ReadSize = 256
	reader := telemetry.NewReader(rc, telemetry.PortOpener(port), sink)
	reader.OnConnect(reset)

	err = reader.Run(ctx)
	log.Println("gps producer: shutting down")
	if isShutdown(err) {
		return nil
	}
	return err
}

// newFixSink turns serial chunks into published fixes. reset forgets a
// partial sentence and belongs on the reader's OnConnect.
func newFixSink(pub telemetry.Publisher) (sink telemetry.Sink, reset func()) {
	var tracker gps.Tracker
	reset = tracker.Reset
	sink = func(ctx context.Context, chunk []byte) {
		fixes, errs := tracker.Feed(chunk)
		for _, err := range errs {
			// noisy GPS or partial sentences
			log.WithError(err).Debug("gps producer: skipping sentence")
		}
		for i := range fixes {
			fix := fixes[i]
			if _, err := pub.Publish(ctx, &fix); err != nil {
				log.WithError(err).Warn("gps producer: publish failed")
				continue
			}
			log.Debugf("gps producer: published fix %+v", fix)
		}
	}
	return sink, reset
}
