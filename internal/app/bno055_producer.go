// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/metrics"
	"github.com/relabs-tech/imu_bridge/internal/publish"
	"github.com/relabs-tech/imu_bridge/internal/telemetry"
)

// RunBNO055Producer reads the BNO055 bridge board and publishes every
// decoded record on TOPIC_BNO055. The device is reopened whenever it
// goes away.
func RunBNO055Producer(ctx context.Context) error {
	cfg := config.Get()
	log.Println("bno055 producer: starting (bridge board → MQTT)")
	metrics.Serve(cfg.MetricsAddr)

	client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientIDBNO055)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	frameID := header.NewFrameID(cfg.FrameIDBNO055)
	if err := publish.SubscribeFrameID(client, cfg.TopicBNO055, frameID); err != nil {
		return err
	}

	// validated at load time
	order, _ := telemetry.ParseByteOrder(cfg.TelemetryByteOrder)
	framing := cfg.Framing()

	// The device paces itself; no rate cap here.
	sched := publish.NewScheduler(publish.SchedulerConfig{
		Topic:   cfg.TopicBNO055,
		FrameID: frameID,
	}, publish.NewMQTTTransport(client))
	node := telemetry.NewNode(telemetry.NodeConfig{ByteOrder: order, Framing: framing}, sched)

	port := telemetry.PortConfig{
		Transport: cfg.BNO055Transport,
		Device:    cfg.BNO055Device,
		BaudRate:  uint(cfg.BNO055BaudRate),
	}
	reader := telemetry.NewReader(cfg.ReaderConfig(), telemetry.PortOpener(port), func(ctx context.Context, chunk []byte) {
		st, err := node.OnBytes(ctx, chunk)
		if err != nil {
			return
		}
		if st.DecodeErrors > 0 || st.PublishErrors > 0 {
			log.WithField("stats", st).Debug("bno055 producer: chunk had errors")
		}
	})
	reader.OnConnect(node.Reset)

	log.Printf("bno055 producer: publishing on %s (%s, %s framing, %s endian)",
		cfg.TopicBNO055, cfg.BNO055Transport, framing, cfg.TelemetryByteOrder)
	err = reader.Run(ctx)
	log.Println("bno055 producer: shutting down")
	if isShutdown(err) {
		return nil
	}
	return err
}
