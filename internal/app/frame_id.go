// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// RunSetFrameID asks the producer publishing on topic to stamp future
// messages with id. An empty topic means TOPIC_IMU.
func RunSetFrameID(topic, id string) error {
	cfg := config.Get()
	if topic == "" {
		topic = cfg.TopicIMU
	}

	client, err := publish.Connect(cfg.MQTTBroker, "")
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	if err := publish.PublishFrameID(client, topic, id); err != nil {
		return err
	}
	log.Printf("set-frame-id: sent %q to %s", id, publish.FrameIDTopic(topic))
	return nil
}
