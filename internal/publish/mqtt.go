// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/header"
)

const publishTimeout = 2 * time.Second

// FrameIDTopic is the control topic that changes the frame id of topic.
func FrameIDTopic(topic string) string {
	return topic + "/frame_id/set"
}

// Connect opens an MQTT connection with automatic reconnects.
// An empty clientID gets a random one.
func Connect(broker, clientID string) (mqtt.Client, error) {
	if clientID == "" {
		clientID = "imu-bridge-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warnf("mqtt: connection to %s lost, reconnecting", broker)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	log.Printf("mqtt: connected to %s as %s", broker, clientID)
	return client, nil
}

// MQTTTransport publishes JSON payloads with QoS 0.
type MQTTTransport struct {
	client   mqtt.Client
	retained bool
	timeout  time.Duration
}

// NewMQTTTransport wraps a connected client.
func NewMQTTTransport(client mqtt.Client) *MQTTTransport {
	return &MQTTTransport{client: client, timeout: publishTimeout}
}

// Publish implements Transport.
func (t *MQTTTransport) Publish(topic string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %q: %w", topic, err)
	}
	token := t.client.Publish(topic, 0, t.retained, b)
	if !token.WaitTimeout(t.timeout) {
		return fmt.Errorf("publish to %q timed out after %s", topic, t.timeout)
	}
	return token.Error()
}

// FrameIDHandler returns a message handler that applies the payload of
// each control message as the new frame id.
func FrameIDHandler(frameID *header.FrameID) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		id := string(msg.Payload())
		if err := frameID.Set(id); err != nil {
			log.WithError(err).Warnf("mqtt: ignoring frame id change on %s", msg.Topic())
			return
		}
		log.Printf("mqtt: frame id set to %q via %s", frameID.Get(), msg.Topic())
	}
}

// SubscribeFrameID listens on FrameIDTopic(topic) for frame id changes.
func SubscribeFrameID(client mqtt.Client, topic string, frameID *header.FrameID) error {
	control := FrameIDTopic(topic)
	token := client.Subscribe(control, 0, FrameIDHandler(frameID))
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", control, err)
	}
	log.Printf("mqtt: listening for frame id changes on %s", control)
	return nil
}

// PublishFrameID asks the producer of topic to switch to a new frame id.
func PublishFrameID(client mqtt.Client, topic, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return header.ErrEmptyFrameID
	}
	control := FrameIDTopic(topic)
	token := client.Publish(control, 1, false, []byte(id))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %q timed out after %s", control, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", control, err)
	}
	return nil
}
