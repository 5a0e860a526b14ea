// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/gps"
	"github.com/relabs-tech/imu_bridge/internal/imu"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

// consolePrinter prints received messages, at most one per topic per
// interval, so a 100 Hz stream stays readable.
type consolePrinter struct {
	out      io.Writer
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func newConsolePrinter(out io.Writer, interval time.Duration) *consolePrinter {
	return &consolePrinter{out: out, interval: interval, now: time.Now, last: make(map[string]time.Time)}
}

func (p *consolePrinter) due(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if last, ok := p.last[topic]; ok && now.Sub(last) < p.interval {
		return false
	}
	p.last[topic] = now
	return true
}

func (p *consolePrinter) handleSample(_ mqtt.Client, msg mqtt.Message) {
	if !p.due(msg.Topic()) {
		return
	}
	var s imu.Sample
	if err := json.Unmarshal(msg.Payload(), &s); err != nil {
		log.WithError(err).Warnf("console: %s unmarshal error", msg.Topic())
		return
	}
	fmt.Fprintln(p.out, formatSample(msg.Topic(), s))
}

func (p *consolePrinter) handleFix(_ mqtt.Client, msg mqtt.Message) {
	if !p.due(msg.Topic()) {
		return
	}
	var f gps.Fix
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		log.WithError(err).Warnf("console: %s unmarshal error", msg.Topic())
		return
	}
	fmt.Fprintln(p.out, formatFix(msg.Topic(), f))
}

// RunConsoleMQTT subscribes to the IMU and GPS topics and prints what
// arrives until ctx is done.
func RunConsoleMQTT(ctx context.Context) error {
	cfg := config.Get()

	client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	printer := newConsolePrinter(os.Stdout, config.Millis(cfg.ConsoleLogInterval))
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{cfg.TopicIMU, printer.handleSample},
		{cfg.TopicBNO055, printer.handleSample},
		{cfg.TopicGPS, printer.handleFix},
	}
	for _, s := range subs {
		token := client.Subscribe(s.topic, 0, s.handler)
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("console: subscribe %s: %w", s.topic, token.Error())
		}
		log.Printf("console: subscribed to %s", s.topic)
	}

	<-ctx.Done()
	log.Println("console: shutting down")
	return nil
}
