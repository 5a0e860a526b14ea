// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/config"
	"github.com/relabs-tech/imu_bridge/internal/header"
	"github.com/relabs-tech/imu_bridge/internal/publish"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// clientBuffer is how many live messages a slow websocket client may lag
// behind before messages to it are dropped.
const clientBuffer = 64

// frameIDSender forwards a frame id change to the producer of topic.
type frameIDSender func(topic, id string) error

// liveMessage is what websocket clients receive.
type liveMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type frameIDRequest struct {
	Topic   string `json:"topic"`
	FrameID string `json:"frame_id"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// monitor keeps the latest message per topic and fans new ones out to
// websocket clients.
type monitor struct {
	topics      []string
	sendFrameID frameIDSender

	mu      sync.RWMutex
	latest  map[string]json.RawMessage
	clients map[*wsClient]struct{}
}

func newMonitor(topics []string, send frameIDSender) *monitor {
	return &monitor{
		topics:      topics,
		sendFrameID: send,
		latest:      make(map[string]json.RawMessage),
		clients:     make(map[*wsClient]struct{}),
	}
}

// update stores payload as the latest message on topic and broadcasts it.
func (m *monitor) update(topic string, payload []byte) {
	if !json.Valid(payload) {
		log.Warnf("web: dropping non-JSON message on %s", topic)
		return
	}
	data := json.RawMessage(append([]byte(nil), payload...))
	msg, err := json.Marshal(liveMessage{Topic: topic, Data: data})
	if err != nil {
		log.WithError(err).Warn("web: marshal live message")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[topic] = data
	for c := range m.clients {
		select {
		case c.send <- msg:
		default:
			// client too slow; it catches up on the next message
		}
	}
}

func (m *monitor) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/latest", m.handleLatest)
	mux.HandleFunc("/api/imu", func(w http.ResponseWriter, r *http.Request) {
		m.writeLatest(w, m.topics[0])
	})
	mux.HandleFunc("/api/frame_id", m.handleFrameID)
	mux.HandleFunc("/ws", m.handleWS)

	// Static files from ./web as the root
	mux.Handle("/", http.FileServer(http.Dir("web")))
	return mux
}

func (m *monitor) handleLatest(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if !slices.Contains(m.topics, topic) {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}
	m.writeLatest(w, topic)
}

func (m *monitor) writeLatest(w http.ResponseWriter, topic string) {
	m.mu.RLock()
	data, ok := m.latest[topic]
	m.mu.RUnlock()

	if !ok {
		http.Error(w, "no data yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.WithError(err).Debug("web: write response")
	}
}

func (m *monitor) handleFrameID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req frameIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		req.Topic = m.topics[0]
	}
	if !slices.Contains(m.topics, req.Topic) {
		http.Error(w, "unknown topic", http.StatusNotFound)
		return
	}

	if err := m.sendFrameID(req.Topic, req.FrameID); err != nil {
		if errors.Is(err, header.ErrEmptyFrameID) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.WithError(err).Warn("web: frame id change failed")
		http.Error(w, "could not reach producer", http.StatusBadGateway)
		return
	}
	log.Printf("web: requested frame id %q for %s", strings.TrimSpace(req.FrameID), req.Topic)
	w.WriteHeader(http.StatusNoContent)
}

func (m *monitor) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}

	// Register and queue the current state in one step so no update
	// slips in between.
	m.mu.Lock()
	for _, topic := range m.topics {
		if data, ok := m.latest[topic]; ok {
			if msg, err := json.Marshal(liveMessage{Topic: topic, Data: data}); err == nil {
				c.send <- msg
			}
		}
	}
	m.clients[c] = struct{}{}
	m.mu.Unlock()

	done := make(chan struct{})
	go m.writeLoop(c, done)

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("web: websocket error: %v", err)
			}
			break
		}
	}

	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
	close(done)
	conn.Close()
}

func (m *monitor) writeLoop(c *wsClient, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

// RunWeb serves the live monitor: the latest samples over HTTP and a
// websocket stream, plus frame id changes forwarded over MQTT.
func RunWeb(ctx context.Context) error {
	cfg := config.Get()

	client, err := publish.Connect(cfg.MQTTBroker, cfg.MQTTClientIDWeb)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	topics := []string{cfg.TopicIMU, cfg.TopicBNO055, cfg.TopicGPS}
	m := newMonitor(topics, func(topic, id string) error {
		return publish.PublishFrameID(client, topic, id)
	})

	for _, topic := range topics {
		token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
			m.update(msg.Topic(), msg.Payload())
		})
		token.Wait()
		if token.Error() != nil {
			return fmt.Errorf("web: subscribe %s: %w", topic, token.Error())
		}
		log.Printf("web: subscribed to MQTT topic %s", topic)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
		Handler:           m.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web: server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Println("web: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
