// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	Published = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imu_bridge_published_total",
			Help: "Messages handed to the transport successfully.",
		},
		[]string{"topic"},
	)

	PublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imu_bridge_publish_errors_total",
			Help: "Messages the transport rejected.",
		},
		[]string{"topic"},
	)

	ThrottleWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imu_bridge_throttle_wait_seconds",
			Help:    "Time the publish scheduler slept to honor the maximum frequency.",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05},
		},
		[]string{"topic"},
	)

	FusionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imu_bridge_fusion_errors_total",
		Help: "Fusion cycles aborted by a numeric error.",
	})

	DecodeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imu_bridge_decode_errors_total",
		Help: "Telemetry records that failed to decode.",
	})

	DeviceReconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "imu_bridge_device_reconnects_total",
		Help: "Failed external device connection attempts.",
	})

	DeviceConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "imu_bridge_device_connected",
		Help: "1 while the external device (BNO055 bridge or GPS receiver) is open.",
	})
)

func init() {
	prometheus.MustRegister(Published)
	prometheus.MustRegister(PublishErrors)
	prometheus.MustRegister(ThrottleWait)
	prometheus.MustRegister(FusionErrors)
	prometheus.MustRegister(DecodeErrors)
	prometheus.MustRegister(DeviceReconnects)
	prometheus.MustRegister(DeviceConnected)
}

// Serve exposes /metrics on addr in the background. An empty addr disables it.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.WithError(err).Error("metrics: server stopped")
		}
	}()
}
