// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/imu_bridge/internal/app"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gps_producer",
		Short: "Publish GPS fixes parsed from NMEA over MQTT",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.Bootstrap(configPath); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return app.RunGPSProducer(ctx)
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "./imu_bridge_config.txt", "path to configuration file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
