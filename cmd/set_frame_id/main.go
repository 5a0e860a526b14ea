// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/relabs-tech/imu_bridge/internal/app"
)

func main() {
	var (
		configPath string
		topic      string
	)

	cmd := &cobra.Command{
		Use:     "set_frame_id FRAME_ID",
		Short:   "Change the frame id a running producer stamps on its messages",
		Example: "  set_frame_id base_link\n  set_frame_id --topic bno055/imu/data bno055_link",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.Bootstrap(configPath); err != nil {
				return err
			}
			return app.RunSetFrameID(topic, args[0])
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "./imu_bridge_config.txt", "path to configuration file")
	cmd.Flags().StringVar(&topic, "topic", "", "data topic of the producer (default TOPIC_IMU)")

	if err := cmd.Execute(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
