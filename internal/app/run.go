// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/relabs-tech/imu_bridge/internal/config"
)

// Bootstrap loads the configuration file and applies its log level.
func Bootstrap(configPath string) (*config.Config, error) {
	if err := config.InitGlobal(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Get()
	cfg.ApplyLogLevel()
	return cfg, nil
}

// runAll runs every loop until ctx is done. The first loop to fail for
// another reason stops the others and its error is returned.
func runAll(ctx context.Context, loops ...func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(loops))
	for _, loop := range loops {
		loop := loop
		go func() { errCh <- loop(ctx) }()
	}

	var first error
	for range loops {
		err := <-errCh
		if first == nil && err != nil && !isShutdown(err) {
			first = err
		}
		cancel()
	}
	return first
}

func isShutdown(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
