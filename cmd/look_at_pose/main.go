// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"github.com/spf13/pflag"

	"github.com/relabs-tech/look_at_pose/internal/app"
	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/logging"
)

func main() {
	configPath := pflag.String("config", "", "KEY=VALUE config file (built-in defaults when empty)")
	pflag.Parse()

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		logging.NewLogger("look_at_pose", "info").Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	logger := logging.NewLogger("look_at_pose", cfg.LogLevel)
	defer logger.Sync()
	logger.Info("starting look_at_pose service")

	if err := app.RunLookAtService(cfg, logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}
