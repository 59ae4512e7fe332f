// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/relabs-tech/look_at_pose/internal/app"
	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/logging"
)

func main() {
	configPath := pflag.String("config", "", "KEY=VALUE config file (built-in defaults when empty)")
	pflag.Parse()

	if err := config.InitGlobal(*configPath); err != nil {
		logging.NewLogger("console", "info").Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	logger := logging.NewLogger("console", cfg.LogLevel)
	defer logger.Sync()
	logger.Info("starting look_at_pose (mock console, no broker)")

	if err := app.RunMockConsole(cfg, logger, os.Stdout); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}
