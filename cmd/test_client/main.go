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
		logging.NewLogger("test_client", "info").Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	logger := logging.NewLogger("test_client", cfg.LogLevel)

	err := app.RunTestClient(cfg, logger, os.Stdout)
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
