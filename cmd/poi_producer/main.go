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
		logging.NewLogger("poi_producer", "info").Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	logger := logging.NewLogger("poi_producer", cfg.LogLevel)
	defer logger.Sync()

	if err := app.RunPOIProducer(cfg, logger); err != nil {
		logger.Fatalf("fatal: %v", err)
	}
}
