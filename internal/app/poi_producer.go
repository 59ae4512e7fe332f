// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
	"github.com/relabs-tech/look_at_pose/internal/orientation"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

// publishOnce takes the next point from src and publishes it on topic.
func publishOnce(ctx context.Context, src orientation.Source, bus transport.Bus, codec transport.Codec, topic string) (geometry.Point3D, error) {
	pt, err := src.Next()
	if err != nil {
		return pt, errors.Wrap(err, "mock source")
	}
	payload, err := codec.Marshal(pt)
	if err != nil {
		return pt, errors.Wrap(err, "encode point")
	}
	return pt, bus.Publish(ctx, topic, payload)
}

// RunPOIProducer publishes a moving mock point of interest until SIGINT or
// SIGTERM.
func RunPOIProducer(cfg *config.Config, logger logging.Logger) error {
	return runPOIProducer(cfg, logger, clock.New())
}

func runPOIProducer(cfg *config.Config, logger logging.Logger, clk clock.Clock) error {
	logger.Info("starting point-of-interest producer (mock)")

	bus, codec, err := connect(cfg, cfg.MQTTClientIDProducer, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	src := orientation.NewMockSource(clk, cfg.FrameID, cfg.ProducerRadius, cfg.ProducerHeight)
	ticker := clk.Ticker(time.Duration(cfg.ProducerInterval) * time.Millisecond)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		waitForSignalOrDone(ctx)
		cancel()
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("producer: shutting down")
			return nil
		case t := <-ticker.C:
			pt, err := publishOnce(ctx, src, bus, codec, cfg.TopicPointOfInterest)
			if err != nil {
				logger.Warnf("producer: publish failed: %v", err)
				continue
			}
			logger.Debugf("%s published point: %+v", t.Format(time.RFC3339), pt.Point)
		}
	}
}
