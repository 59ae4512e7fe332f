// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/logging"
	"github.com/relabs-tech/look_at_pose/internal/orientation"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

// mockPipeline runs the service, the listener and the console printer on a
// single in-process bus, fed by the mock point source.
type mockPipeline struct {
	bus      *transport.MemoryBus
	codec    transport.Codec
	topic    string
	src      orientation.Source
	listener *Listener
	server   *transport.Server
	client   *LookAtClient
}

func newMockPipeline(cfg *config.Config, logger logging.Logger, out io.Writer, clk clock.Clock) (*mockPipeline, error) {
	codec, err := transport.CodecByName(cfg.PayloadCodec)
	if err != nil {
		return nil, err
	}
	solver, err := newSolver(cfg)
	if err != nil {
		return nil, err
	}

	bus := transport.NewMemoryBus()
	p := &mockPipeline{
		bus:   bus,
		codec: codec,
		topic: cfg.TopicPointOfInterest,
		src:   orientation.NewMockSource(clk, cfg.FrameID, cfg.ProducerRadius, cfg.ProducerHeight),
	}
	if p.server, err = transport.Serve(bus, codec, cfg.ServiceLookAtPose, LookAtErrorCodes, NewLookAtHandler(solver), logger); err != nil {
		return nil, multierr.Combine(err, bus.Close())
	}
	if p.client, err = NewLookAtClient(bus, codec, cfg.ServiceLookAtPose, callTimeout(cfg), logger); err != nil {
		return nil, multierr.Combine(err, p.Close())
	}
	if err := bus.Subscribe(cfg.TopicCameraCommand, commandPrinter(codec, logger, out)); err != nil {
		return nil, multierr.Combine(err, p.Close())
	}

	p.listener = NewListener(ListenerOptions{
		Solver:      p.client,
		Actuator:    NewBusActuator(bus, codec, cfg.TopicCameraCommand),
		Codec:       codec,
		Initial:     initialCameraPose(cfg),
		Up:          configuredUpVector(cfg),
		CallTimeout: callTimeout(cfg),
		Logger:      logger,
	})
	// The bus keeps one handler per filter, so the printer and the
	// listener share the point subscription.
	printPoint := pointPrinter(codec, logger, out)
	err = bus.Subscribe(cfg.TopicPointOfInterest, func(topic string, payload []byte) {
		printPoint(topic, payload)
		p.listener.HandlePoint(topic, payload)
	})
	if err != nil {
		return nil, multierr.Combine(err, p.Close())
	}
	return p, nil
}

// step publishes the next mock point.
func (p *mockPipeline) step(ctx context.Context) error {
	_, err := publishOnce(ctx, p.src, p.bus, p.codec, p.topic)
	return err
}

// Close tears the pipeline down.
func (p *mockPipeline) Close() error {
	var err error
	if p.client != nil {
		err = multierr.Append(err, p.client.Close())
	}
	if p.server != nil {
		err = multierr.Append(err, p.server.Close())
	}
	return multierr.Append(err, p.bus.Close())
}

// RunMockConsole runs the whole look-at loop in one process, without a
// broker, and prints every point and camera command to out.
func RunMockConsole(cfg *config.Config, logger logging.Logger, out io.Writer) error {
	clk := clock.New()
	p, err := newMockPipeline(cfg, logger, out, clk)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.listener.Run(ctx)
	})
	g.Go(func() error {
		waitForSignalOrDone(ctx)
		cancel()
		return nil
	})
	g.Go(func() error {
		ticker := clk.Ticker(time.Duration(cfg.ProducerInterval) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := p.step(ctx); err != nil {
					logger.Warnf("console: mock point: %v", err)
				}
			}
		}
	})

	runErr := g.Wait()
	logger.Infof("console: shutting down (%+v)", p.listener.Stats())
	return multierr.Combine(runErr, p.Close())
}
