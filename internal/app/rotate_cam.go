// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
	"github.com/relabs-tech/look_at_pose/internal/orientation"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

// Stats counts what happened to the points the listener received.
type Stats struct {
	Received  uint64 `json:"received"`
	Malformed uint64 `json:"malformed"`
	Dropped   uint64 `json:"dropped"`
	Solved    uint64 `json:"solved"`
	Failed    uint64 `json:"failed"`
}

// ListenerOptions wires a Listener to its collaborators.
type ListenerOptions struct {
	Solver      PoseSolver
	Actuator    Actuator
	Codec       transport.Codec
	Initial     geometry.Pose
	Up          geometry.Vector3
	CallTimeout time.Duration
	// OnPose, if set, is called with every actuated pose.
	OnPose func(geometry.Pose)
	Logger logging.Logger
}

// Listener turns points of interest into camera moves. At most one
// solve/actuate cycle runs at a time; points that arrive while one is in
// progress are dropped.
type Listener struct {
	opts ListenerOptions

	mu      sync.RWMutex
	current geometry.Pose

	busy atomic.Bool
	slot chan geometry.Point3D

	received  atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64
	solved    atomic.Uint64
	failed    atomic.Uint64
}

// NewListener returns a listener that starts from opts.Initial.
func NewListener(opts ListenerOptions) *Listener {
	return &Listener{
		opts:    opts,
		current: opts.Initial,
		slot:    make(chan geometry.Point3D, 1),
	}
}

// HandlePoint is the bus callback for the point-of-interest topic.
func (l *Listener) HandlePoint(_ string, payload []byte) {
	l.received.Inc()
	var pt geometry.Point3D
	if err := l.opts.Codec.Unmarshal(payload, &pt); err != nil {
		l.malformed.Inc()
		l.opts.Logger.Warnf("listener: point unmarshal error: %v", errors.Wrap(geometry.ErrMalformedMessage, err.Error()))
		return
	}
	if err := pt.Validate(); err != nil {
		l.malformed.Inc()
		l.opts.Logger.Warnf("listener: dropping point: %v", err)
		return
	}
	l.opts.Logger.Debugf("listener: received point %+v in %q", pt.Point, pt.Header.FrameID)
	l.Offer(pt)
}

// HandleCameraPose is the bus callback for the camera pose topic. Poses
// in a frame other than the initial pose's are ignored.
func (l *Listener) HandleCameraPose(_ string, payload []byte) {
	var p geometry.Pose
	if err := l.opts.Codec.Unmarshal(payload, &p); err != nil {
		l.opts.Logger.Warnf("listener: camera pose unmarshal error: %v", err)
		return
	}
	if err := p.Validate(); err != nil {
		l.opts.Logger.Warnf("listener: ignoring camera pose: %v", err)
		return
	}
	if want := l.opts.Initial.Header.FrameID; want != "" && p.Header.FrameID != "" && p.Header.FrameID != want {
		l.opts.Logger.Warnf("listener: ignoring camera pose in frame %q, expected %q", p.Header.FrameID, want)
		return
	}
	l.setCurrent(p)
}

// Offer hands pt to the worker. It returns false, and drops pt, when a
// previous point is still being processed.
func (l *Listener) Offer(pt geometry.Point3D) bool {
	if !l.busy.CompareAndSwap(false, true) {
		l.dropped.Inc()
		l.opts.Logger.Debugf("listener: busy, dropping point %+v", pt.Point)
		return false
	}
	select {
	case l.slot <- pt:
		return true
	default:
		l.busy.Store(false)
		l.dropped.Inc()
		return false
	}
}

// Run processes offered points until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pt := <-l.slot:
			l.process(ctx, pt)
			l.busy.Store(false)
		}
	}
}

func (l *Listener) process(ctx context.Context, pt geometry.Point3D) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	defer cancel()

	target := geometry.Pose{
		Header:      pt.Header,
		Position:    pt.Point,
		Orientation: geometry.Identity(),
	}
	pose, err := l.opts.Solver.LookAtPose(ctx, l.CurrentPose(), target, l.opts.Up)
	if err != nil {
		l.failed.Inc()
		switch {
		case errors.Is(err, orientation.ErrDegenerateInput), errors.Is(err, orientation.ErrInvalidInput),
			errors.Is(err, geometry.ErrMalformedMessage):
			l.opts.Logger.Warnf("listener: look_at_pose rejected point %+v: %v", pt.Point, err)
		default:
			l.opts.Logger.Errorf("listener: look_at_pose call failed: %v", err)
		}
		return
	}

	if err := l.opts.Actuator.Actuate(ctx, pose); err != nil {
		l.failed.Inc()
		l.opts.Logger.Errorf("listener: actuation failed, camera pose unchanged: %v", err)
		return
	}

	l.setCurrent(pose)
	l.solved.Inc()
	o := pose.Orientation
	l.opts.Logger.Infof("listener: camera now at (%.3f, %.3f, %.3f) q=(%.4f, %.4f, %.4f, %.4f)",
		pose.Position.X, pose.Position.Y, pose.Position.Z, o.X, o.Y, o.Z, o.W)
	if l.opts.OnPose != nil {
		l.opts.OnPose(pose)
	}
}

// CurrentPose is the pose the camera is believed to be in.
func (l *Listener) CurrentPose() geometry.Pose {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

func (l *Listener) setCurrent(p geometry.Pose) {
	l.mu.Lock()
	l.current = p
	l.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Received:  l.received.Load(),
		Malformed: l.malformed.Load(),
		Dropped:   l.dropped.Load(),
		Solved:    l.solved.Load(),
		Failed:    l.failed.Load(),
	}
}

// subscribe attaches l to the point-of-interest topic and, when one is
// configured, the camera pose topic.
func (l *Listener) subscribe(bus transport.Bus, cfg *config.Config) error {
	if cfg.TopicCameraPose != "" {
		if err := bus.Subscribe(cfg.TopicCameraPose, l.HandleCameraPose); err != nil {
			return err
		}
		l.opts.Logger.Infof("listener: tracking camera pose on %s", cfg.TopicCameraPose)
	}
	if err := bus.Subscribe(cfg.TopicPointOfInterest, l.HandlePoint); err != nil {
		return err
	}
	l.opts.Logger.Infof("listener: subscribed to %s", cfg.TopicPointOfInterest)
	return nil
}

// unsubscribe detaches l from every topic subscribe attached it to.
func (l *Listener) unsubscribe(bus transport.Bus, cfg *config.Config) error {
	err := bus.Unsubscribe(cfg.TopicPointOfInterest)
	if cfg.TopicCameraPose != "" {
		err = multierr.Append(err, bus.Unsubscribe(cfg.TopicCameraPose))
	}
	return err
}

// RunRotateCam subscribes to points of interest and moves the camera to
// look at each one, until SIGINT or SIGTERM.
func RunRotateCam(cfg *config.Config, logger logging.Logger) error {
	bus, codec, err := connect(cfg, cfg.MQTTClientIDListener, logger)
	if err != nil {
		return err
	}

	client, err := NewLookAtClient(bus, codec, cfg.ServiceLookAtPose, callTimeout(cfg), logger)
	if err != nil {
		return multierr.Combine(err, bus.Close())
	}

	var monitor *Monitor
	opts := ListenerOptions{
		Solver:      client,
		Actuator:    NewBusActuator(bus, codec, cfg.TopicCameraCommand),
		Codec:       codec,
		Initial:     initialCameraPose(cfg),
		Up:          configuredUpVector(cfg),
		CallTimeout: callTimeout(cfg),
		Logger:      logger,
	}
	if cfg.WebServerPort > 0 {
		monitor = NewMonitor(logger)
		opts.OnPose = monitor.Update
	}
	listener := NewListener(opts)
	if monitor != nil {
		monitor.SetStats(listener.Stats)
	}

	if err := listener.subscribe(bus, cfg); err != nil {
		return multierr.Combine(err, client.Close(), bus.Close())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listener.Run(ctx)
	})
	g.Go(func() error {
		waitForSignalOrDone(ctx)
		cancel()
		return nil
	})
	if monitor != nil {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.WebServerPort),
			Handler:           monitor.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Infof("monitor: listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "monitor")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			return server.Shutdown(shutdownCtx)
		})
	}

	runErr := g.Wait()

	logger.Infof("listener: shutting down (%+v)", listener.Stats())
	return multierr.Combine(
		runErr,
		listener.unsubscribe(bus, cfg),
		client.Close(),
		bus.Close(),
	)
}
