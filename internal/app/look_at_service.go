// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
	"github.com/relabs-tech/look_at_pose/internal/orientation"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

// LookAtErrorCodes are the reply codes of the look_at_pose service.
var LookAtErrorCodes = transport.ErrorCodes{
	"degenerate_input":  orientation.ErrDegenerateInput,
	"invalid_input":     orientation.ErrInvalidInput,
	"malformed_message": geometry.ErrMalformedMessage,
}

// PoseSolver computes a camera pose that looks at a target.
type PoseSolver interface {
	LookAtPose(ctx context.Context, current, target geometry.Pose, up geometry.Vector3) (geometry.Pose, error)
}

// NewLookAtHandler answers look_at_pose requests with solver.
func NewLookAtHandler(solver *orientation.Solver) transport.Handler {
	return func(_ context.Context, decode func(v any) error) (any, error) {
		var req geometry.LookAtPoseRequest
		if err := decode(&req); err != nil {
			return nil, errors.Wrapf(geometry.ErrMalformedMessage, "decode look_at_pose request: %v", err)
		}
		if err := req.TargetPose.Validate(); err != nil {
			return nil, errors.Wrap(err, "target pose")
		}
		target := geometry.Point3D{Header: req.TargetPose.Header, Point: req.TargetPose.Position}
		pose, err := solver.Solve(req.CurrentPose, target, req.UpVector)
		if err != nil {
			return nil, err
		}
		return geometry.LookAtPoseResponse{NewCamPose: pose}, nil
	}
}

// LookAtClient calls the look_at_pose service over the bus.
type LookAtClient struct {
	rpc *transport.Client
}

// NewLookAtClient prepares calls to service on bus.
func NewLookAtClient(bus transport.Bus, codec transport.Codec, service string, timeout time.Duration, logger logging.Logger) (*LookAtClient, error) {
	rpc, err := transport.NewClient(bus, codec, service, timeout, LookAtErrorCodes, logger)
	if err != nil {
		return nil, err
	}
	return &LookAtClient{rpc: rpc}, nil
}

// LookAtPose sends one request and waits for the new camera pose.
func (c *LookAtClient) LookAtPose(ctx context.Context, current, target geometry.Pose, up geometry.Vector3) (geometry.Pose, error) {
	req := geometry.LookAtPoseRequest{CurrentPose: current, TargetPose: target, UpVector: up}
	var resp geometry.LookAtPoseResponse
	if err := c.rpc.Call(ctx, req, &resp); err != nil {
		return geometry.Pose{}, err
	}
	return resp.NewCamPose, nil
}

// Close stops listening for replies.
func (c *LookAtClient) Close() error {
	return c.rpc.Close()
}

// RunLookAtService serves look_at_pose until SIGINT or SIGTERM.
func RunLookAtService(cfg *config.Config, logger logging.Logger) error {
	solver, err := newSolver(cfg)
	if err != nil {
		return err
	}
	bus, codec, err := connect(cfg, cfg.MQTTClientIDService, logger)
	if err != nil {
		return err
	}

	srv, err := transport.Serve(bus, codec, cfg.ServiceLookAtPose, LookAtErrorCodes, NewLookAtHandler(solver), logger)
	if err != nil {
		return multierr.Combine(err, bus.Close())
	}
	logger.Infof("look_at_pose: ready (policy=%s, codec=%s)", solver.Policy(), codec.Name())

	waitForSignal()

	logger.Info("look_at_pose: shutting down")
	return multierr.Combine(srv.Close(), bus.Close())
}
