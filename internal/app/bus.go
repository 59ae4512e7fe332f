package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
	"github.com/relabs-tech/look_at_pose/internal/orientation"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

// connect dials the configured broker as clientID and picks the payload codec.
func connect(cfg *config.Config, clientID string, logger logging.Logger) (transport.Bus, transport.Codec, error) {
	codec, err := transport.CodecByName(cfg.PayloadCodec)
	if err != nil {
		return nil, nil, err
	}
	bus, err := transport.DialMQTT(transport.MQTTOptions{
		Broker:   cfg.MQTTBroker,
		ClientID: clientID,
		QoS:      cfg.MQTTQoS,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return bus, codec, nil
}

func newSolver(cfg *config.Config) (*orientation.Solver, error) {
	policy, err := orientation.ParsePositionPolicy(cfg.PositionPolicy)
	if err != nil {
		return nil, err
	}
	if policy == orientation.PositionStandoff {
		return orientation.NewSolver(orientation.WithStandoff(cfg.StandoffDistance)), nil
	}
	return orientation.NewSolver(), nil
}

func callTimeout(cfg *config.Config) time.Duration {
	return time.Duration(cfg.CallTimeout) * time.Millisecond
}

// initialCameraPose is the camera pose assumed before any update arrives.
func initialCameraPose(cfg *config.Config) geometry.Pose {
	p, o := cfg.InitialCameraPosition, cfg.InitialCameraOrientation
	return geometry.Pose{
		Header:      geometry.Header{Stamp: time.Now(), FrameID: cfg.FrameID},
		Position:    geometry.Point{X: p[0], Y: p[1], Z: p[2]},
		Orientation: orientation.ToGeometry(orientation.Normalize(orientation.FromGeometry(geometry.Quaternion{X: o[0], Y: o[1], Z: o[2], W: o[3]}))),
	}
}

func configuredUpVector(cfg *config.Config) geometry.Vector3 {
	u := cfg.UpVector
	return geometry.Vector3{
		Header: geometry.Header{Stamp: time.Now(), FrameID: cfg.FrameID},
		X:      u[0],
		Y:      u[1],
		Z:      u[2],
	}
}

// waitForSignal blocks until Ctrl+C or SIGTERM.
func waitForSignal() {
	waitForSignalOrDone(context.Background())
}

// waitForSignalOrDone blocks until Ctrl+C, SIGTERM or ctx is done.
func waitForSignalOrDone(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}
