package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/multierr"

	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
)

// TestClientRequest is the hand-written sample call: a camera at the origin
// of ee_frame, already turned by a sample orientation, looking for a point
// below and in front of it.
func TestClientRequest(now time.Time) geometry.LookAtPoseRequest {
	hdr := geometry.Header{Stamp: now, FrameID: "ee_frame"}
	return geometry.LookAtPoseRequest{
		CurrentPose: geometry.Pose{
			Header:      hdr,
			Orientation: geometry.Quaternion{X: 0.39, Y: -0.45, Z: -0.53, W: 0.595},
		},
		TargetPose: geometry.Pose{
			Header:      hdr,
			Position:    geometry.Point{X: 1.13, Y: -0.17, Z: -0.27},
			Orientation: geometry.Identity(),
		},
		UpVector: geometry.Vector3{Header: hdr, X: -0.28, Y: -0.109, Z: -0.95},
	}
}

// CallOnce sends req through solver and reports the result to out.
func CallOnce(ctx context.Context, solver PoseSolver, req geometry.LookAtPoseRequest, out io.Writer) error {
	pose, err := solver.LookAtPose(ctx, req.CurrentPose, req.TargetPose, req.UpVector)
	if err != nil {
		fmt.Fprintf(out, "Service call failed: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "new camera pose: %s\n", FormatPose(pose))
	return nil
}

// FormatPose renders a pose on a single line.
func FormatPose(p geometry.Pose) string {
	o := p.Orientation
	return fmt.Sprintf("frame=%q position=(%.6f, %.6f, %.6f) orientation=(x=%.6f, y=%.6f, z=%.6f, w=%.6f)",
		p.Header.FrameID, p.Position.X, p.Position.Y, p.Position.Z, o.X, o.Y, o.Z, o.W)
}

// RunTestClient makes a single look_at_pose call with the sample request.
func RunTestClient(cfg *config.Config, logger logging.Logger, out io.Writer) (err error) {
	bus, codec, err := connect(cfg, cfg.MQTTClientIDClient, logger)
	if err != nil {
		fmt.Fprintf(out, "Service call failed: %v\n", err)
		return err
	}
	defer func() { err = multierr.Append(err, bus.Close()) }()

	client, err := NewLookAtClient(bus, codec, cfg.ServiceLookAtPose, callTimeout(cfg), logger)
	if err != nil {
		fmt.Fprintf(out, "Service call failed: %v\n", err)
		return err
	}
	defer func() { err = multierr.Append(err, client.Close()) }()

	return CallOnce(context.Background(), client, TestClientRequest(time.Now()), out)
}
