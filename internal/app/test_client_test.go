package app

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
	"github.com/relabs-tech/look_at_pose/internal/orientation"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

type failingSolver struct{ err error }

func (s failingSolver) LookAtPose(context.Context, geometry.Pose, geometry.Pose, geometry.Vector3) (geometry.Pose, error) {
	return geometry.Pose{}, s.err
}

func TestCallOnceSampleRequest(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := transport.NewMemoryBus()
	defer bus.Close()
	srv, err := transport.Serve(bus, transport.JSON, service, LookAtErrorCodes, NewLookAtHandler(orientation.NewSolver()), logger)
	test.That(t, err, test.ShouldBeNil)
	defer srv.Close()
	client, err := NewLookAtClient(bus, transport.JSON, service, time.Second, logger)
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()

	req := TestClientRequest(time.Now())
	var out bytes.Buffer
	test.That(t, CallOnce(context.Background(), client, req, &out), test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldStartWith, "new camera pose: ")
	test.That(t, out.String(), test.ShouldContainSubstring, `frame="ee_frame"`)
	test.That(t, out.String(), test.ShouldContainSubstring, "position=(0.000000, 0.000000, 0.000000)")

	// The printed orientation must point the camera at the sample target.
	pose, err := client.LookAtPose(context.Background(), req.CurrentPose, req.TargetPose, req.UpVector)
	test.That(t, err, test.ShouldBeNil)
	fwd := orientation.ForwardAxis(pose.Orientation)
	want := req.TargetPose.Position.Vec().Normalize()
	test.That(t, fwd.Sub(want).Norm(), test.ShouldBeLessThan, 1e-6)

	// The camera starts turned away from identity; only its position
	// matters to the answer.
	test.That(t, req.CurrentPose.Orientation, test.ShouldResemble, geometry.Quaternion{X: 0.39, Y: -0.45, Z: -0.53, W: 0.595})
	test.That(t, req.TargetPose.Orientation, test.ShouldResemble, geometry.Identity())
	identity := req.CurrentPose
	identity.Orientation = geometry.Identity()
	same, err := client.LookAtPose(context.Background(), identity, req.TargetPose, req.UpVector)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same.Orientation, test.ShouldResemble, pose.Orientation)
}

func TestCallOnceReportsFailure(t *testing.T) {
	var out bytes.Buffer
	err := CallOnce(context.Background(), failingSolver{err: errors.Wrap(transport.ErrTimeout, "call look_at_pose")},
		TestClientRequest(time.Now()), &out)
	test.That(t, errors.Is(err, transport.ErrTimeout), test.ShouldBeTrue)
	test.That(t, strings.HasPrefix(out.String(), "Service call failed: "), test.ShouldBeTrue)
}

func TestCallOnceWithoutService(t *testing.T) {
	bus := transport.NewMemoryBus()
	defer bus.Close()
	client, err := NewLookAtClient(bus, transport.JSON, service, 20*time.Millisecond, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()

	var out bytes.Buffer
	err = CallOnce(context.Background(), client, TestClientRequest(time.Now()), &out)
	test.That(t, errors.Is(err, transport.ErrTimeout), test.ShouldBeTrue)
	test.That(t, out.String(), test.ShouldContainSubstring, "Service call failed")
}
