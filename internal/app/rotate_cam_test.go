package app

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
	"github.com/relabs-tech/look_at_pose/internal/orientation"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

const (
	poiTopic = "pt_of_interest"
	cmdTopic = "camera/pose_cmd"
	service  = "look_at_pose"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type blockingSolver struct {
	calls   chan geometry.Pose
	release chan struct{}
}

func (s *blockingSolver) LookAtPose(ctx context.Context, current, target geometry.Pose, _ geometry.Vector3) (geometry.Pose, error) {
	s.calls <- target
	select {
	case <-s.release:
	case <-ctx.Done():
		return geometry.Pose{}, ctx.Err()
	}
	return geometry.Pose{Header: target.Header, Position: current.Position, Orientation: geometry.Identity()}, nil
}

type recordingActuator struct {
	mu    sync.Mutex
	poses []geometry.Pose
}

func (a *recordingActuator) Actuate(_ context.Context, p geometry.Pose) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poses = append(a.poses, p)
	return nil
}

func (a *recordingActuator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.poses)
}

func point(x, y, z float64) geometry.Point3D {
	return geometry.Point3D{
		Header: geometry.Header{Stamp: time.Now(), FrameID: "ee_frame"},
		Point:  geometry.Point{X: x, Y: y, Z: z},
	}
}

func startListener(t *testing.T, l *Listener) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		test.That(t, l.Run(ctx), test.ShouldBeNil)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestListenerDropsWhileBusy(t *testing.T) {
	solver := &blockingSolver{calls: make(chan geometry.Pose, 4), release: make(chan struct{})}
	actuator := &recordingActuator{}
	l := NewListener(ListenerOptions{
		Solver:      solver,
		Actuator:    actuator,
		Codec:       transport.JSON,
		Initial:     geometry.Pose{Orientation: geometry.Identity()},
		Up:          geometry.Vector3{Z: 1},
		CallTimeout: 5 * time.Second,
		Logger:      logging.NewTestLogger(t),
	})
	startListener(t, l)

	test.That(t, l.Offer(point(1, 0, 0)), test.ShouldBeTrue)
	first := <-solver.calls
	test.That(t, first.Position.X, test.ShouldEqual, 1.0)

	test.That(t, l.Offer(point(2, 0, 0)), test.ShouldBeFalse)
	test.That(t, l.Offer(point(3, 0, 0)), test.ShouldBeFalse)

	close(solver.release)
	waitFor(t, "first actuation", func() bool { return actuator.count() == 1 })
	waitFor(t, "worker to go idle", func() bool { return !l.busy.Load() })

	test.That(t, l.Offer(point(4, 0, 0)), test.ShouldBeTrue)
	next := <-solver.calls
	test.That(t, next.Position.X, test.ShouldEqual, 4.0)
	waitFor(t, "second actuation", func() bool { return actuator.count() == 2 })

	select {
	case extra := <-solver.calls:
		t.Fatalf("dropped point reached the solver: %+v", extra.Position)
	default:
	}
	stats := l.Stats()
	test.That(t, stats.Dropped, test.ShouldEqual, uint64(2))
	test.That(t, stats.Solved, test.ShouldEqual, uint64(2))
	test.That(t, stats.Failed, test.ShouldEqual, uint64(0))
}

func TestListenerMalformedPoints(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	actuator := &recordingActuator{}
	l := NewListener(ListenerOptions{
		Solver:      &blockingSolver{calls: make(chan geometry.Pose, 1), release: make(chan struct{})},
		Actuator:    actuator,
		Codec:       transport.CBOR,
		Initial:     geometry.Pose{Orientation: geometry.Identity()},
		Up:          geometry.Vector3{Z: 1},
		CallTimeout: time.Second,
		Logger:      logger,
	})

	l.HandlePoint(poiTopic, []byte("not cbor at all"))

	nan, err := transport.CBOR.Marshal(point(math.NaN(), 0, 0))
	test.That(t, err, test.ShouldBeNil)
	l.HandlePoint(poiTopic, nan)

	stats := l.Stats()
	test.That(t, stats.Received, test.ShouldEqual, uint64(2))
	test.That(t, stats.Malformed, test.ShouldEqual, uint64(2))
	test.That(t, l.busy.Load(), test.ShouldBeFalse)
	test.That(t, logs.FilterMessageSnippet("unmarshal error").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessageSnippet("dropping point").Len(), test.ShouldEqual, 1)
}

func TestListenerCameraPoseUpdates(t *testing.T) {
	l := NewListener(ListenerOptions{
		Codec:   transport.JSON,
		Initial: geometry.Pose{Orientation: geometry.Identity()},
		Logger:  logging.NewTestLogger(t),
	})
	moved := geometry.Pose{
		Header:      geometry.Header{FrameID: "ee_frame"},
		Position:    geometry.Point{X: 0.5, Y: 0.25},
		Orientation: geometry.Identity(),
	}
	payload, err := transport.JSON.Marshal(moved)
	test.That(t, err, test.ShouldBeNil)

	l.HandleCameraPose("camera/pose", payload)
	test.That(t, l.CurrentPose().Position, test.ShouldResemble, moved.Position)

	l.HandleCameraPose("camera/pose", []byte("{"))
	test.That(t, l.CurrentPose().Position, test.ShouldResemble, moved.Position)
}

func TestListenerIgnoresCameraPoseInOtherFrame(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	initial := geometry.Pose{Header: geometry.Header{FrameID: "ee_frame"}, Orientation: geometry.Identity()}
	l := NewListener(ListenerOptions{Codec: transport.JSON, Initial: initial, Logger: logger})

	elsewhere := geometry.Pose{
		Header:      geometry.Header{FrameID: "world"},
		Position:    geometry.Point{X: 3},
		Orientation: geometry.Identity(),
	}
	payload, err := transport.JSON.Marshal(elsewhere)
	test.That(t, err, test.ShouldBeNil)
	l.HandleCameraPose("camera/pose", payload)
	test.That(t, l.CurrentPose(), test.ShouldResemble, initial)
	test.That(t, logs.FilterMessageSnippet(`ignoring camera pose in frame "world"`).Len(), test.ShouldEqual, 1)

	// an unset frame is taken to be the configured one
	elsewhere.Header.FrameID = ""
	payload, err = transport.JSON.Marshal(elsewhere)
	test.That(t, err, test.ShouldBeNil)
	l.HandleCameraPose("camera/pose", payload)
	test.That(t, l.CurrentPose().Position.X, test.ShouldEqual, 3.0)
}

func TestListenerUnsubscribesEverything(t *testing.T) {
	cfg := config.Default()
	cfg.TopicCameraPose = "camera/pose"
	bus := transport.NewMemoryBus()
	defer bus.Close()

	l := NewListener(ListenerOptions{
		Codec:   transport.JSON,
		Initial: geometry.Pose{Header: geometry.Header{FrameID: cfg.FrameID}, Orientation: geometry.Identity()},
		Logger:  logging.NewTestLogger(t),
	})
	test.That(t, l.subscribe(bus, cfg), test.ShouldBeNil)

	ctx := context.Background()
	publishPose := func(x float64) {
		payload, err := transport.JSON.Marshal(geometry.Pose{Position: geometry.Point{X: x}, Orientation: geometry.Identity()})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, bus.Publish(ctx, cfg.TopicCameraPose, payload), test.ShouldBeNil)
	}
	publishPose(1)
	test.That(t, l.CurrentPose().Position.X, test.ShouldEqual, 1.0)

	test.That(t, l.unsubscribe(bus, cfg), test.ShouldBeNil)
	publishPose(2)
	test.That(t, l.CurrentPose().Position.X, test.ShouldEqual, 1.0)

	payload, err := transport.JSON.Marshal(point(1, 0, 0))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Publish(ctx, cfg.TopicPointOfInterest, payload), test.ShouldBeNil)
	test.That(t, l.Stats().Received, test.ShouldEqual, uint64(0))
}

// harness wires a listener to a real look_at_pose service over a MemoryBus.
type harness struct {
	bus      *transport.MemoryBus
	listener *Listener
	monitor  *Monitor
	commands chan geometry.Pose
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	bus := transport.NewMemoryBus()
	codec := transport.JSON

	srv, err := transport.Serve(bus, codec, service, LookAtErrorCodes, NewLookAtHandler(orientation.NewSolver()), logger)
	test.That(t, err, test.ShouldBeNil)
	client, err := NewLookAtClient(bus, codec, service, time.Second, logger)
	test.That(t, err, test.ShouldBeNil)

	h := &harness{bus: bus, monitor: NewMonitor(logger), commands: make(chan geometry.Pose, 8)}
	test.That(t, bus.Subscribe(cmdTopic, func(_ string, payload []byte) {
		var p geometry.Pose
		test.That(t, codec.Unmarshal(payload, &p), test.ShouldBeNil)
		h.commands <- p
	}), test.ShouldBeNil)

	h.listener = NewListener(ListenerOptions{
		Solver:   client,
		Actuator: NewBusActuator(bus, codec, cmdTopic),
		Codec:    codec,
		Initial: geometry.Pose{
			Header:      geometry.Header{FrameID: "ee_frame"},
			Orientation: geometry.Identity(),
		},
		Up:          geometry.Vector3{Header: geometry.Header{FrameID: "ee_frame"}, Z: 1},
		CallTimeout: time.Second,
		OnPose:      h.monitor.Update,
		Logger:      logger,
	})
	h.monitor.SetStats(h.listener.Stats)
	test.That(t, bus.Subscribe(poiTopic, h.listener.HandlePoint), test.ShouldBeNil)
	startListener(t, h.listener)

	t.Cleanup(func() {
		test.That(t, client.Close(), test.ShouldBeNil)
		test.That(t, srv.Close(), test.ShouldBeNil)
		test.That(t, bus.Close(), test.ShouldBeNil)
	})
	return h
}

func (h *harness) publish(t *testing.T, pt geometry.Point3D) {
	t.Helper()
	payload, err := transport.JSON.Marshal(pt)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.bus.Publish(context.Background(), poiTopic, payload), test.ShouldBeNil)
}

func (h *harness) nextCommand(t *testing.T) geometry.Pose {
	t.Helper()
	select {
	case p := <-h.commands:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no camera command")
		return geometry.Pose{}
	}
}

func TestListenerEndToEnd(t *testing.T) {
	h := newHarness(t)

	h.publish(t, point(1, 0, 0))
	cmd := h.nextCommand(t)

	test.That(t, cmd.Header.FrameID, test.ShouldEqual, "ee_frame")
	test.That(t, cmd.Position, test.ShouldResemble, geometry.Point{})
	q := cmd.Orientation
	test.That(t, q.X, test.ShouldAlmostEqual, 0.5, 1e-9)
	test.That(t, q.Y, test.ShouldAlmostEqual, -0.5, 1e-9)
	test.That(t, q.Z, test.ShouldAlmostEqual, -0.5, 1e-9)
	test.That(t, q.W, test.ShouldAlmostEqual, 0.5, 1e-9)

	waitFor(t, "pose to be recorded", func() bool { return h.listener.Stats().Solved == 1 })
	test.That(t, h.listener.CurrentPose().Orientation, test.ShouldResemble, q)
}

func TestListenerSurvivesDegenerateInput(t *testing.T) {
	h := newHarness(t)

	h.publish(t, point(1, 0, 0))
	before := h.nextCommand(t)
	waitFor(t, "first solve", func() bool { return h.listener.Stats().Solved == 1 && !h.listener.busy.Load() })

	// Straight up is parallel to the up vector.
	h.publish(t, point(0, 0, 2))
	waitFor(t, "degenerate failure", func() bool { return h.listener.Stats().Failed == 1 && !h.listener.busy.Load() })
	test.That(t, h.listener.CurrentPose().Orientation, test.ShouldResemble, before.Orientation)

	h.publish(t, point(0, 1, 0))
	after := h.nextCommand(t)
	fwd := orientation.ForwardAxis(after.Orientation)
	test.That(t, fwd.Y, test.ShouldAlmostEqual, 1.0, 1e-9)
}

func TestLookAtServiceErrorsCrossTheBus(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := transport.NewMemoryBus()
	srv, err := transport.Serve(bus, transport.CBOR, service, LookAtErrorCodes, NewLookAtHandler(orientation.NewSolver()), logger)
	test.That(t, err, test.ShouldBeNil)
	defer srv.Close()
	client, err := NewLookAtClient(bus, transport.CBOR, service, time.Second, logger)
	test.That(t, err, test.ShouldBeNil)
	defer client.Close()

	ctx := context.Background()
	camera := geometry.Pose{Orientation: geometry.Identity()}
	up := geometry.Vector3{Z: 1}

	_, err = client.LookAtPose(ctx, camera, geometry.Pose{Position: geometry.Point{Z: 3}}, up)
	test.That(t, errors.Is(err, orientation.ErrDegenerateInput), test.ShouldBeTrue)

	_, err = client.LookAtPose(ctx, camera, camera, up)
	test.That(t, errors.Is(err, orientation.ErrInvalidInput), test.ShouldBeTrue)

	_, err = client.LookAtPose(ctx, camera, geometry.Pose{Position: geometry.Point{X: math.Inf(1)}}, up)
	test.That(t, errors.Is(err, geometry.ErrMalformedMessage), test.ShouldBeTrue)

	var remote *transport.RemoteError
	test.That(t, errors.As(err, &remote), test.ShouldBeTrue)
	test.That(t, remote.Code, test.ShouldEqual, "malformed_message")

	pose, err := client.LookAtPose(ctx, camera, geometry.Pose{Position: geometry.Point{X: 1}}, up)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Orientation.Norm(), test.ShouldAlmostEqual, 1.0, 1e-9)
}
