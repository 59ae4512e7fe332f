// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/relabs-tech/look_at_pose/internal/geometry"
)

var (
	// ErrDegenerateInput is returned when the up vector is parallel to the
	// viewing direction, leaving the camera roll undefined.
	ErrDegenerateInput = errors.New("degenerate input")
	// ErrInvalidInput is returned when the target coincides with the camera
	// or the inputs are expressed in different frames.
	ErrInvalidInput = errors.New("invalid input")
)

const (
	// minTargetDistance is the shortest camera-to-target distance that still
	// defines a viewing direction.
	minTargetDistance = 1e-9
	// parallelTolerance bounds |forward x up| for unit vectors, i.e. the sine
	// of the angle between them.
	parallelTolerance = 1e-6
	// unitTolerance bounds how far a solved orientation may drift from
	// unit norm.
	unitTolerance = 1e-6
)

// PositionPolicy selects where the solved camera is placed.
type PositionPolicy int

const (
	// PositionFixed keeps the camera where it is and only re-orients it.
	PositionFixed PositionPolicy = iota
	// PositionStandoff moves the camera along the viewing ray so that it
	// sits at the configured distance from the target.
	PositionStandoff
)

func (p PositionPolicy) String() string {
	switch p {
	case PositionFixed:
		return "fixed"
	case PositionStandoff:
		return "standoff"
	default:
		return "unknown"
	}
}

// ParsePositionPolicy maps "fixed" and "standoff" to their policy.
func ParsePositionPolicy(s string) (PositionPolicy, error) {
	switch s {
	case "", "fixed":
		return PositionFixed, nil
	case "standoff":
		return PositionStandoff, nil
	default:
		return PositionFixed, errors.Errorf("unknown position policy %q (want fixed or standoff)", s)
	}
}

// Solver computes camera poses that look at a target point. It holds no
// mutable state and is safe for concurrent use.
type Solver struct {
	clock    clock.Clock
	policy   PositionPolicy
	standoff float64
}

// Option configures a Solver.
type Option func(*Solver)

// WithClock sets the clock used to stamp solved poses.
func WithClock(c clock.Clock) Option {
	return func(s *Solver) {
		s.clock = c
	}
}

// WithStandoff switches the solver to PositionStandoff with the given
// camera-to-target distance.
func WithStandoff(distance float64) Option {
	return func(s *Solver) {
		s.policy = PositionStandoff
		s.standoff = distance
	}
}

// NewSolver returns a solver that keeps the camera position fixed unless
// configured otherwise.
func NewSolver(opts ...Option) *Solver {
	s := &Solver{
		clock:  clock.New(),
		policy: PositionFixed,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy reports the position policy in use.
func (s *Solver) Policy() PositionPolicy {
	return s.policy
}

// Solve returns a pose whose forward axis (local -Z) points from the
// camera at target and whose up axis (local +Y) lies in the plane of
// forward and up. The result keeps the current pose's frame and is
// stamped with the time of the call.
//
// All three inputs must be expressed in the same frame; no transform is
// applied.
func (s *Solver) Solve(current geometry.Pose, target geometry.Point3D, up geometry.Vector3) (geometry.Pose, error) {
	if err := current.Validate(); err != nil {
		return geometry.Pose{}, errors.Wrap(err, "current pose")
	}
	if err := target.Validate(); err != nil {
		return geometry.Pose{}, errors.Wrap(err, "target")
	}
	if err := up.Validate(); err != nil {
		return geometry.Pose{}, errors.Wrap(err, "up vector")
	}
	frameID, err := commonFrame(current.Header.FrameID, target.Header.FrameID, up.Header.FrameID)
	if err != nil {
		return geometry.Pose{}, err
	}

	forward, dist := between(current.Position.Vec(), target.Point.Vec())
	if dist < minTargetDistance {
		return geometry.Pose{}, errors.Wrapf(ErrInvalidInput, "target %+v coincides with camera position", target.Point)
	}

	upDir, _ := direction(up.Vec())
	side := forward.Cross(upDir)
	if side.Norm() < parallelTolerance {
		return geometry.Pose{}, errors.Wrapf(ErrDegenerateInput,
			"up vector (%v, %v, %v) is parallel to the viewing direction", up.X, up.Y, up.Z)
	}
	right := side.Normalize()
	trueUp := right.Cross(forward)

	rot := ToGeometry(fromBasis(right, trueUp, forward.Mul(-1)))

	position := current.Position
	if s.policy == PositionStandoff {
		position = geometry.PointFromVec(target.Point.Vec().Sub(forward.Mul(s.standoff)))
	}

	result := geometry.Pose{
		Header: geometry.Header{
			Stamp:   s.clock.Now(),
			FrameID: frameID,
		},
		Position:    position,
		Orientation: rot,
	}
	if err := result.Validate(); err != nil {
		return geometry.Pose{}, errors.Wrapf(ErrInvalidInput, "camera pose out of range: %v", err)
	}
	if math.Abs(rot.Norm()-1) > unitTolerance {
		return geometry.Pose{}, errors.Wrapf(ErrInvalidInput, "orientation %+v is not a unit quaternion", rot)
	}
	return result, nil
}

// direction returns v scaled to unit length together with its length.
// Components are divided by the largest magnitude first, so coordinates
// near the float64 limit do not overflow the squared norm.
func direction(v r3.Vector) (r3.Vector, float64) {
	m := math.Max(math.Abs(v.X), math.Max(math.Abs(v.Y), math.Abs(v.Z)))
	if m == 0 {
		return r3.Vector{}, 0
	}
	scaled := r3.Vector{X: v.X / m, Y: v.Y / m, Z: v.Z / m}
	n := scaled.Norm()
	return scaled.Mul(1 / n), n * m
}

// between returns the unit direction and the distance from a to b. The
// difference is taken on scaled coordinates, so b-a may exceed the float64
// range; the distance is then +Inf.
func between(a, b r3.Vector) (r3.Vector, float64) {
	m := 0.0
	for _, c := range []float64{a.X, a.Y, a.Z, b.X, b.Y, b.Z} {
		m = math.Max(m, math.Abs(c))
	}
	if m == 0 {
		return r3.Vector{}, 0
	}
	d := r3.Vector{X: b.X/m - a.X/m, Y: b.Y/m - a.Y/m, Z: b.Z/m - a.Z/m}
	dir, n := direction(d)
	return dir, n * m
}

// commonFrame returns the single non-empty frame id among ids, or an error
// if two of them differ.
func commonFrame(ids ...string) (string, error) {
	frame := ""
	for _, id := range ids {
		if id == "" {
			continue
		}
		if frame == "" {
			frame = id
			continue
		}
		if id != frame {
			return "", errors.Wrapf(ErrInvalidInput, "inputs are in different frames (%q vs %q)", frame, id)
		}
	}
	return frame, nil
}
