// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geometry holds the stamped message types exchanged between the
// point-of-interest listener, the look-at service and the camera.
package geometry

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrMalformedMessage is returned when a decoded message carries missing,
// NaN or infinite fields.
var ErrMalformedMessage = errors.New("malformed message")

// Header is the stamp and reference frame carried by every message.
type Header struct {
	Stamp   time.Time `json:"stamp" cbor:"stamp"`
	FrameID string    `json:"frame_id" cbor:"frame_id"`
}

// Point is a bare 3D position.
type Point struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
	Z float64 `json:"z" cbor:"z"`
}

// Vec returns the point as an r3 vector.
func (p Point) Vec() r3.Vector {
	return r3.Vector{X: p.X, Y: p.Y, Z: p.Z}
}

// PointFromVec converts an r3 vector back into a Point.
func PointFromVec(v r3.Vector) Point {
	return Point{X: v.X, Y: v.Y, Z: v.Z}
}

// Point3D is a stamped point of interest, as published on the
// pt_of_interest topic.
type Point3D struct {
	Header Header `json:"header" cbor:"header"`
	Point  Point  `json:"point" cbor:"point"`
}

// Validate rejects NaN and infinite coordinates.
func (p Point3D) Validate() error {
	if !finite(p.Point.X, p.Point.Y, p.Point.Z) {
		return errors.Wrapf(ErrMalformedMessage, "point of interest has non-finite coordinates %+v", p.Point)
	}
	return nil
}

// Quaternion is a rotation stored as x, y, z, w.
type Quaternion struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
	Z float64 `json:"z" cbor:"z"`
	W float64 `json:"w" cbor:"w"`
}

// Identity is the zero rotation.
func Identity() Quaternion {
	return Quaternion{W: 1}
}

// Norm is the euclidean length of the four components.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Pose is a stamped position and orientation.
type Pose struct {
	Header      Header     `json:"header" cbor:"header"`
	Position    Point      `json:"position" cbor:"position"`
	Orientation Quaternion `json:"orientation" cbor:"orientation"`
}

// Validate rejects NaN and infinite fields. The orientation of an
// incoming pose is not required to be normalized.
func (p Pose) Validate() error {
	if !finite(p.Position.X, p.Position.Y, p.Position.Z) {
		return errors.Wrapf(ErrMalformedMessage, "pose position has non-finite values %+v", p.Position)
	}
	o := p.Orientation
	if !finite(o.X, o.Y, o.Z, o.W) {
		return errors.Wrapf(ErrMalformedMessage, "pose orientation has non-finite values %+v", o)
	}
	return nil
}

// Vector3 is a stamped direction, used for the camera up vector.
type Vector3 struct {
	Header Header  `json:"header" cbor:"header"`
	X      float64 `json:"x" cbor:"x"`
	Y      float64 `json:"y" cbor:"y"`
	Z      float64 `json:"z" cbor:"z"`
}

// Vec returns the direction as an r3 vector.
func (v Vector3) Vec() r3.Vector {
	return r3.Vector{X: v.X, Y: v.Y, Z: v.Z}
}

// Validate rejects non-finite and zero-length directions.
func (v Vector3) Validate() error {
	if !finite(v.X, v.Y, v.Z) {
		return errors.Wrapf(ErrMalformedMessage, "vector has non-finite values (%v, %v, %v)", v.X, v.Y, v.Z)
	}
	if v.X == 0 && v.Y == 0 && v.Z == 0 {
		return errors.Wrap(ErrMalformedMessage, "vector has zero length")
	}
	return nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
