// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relabs-tech/look_at_pose/internal/geometry"
)

// Source is anything that can provide points of interest over time.
type Source interface {
	Next() (geometry.Point3D, error)
}

type mockSource struct {
	clock   clock.Clock
	start   time.Time
	frameID string
	radius  float64
	height  float64
}

// NewMockSource creates a mock point-of-interest source that circles the
// origin of frameID at the given radius, bobbing around height.
func NewMockSource(clk clock.Clock, frameID string, radius, height float64) Source {
	return &mockSource{
		clock:   clk,
		start:   clk.Now(),
		frameID: frameID,
		radius:  radius,
		height:  height,
	}
}

func (m *mockSource) Next() (geometry.Point3D, error) {
	now := m.clock.Now()
	elapsed := now.Sub(m.start).Seconds()

	return geometry.Point3D{
		Header: geometry.Header{Stamp: now, FrameID: m.frameID},
		Point: geometry.Point{
			X: m.radius * math.Cos(elapsed*0.5),
			Y: m.radius * math.Sin(elapsed*0.5),
			Z: m.height + 0.2*math.Sin(elapsed),
		},
	}, nil
}
