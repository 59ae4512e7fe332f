package app

import (
	"context"

	"github.com/pkg/errors"

	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

// Actuator moves the camera to a solved pose.
type Actuator interface {
	Actuate(ctx context.Context, pose geometry.Pose) error
}

// BusActuator hands poses to the camera driver by publishing them on its
// command topic.
type BusActuator struct {
	bus   transport.Bus
	codec transport.Codec
	topic string
}

// NewBusActuator publishes commands on topic.
func NewBusActuator(bus transport.Bus, codec transport.Codec, topic string) *BusActuator {
	return &BusActuator{bus: bus, codec: codec, topic: topic}
}

// Actuate publishes pose as a camera command.
func (a *BusActuator) Actuate(ctx context.Context, pose geometry.Pose) error {
	payload, err := a.codec.Marshal(pose)
	if err != nil {
		return errors.Wrap(err, "encode camera command")
	}
	return a.bus.Publish(ctx, a.topic, payload)
}
