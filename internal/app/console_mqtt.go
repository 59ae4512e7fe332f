package app

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/relabs-tech/look_at_pose/internal/config"
	"github.com/relabs-tech/look_at_pose/internal/geometry"
	"github.com/relabs-tech/look_at_pose/internal/logging"
	"github.com/relabs-tech/look_at_pose/internal/transport"
)

// pointPrinter prints each point of interest to out.
func pointPrinter(codec transport.Codec, logger logging.Logger, out io.Writer) transport.MessageHandler {
	return func(_ string, payload []byte) {
		var pt geometry.Point3D
		if err := codec.Unmarshal(payload, &pt); err != nil {
			logger.Warnf("console: point unmarshal error: %v", err)
			return
		}
		fmt.Fprintf(out,
			"[POI ]  frame=%s x=%8.3f y=%8.3f z=%8.3f\n",
			pt.Header.FrameID, pt.Point.X, pt.Point.Y, pt.Point.Z,
		)
	}
}

// commandPrinter prints each camera command to out.
func commandPrinter(codec transport.Codec, logger logging.Logger, out io.Writer) transport.MessageHandler {
	return func(_ string, payload []byte) {
		var p geometry.Pose
		if err := codec.Unmarshal(payload, &p); err != nil {
			logger.Warnf("console: camera command unmarshal error: %v", err)
			return
		}
		fmt.Fprintf(out, "[CAM ]  %s\n", FormatPose(p))
	}
}

// subscribeConsole prints every point of interest and camera command seen
// on the bus to out.
func subscribeConsole(cfg *config.Config, bus transport.Bus, codec transport.Codec, logger logging.Logger, out io.Writer) error {
	// Subscribe to points of interest
	if err := bus.Subscribe(cfg.TopicPointOfInterest, pointPrinter(codec, logger, out)); err != nil {
		return errors.Wrapf(err, "subscribe %s", cfg.TopicPointOfInterest)
	}
	logger.Infof("console: subscribed to %s", cfg.TopicPointOfInterest)

	// Subscribe to camera commands
	if err := bus.Subscribe(cfg.TopicCameraCommand, commandPrinter(codec, logger, out)); err != nil {
		return errors.Wrapf(err, "subscribe %s", cfg.TopicCameraCommand)
	}
	logger.Infof("console: subscribed to %s", cfg.TopicCameraCommand)
	return nil
}

// RunConsoleMQTT prints bus traffic until SIGINT or SIGTERM.
func RunConsoleMQTT(cfg *config.Config, logger logging.Logger, out io.Writer) error {
	bus, codec, err := connect(cfg, cfg.MQTTClientIDConsole, logger)
	if err != nil {
		return err
	}
	if err := subscribeConsole(cfg, bus, codec, logger, out); err != nil {
		return multierr.Combine(err, bus.Close())
	}

	waitForSignal()

	logger.Info("console: shutting down")
	return bus.Close()
}
