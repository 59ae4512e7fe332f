package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/a8m/envsubst"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTQoS              byte
	MQTTClientIDListener string
	MQTTClientIDService  string
	MQTTClientIDClient   string
	MQTTClientIDProducer string
	MQTTClientIDConsole  string

	// Topics and services
	TopicPointOfInterest string
	TopicCameraPose      string // optional; empty keeps the configured initial pose
	TopicCameraCommand   string
	ServiceLookAtPose    string
	PayloadCodec         string // "json" or "cbor"

	// Camera
	FrameID                  string
	InitialCameraPosition    [3]float64
	InitialCameraOrientation [4]float64 // x, y, z, w
	UpVector                 [3]float64

	// Solver
	PositionPolicy   string  // "fixed" or "standoff"
	StandoffDistance float64 // meters, used by "standoff"

	// Timing
	CallTimeout      int // milliseconds
	ProducerInterval int // milliseconds

	// Mock producer
	ProducerRadius float64
	ProducerHeight float64

	// Web Server
	WebServerPort int // 0 disables the pose monitor

	// Logging
	LogLevel string
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex protects concurrent access. Write lock for initialization,
//     read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		MQTTBroker:           "tcp://localhost:1883",
		MQTTQoS:              1,
		MQTTClientIDListener: "rotate-cam-listener",
		MQTTClientIDService:  "look-at-pose-service",
		MQTTClientIDClient:   "look-at-pose-test-client",
		MQTTClientIDProducer: "poi-producer-mock",
		MQTTClientIDConsole:  "look-at-pose-console",

		TopicPointOfInterest: "pt_of_interest",
		TopicCameraCommand:   "camera/pose_cmd",
		ServiceLookAtPose:    "look_at_pose",
		PayloadCodec:         "json",

		FrameID:                  "ee_frame",
		InitialCameraOrientation: [4]float64{0, 0, 0, 1},
		UpVector:                 [3]float64{0, 0, 1},

		PositionPolicy: "fixed",

		CallTimeout:      2000,
		ProducerInterval: 1000,

		ProducerRadius: 1.0,
		ProducerHeight: 0.5,

		LogLevel: "info",
	}
}

// Load reads the configuration file on top of Default and returns it.
// Values may reference environment variables as $VAR or ${VAR}.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value, err := envsubst.String(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("config line %d: expand %q: %w", lineNum, parts[1], err)
		}

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_QOS":
		qos, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MQTT_QOS %q: %w", value, err)
		}
		if qos < 0 || qos > 2 {
			return fmt.Errorf("MQTT_QOS must be 0-2, got %d", qos)
		}
		c.MQTTQoS = byte(qos)
	case "MQTT_CLIENT_ID_LISTENER":
		c.MQTTClientIDListener = value
	case "MQTT_CLIENT_ID_SERVICE":
		c.MQTTClientIDService = value
	case "MQTT_CLIENT_ID_CLIENT":
		c.MQTTClientIDClient = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value

	// Topics and services
	case "TOPIC_POINT_OF_INTEREST":
		c.TopicPointOfInterest = value
	case "TOPIC_CAMERA_POSE":
		c.TopicCameraPose = value
	case "TOPIC_CAMERA_COMMAND":
		c.TopicCameraCommand = value
	case "SERVICE_LOOK_AT_POSE":
		c.ServiceLookAtPose = value
	case "PAYLOAD_CODEC":
		c.PayloadCodec = value

	// Camera
	case "FRAME_ID":
		c.FrameID = value
	case "INITIAL_CAMERA_POSITION":
		v, err := parseFloats(value, 3)
		if err != nil {
			return fmt.Errorf("invalid INITIAL_CAMERA_POSITION %q: %w", value, err)
		}
		copy(c.InitialCameraPosition[:], v)
	case "INITIAL_CAMERA_ORIENTATION":
		v, err := parseFloats(value, 4)
		if err != nil {
			return fmt.Errorf("invalid INITIAL_CAMERA_ORIENTATION %q: %w", value, err)
		}
		copy(c.InitialCameraOrientation[:], v)
	case "UP_VECTOR":
		v, err := parseFloats(value, 3)
		if err != nil {
			return fmt.Errorf("invalid UP_VECTOR %q: %w", value, err)
		}
		copy(c.UpVector[:], v)

	// Solver
	case "POSITION_POLICY":
		c.PositionPolicy = value
	case "STANDOFF_DISTANCE":
		d, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid STANDOFF_DISTANCE %q: %w", value, err)
		}
		c.StandoffDistance = d

	// Timing
	case "CALL_TIMEOUT":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CALL_TIMEOUT %q: %w", value, err)
		}
		c.CallTimeout = ms
	case "PRODUCER_INTERVAL":
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PRODUCER_INTERVAL %q: %w", value, err)
		}
		c.ProducerInterval = ms

	// Mock producer
	case "PRODUCER_RADIUS":
		r, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PRODUCER_RADIUS %q: %w", value, err)
		}
		c.ProducerRadius = r
	case "PRODUCER_HEIGHT":
		h, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PRODUCER_HEIGHT %q: %w", value, err)
		}
		c.ProducerHeight = h

	// Web Server
	case "WEB_SERVER_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid WEB_SERVER_PORT %q: %w", value, err)
		}
		c.WebServerPort = port

	// Logging
	case "LOG_LEVEL":
		c.LogLevel = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// parseFloats parses exactly n comma-separated numbers.
func parseFloats(value string, n int) ([]float64, error) {
	parts := strings.Split(value, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("want %d comma-separated numbers, got %d", n, len(parts))
	}
	out := make([]float64, n)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Validate checks that all required fields are set and consistent.
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicPointOfInterest == "" {
		return fmt.Errorf("TOPIC_POINT_OF_INTEREST is required")
	}
	if c.TopicCameraCommand == "" {
		return fmt.Errorf("TOPIC_CAMERA_COMMAND is required")
	}
	if c.ServiceLookAtPose == "" {
		return fmt.Errorf("SERVICE_LOOK_AT_POSE is required")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("CALL_TIMEOUT must be positive, got %d", c.CallTimeout)
	}
	if c.ProducerInterval <= 0 {
		return fmt.Errorf("PRODUCER_INTERVAL must be positive, got %d", c.ProducerInterval)
	}
	if !finite(c.UpVector[:]...) {
		return fmt.Errorf("UP_VECTOR must be finite, got %v", c.UpVector)
	}
	if !finite(c.InitialCameraPosition[:]...) {
		return fmt.Errorf("INITIAL_CAMERA_POSITION must be finite, got %v", c.InitialCameraPosition)
	}
	if !finite(c.InitialCameraOrientation[:]...) {
		return fmt.Errorf("INITIAL_CAMERA_ORIENTATION must be finite, got %v", c.InitialCameraOrientation)
	}
	if math.IsNaN(c.StandoffDistance) || math.IsInf(c.StandoffDistance, 0) {
		return fmt.Errorf("STANDOFF_DISTANCE must be finite, got %v", c.StandoffDistance)
	}
	if c.UpVector == [3]float64{} {
		return fmt.Errorf("UP_VECTOR must not be zero")
	}
	o := c.InitialCameraOrientation
	if math.Sqrt(o[0]*o[0]+o[1]*o[1]+o[2]*o[2]+o[3]*o[3]) == 0 {
		return fmt.Errorf("INITIAL_CAMERA_ORIENTATION must not be zero")
	}
	switch c.PayloadCodec {
	case "json", "cbor":
	default:
		return fmt.Errorf("PAYLOAD_CODEC must be json or cbor, got %q", c.PayloadCodec)
	}
	switch c.PositionPolicy {
	case "fixed":
	case "standoff":
		if c.StandoffDistance <= 0 {
			return fmt.Errorf("STANDOFF_DISTANCE must be positive with POSITION_POLICY=standoff")
		}
	default:
		return fmt.Errorf("POSITION_POLICY must be fixed or standoff, got %q", c.PositionPolicy)
	}
	if c.WebServerPort < 0 || c.WebServerPort > 65535 {
		return fmt.Errorf("WEB_SERVER_PORT must be 0-65535, got %d", c.WebServerPort)
	}
	return nil
}

// InitGlobal initializes the global configuration from file, or from
// Default when configPath is empty.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		if configPath == "" {
			globalConfig = Default()
			return
		}
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
