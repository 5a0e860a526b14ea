// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/imu_bridge/internal/orientation"
	"github.com/relabs-tech/imu_bridge/internal/telemetry"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker           string
	MQTTClientIDProducer string
	MQTTClientIDBNO055   string
	MQTTClientIDGPS      string
	MQTTClientIDConsole  string
	MQTTClientIDWeb      string

	// Topics
	TopicIMU    string
	TopicBNO055 string
	TopicGPS    string

	// Frame ids stamped on outgoing headers
	FrameIDIMU    string
	FrameIDBNO055 string
	FrameIDGPS    string

	// Publishing and fusion
	MaxFrequencyHz    float64 // 0 disables throttling
	GPSMaxFrequencyHz float64
	FusionIdleSleepMS int
	AngleWrap         string // "legacy" or "bidirectional"

	// Platform sensor source: "mock" or "mpu9250"
	IMUSource    string
	IMUSPIDevice string
	IMUCSPin     string

	// IMU Sensor Ranges
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange byte
	// Gyroscope: 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s
	IMUGyroRange byte

	// Per-stream sample intervals, milliseconds
	AccelIntervalMS       int
	GyroIntervalMS        int
	OrientationIntervalMS int

	// External fused IMU (BNO055 bridge)
	BNO055Transport       string // "serial" or "hidraw"
	BNO055Device          string
	BNO055BaudRate        int
	BNO055ReadSize        int
	TelemetryByteOrder    string // "little" or "big"
	TelemetryFraming      string // "fixed", "crlf", "report", or empty for the transport's default
	DeviceRetryDelayMS    int
	DeviceMaxRetryDelayMS int

	// GPS
	GPSSerialPort string
	GPSBaudRate   int

	// Monitors
	ConsoleLogInterval int // milliseconds
	WebServerPort      int

	// Observability
	MetricsAddr string
	LogLevel    string
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

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		MQTTBroker:           "tcp://localhost:1883",
		MQTTClientIDProducer: "imu-bridge-producer",
		MQTTClientIDBNO055:   "imu-bridge-bno055",
		MQTTClientIDGPS:      "imu-bridge-gps",
		MQTTClientIDConsole:  "imu-bridge-console",
		MQTTClientIDWeb:      "imu-bridge-web",

		TopicIMU:    "imu_data",
		TopicBNO055: "bno055/imu/data",
		TopicGPS:    "gps/fix",

		FrameIDIMU:    "imu",
		FrameIDBNO055: "imu",
		FrameIDGPS:    "gps",

		MaxFrequencyHz:    100,
		GPSMaxFrequencyHz: 10,
		FusionIdleSleepMS: 1,
		AngleWrap:         "legacy",

		IMUSource:    "mock",
		IMUSPIDevice: "/dev/spidev0.0",
		IMUCSPin:     "GPIO8",

		AccelIntervalMS:       5,
		GyroIntervalMS:        5,
		OrientationIntervalMS: 5,

		BNO055Transport:       "hidraw",
		BNO055BaudRate:        115200,
		BNO055ReadSize:        64,
		TelemetryByteOrder:    "little",
		TelemetryFraming:      "",
		DeviceRetryDelayMS:    500,
		DeviceMaxRetryDelayMS: 30000,

		GPSSerialPort: "/dev/serial0",
		GPSBaudRate:   9600,

		ConsoleLogInterval: 500,
		WebServerPort:      8080,

		MetricsAddr: ":9102",
		LogLevel:    "info",
	}
}

// Load reads the configuration file on top of Default() and validates it.
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
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFrequency(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %v", key, v)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	const maxMS = 24 * 60 * 60 * 1000

	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_PRODUCER":
		c.MQTTClientIDProducer = value
	case "MQTT_CLIENT_ID_BNO055":
		c.MQTTClientIDBNO055 = value
	case "MQTT_CLIENT_ID_GPS":
		c.MQTTClientIDGPS = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value

	// Topics
	case "TOPIC_IMU":
		c.TopicIMU = value
	case "TOPIC_BNO055":
		c.TopicBNO055 = value
	case "TOPIC_GPS":
		c.TopicGPS = value

	// Frame ids
	case "FRAME_ID_IMU":
		c.FrameIDIMU = value
	case "FRAME_ID_BNO055":
		c.FrameIDBNO055 = value
	case "FRAME_ID_GPS":
		c.FrameIDGPS = value

	// Publishing and fusion
	case "MAX_FREQUENCY_HZ":
		c.MaxFrequencyHz, err = parseFrequency(key, value)
	case "GPS_MAX_FREQUENCY_HZ":
		c.GPSMaxFrequencyHz, err = parseFrequency(key, value)
	case "FUSION_IDLE_SLEEP_MS":
		c.FusionIdleSleepMS, err = parseInt(key, value, 1, 1000)
	case "ANGLE_WRAP":
		c.AngleWrap = value

	// Platform source
	case "IMU_SOURCE":
		c.IMUSource = strings.ToLower(value)
	case "IMU_SPI_DEVICE":
		c.IMUSPIDevice = value
	case "IMU_CS_PIN":
		c.IMUCSPin = value
	case "IMU_ACCEL_RANGE":
		var v int
		v, err = parseInt(key, value, 0, 3)
		c.IMUAccelRange = byte(v)
	case "IMU_GYRO_RANGE":
		var v int
		v, err = parseInt(key, value, 0, 3)
		c.IMUGyroRange = byte(v)
	case "ACCEL_INTERVAL_MS":
		c.AccelIntervalMS, err = parseInt(key, value, 1, maxMS)
	case "GYRO_INTERVAL_MS":
		c.GyroIntervalMS, err = parseInt(key, value, 1, maxMS)
	case "ORIENTATION_INTERVAL_MS":
		c.OrientationIntervalMS, err = parseInt(key, value, 1, maxMS)

	// External fused IMU
	case "BNO055_TRANSPORT":
		c.BNO055Transport = strings.ToLower(value)
	case "BNO055_DEVICE":
		c.BNO055Device = value
	case "BNO055_BAUD_RATE":
		c.BNO055BaudRate, err = parseInt(key, value, 1, 4_000_000)
	case "BNO055_READ_SIZE":
		c.BNO055ReadSize, err = parseInt(key, value, 1, 65536)
	case "TELEMETRY_BYTE_ORDER":
		c.TelemetryByteOrder = value
	case "TELEMETRY_FRAMING":
		c.TelemetryFraming = strings.ToLower(value)
	case "DEVICE_RETRY_DELAY_MS":
		c.DeviceRetryDelayMS, err = parseInt(key, value, 1, maxMS)
	case "DEVICE_MAX_RETRY_DELAY_MS":
		c.DeviceMaxRetryDelayMS, err = parseInt(key, value, 1, maxMS)

	// GPS
	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		c.GPSBaudRate, err = parseInt(key, value, 1, 4_000_000)

	// Monitors
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = parseInt(key, value, 0, maxMS)
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 1, 65535)

	// Observability
	case "METRICS_ADDR":
		c.MetricsAddr = value
	case "LOG_LEVEL":
		c.LogLevel = value

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks required fields and the enumerated values.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	for key, topic := range map[string]string{
		"TOPIC_IMU":    c.TopicIMU,
		"TOPIC_BNO055": c.TopicBNO055,
		"TOPIC_GPS":    c.TopicGPS,
	} {
		if topic == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	for key, id := range map[string]string{
		"FRAME_ID_IMU":    c.FrameIDIMU,
		"FRAME_ID_BNO055": c.FrameIDBNO055,
		"FRAME_ID_GPS":    c.FrameIDGPS,
	} {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	if _, err := orientation.ParseWrapPolicy(c.AngleWrap); err != nil {
		return fmt.Errorf("ANGLE_WRAP: %w", err)
	}
	switch c.IMUSource {
	case "mock", "mpu9250":
	default:
		return fmt.Errorf("IMU_SOURCE must be mock or mpu9250, got %q", c.IMUSource)
	}
	switch c.BNO055Transport {
	case "serial", "hidraw":
	default:
		return fmt.Errorf("BNO055_TRANSPORT must be serial or hidraw, got %q", c.BNO055Transport)
	}
	if c.BNO055Transport == "serial" && c.BNO055Device == "" {
		return fmt.Errorf("BNO055_DEVICE is required for the serial transport")
	}
	if _, err := telemetry.ParseByteOrder(c.TelemetryByteOrder); err != nil {
		return fmt.Errorf("TELEMETRY_BYTE_ORDER: %w", err)
	}
	if _, err := telemetry.ParseFraming(c.TelemetryFraming); err != nil {
		return fmt.Errorf("TELEMETRY_FRAMING: %w", err)
	}
	// hidraw returns one padded report per read, never a byte stream.
	switch framing := c.Framing(); {
	case c.BNO055Transport == telemetry.TransportHIDRaw && framing != telemetry.FramingReport:
		return fmt.Errorf("TELEMETRY_FRAMING=%s does not work with hidraw reports; use report or leave it empty", framing)
	case c.BNO055Transport == telemetry.TransportSerial && framing == telemetry.FramingReport:
		return fmt.Errorf("TELEMETRY_FRAMING=report needs BNO055_TRANSPORT=hidraw")
	}
	if c.BNO055Transport == telemetry.TransportHIDRaw && c.BNO055ReadSize < telemetry.RecordSize {
		return fmt.Errorf("BNO055_READ_SIZE must hold a whole %d-byte record for hidraw, got %d",
			telemetry.RecordSize, c.BNO055ReadSize)
	}
	if c.DeviceMaxRetryDelayMS < c.DeviceRetryDelayMS {
		return fmt.Errorf("DEVICE_MAX_RETRY_DELAY_MS (%d) is below DEVICE_RETRY_DELAY_MS (%d)",
			c.DeviceMaxRetryDelayMS, c.DeviceRetryDelayMS)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Wrap returns the parsed ANGLE_WRAP policy.
func (c *Config) Wrap() orientation.WrapPolicy {
	p, _ := orientation.ParseWrapPolicy(c.AngleWrap)
	return p
}

// Framing returns TELEMETRY_FRAMING, or the BNO055 transport's default
// when it is empty.
func (c *Config) Framing() telemetry.Framing {
	if strings.TrimSpace(c.TelemetryFraming) == "" {
		return telemetry.DefaultFraming(c.BNO055Transport)
	}
	f, _ := telemetry.ParseFraming(c.TelemetryFraming)
	return f
}

// ReaderConfig returns the device read loop settings.
func (c *Config) ReaderConfig() telemetry.ReaderConfig {
	return telemetry.ReaderConfig{
		ReadSize:      c.BNO055ReadSize,
		RetryDelay:    Millis(c.DeviceRetryDelayMS),
		MaxRetryDelay: Millis(c.DeviceMaxRetryDelayMS),
	}
}

// ApplyLogLevel sets the logrus level from LOG_LEVEL.
func (c *Config) ApplyLogLevel() {
	if lvl, err := log.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
}

// Millis converts a millisecond setting to a Duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
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
