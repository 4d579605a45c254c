package utils

import (
	"fmt"
	"time"

	"github.com/roadhelp/dispatch-core/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate (empty disables TLS)
	} `yaml:"mqtt"`

	Redis struct {
		Addr string `yaml:"addr"` // Redis address for the location store and job queue
	} `yaml:"redis"`

	Maps struct {
		APIKey string `yaml:"api_key"` // Google Maps API key
	} `yaml:"maps"`

	Identity struct {
		ProviderFile string `yaml:"provider_file"` // Path to the provider identity file
	} `yaml:"identity"`

	// Liveness is shared by the provider-side heartbeat writer and the
	// requester-side discovery TTL check. Keeping both in one block is what
	// stops the two from drifting apart.
	Liveness struct {
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // How often a provider heartbeats
		TTL               time.Duration `yaml:"ttl"`                // Max heartbeat age before a provider counts as offline
	} `yaml:"liveness"`

	Services struct {
		Tracker struct {
			Enabled            bool          `yaml:"enabled"`               // Enable/disable the position tracker
			Topic              string        `yaml:"topic"`                 // MQTT topic for live position publishing
			QOS                int           `yaml:"qos"`                   // MQTT QoS level for position messages
			SampleInterval     time.Duration `yaml:"sample_interval"`       // Interval between provider fix samples
			SmoothingInterval  time.Duration `yaml:"smoothing_interval"`    // Render smoothing tick
			SmoothingBlend     float64       `yaml:"smoothing_blend"`       // Fraction moved toward the target per tick
			AccuracyCeilingM   float64       `yaml:"accuracy_ceiling_m"`    // Reject fixes worse than this once a good fix exists
			MinMovementSpeedMS float64       `yaml:"min_movement_speed_ms"` // Below this speed, bearing-derived heading is noise
			GeocodeMinInterval time.Duration `yaml:"geocode_min_interval"`  // Min time between reverse-geocode calls
			GeocodeMinMoveM    float64       `yaml:"geocode_min_move_m"`    // Min displacement between reverse-geocode calls
			FirstFixTimeout    time.Duration `yaml:"first_fix_timeout"`     // Fall back to last-known after this
			LastKnownFile      string        `yaml:"last_known_file"`       // Where the fallback position is persisted
			SensorBased        bool          `yaml:"sensor_based"`          // Use the serial GPS sensor instead of the geolocation API
			GPSDevicePort      string        `yaml:"gps_device_port"`       // UNIX port where the GPS sensor is mounted
			GPSDeviceBaudRate  int           `yaml:"gps_baud_rate"`         // The baud rate for the GPS sensor
		} `yaml:"tracker"`

		Heartbeat struct {
			Enabled bool   `yaml:"enabled"` // Enable/disable heartbeat writes
			Topic   string `yaml:"topic"`   // MQTT topic heartbeats are mirrored to
			QOS     int    `yaml:"qos"`     // MQTT QoS level for heartbeat messages
		} `yaml:"heartbeat"`

		Discovery struct {
			Enabled      bool          `yaml:"enabled"`       // Enable/disable nearby discovery
			PollInterval time.Duration `yaml:"poll_interval"` // Interval between discovery polls
			RadiusKm     float64       `yaml:"radius_km"`     // Search radius around the requester
		} `yaml:"discovery"`

		Dispatch struct {
			Enabled         bool          `yaml:"enabled"`          // Enable/disable job queue polling
			PollInterval    time.Duration `yaml:"poll_interval"`    // Interval between queue polls
			DeclineCooldown time.Duration `yaml:"decline_cooldown"` // Min time before a declined job may resurface
		} `yaml:"dispatch"`

		RouteMonitor struct {
			Enabled             bool          `yaml:"enabled"`                // Enable/disable route deviation checks
			CheckInterval       time.Duration `yaml:"check_interval"`         // Interval between deviation checks
			DeviationThresholdM float64       `yaml:"deviation_threshold_m"`  // Perpendicular distance that counts as off-route
			MinOffRouteDuration time.Duration `yaml:"min_off_route_duration"` // Continuous deviation required before recalculating
			RecalculateFloor    time.Duration `yaml:"recalculate_floor"`      // Hard minimum between route recalculations
		} `yaml:"route_monitor"`
	} `yaml:"services"`
}

// LoadConfig loads the YAML configuration from the specified file.
// It returns a pointer to the Config struct and an error if loading fails.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate enforces the cross-field invariants the pollers rely on.
func (c *Config) Validate() error {
	if c.Liveness.HeartbeatInterval <= 0 {
		return fmt.Errorf("liveness.heartbeat_interval must be positive")
	}
	if c.Liveness.TTL < 2*c.Liveness.HeartbeatInterval {
		return fmt.Errorf("liveness.ttl (%s) must be at least twice the heartbeat interval (%s), or providers churn between polls",
			c.Liveness.TTL, c.Liveness.HeartbeatInterval)
	}
	if c.Services.Tracker.Enabled && c.Services.Tracker.AccuracyCeilingM <= 0 {
		return fmt.Errorf("tracker.accuracy_ceiling_m must be positive")
	}
	if c.Services.Tracker.Enabled && (c.Services.Tracker.SmoothingBlend <= 0 || c.Services.Tracker.SmoothingBlend > 1) {
		return fmt.Errorf("tracker.smoothing_blend must be in (0,1]")
	}
	if c.Services.Discovery.Enabled && c.Services.Discovery.RadiusKm <= 0 {
		return fmt.Errorf("discovery.radius_km must be positive")
	}
	if c.Services.Dispatch.Enabled && c.Services.Dispatch.DeclineCooldown <= 0 {
		return fmt.Errorf("dispatch.decline_cooldown must be positive")
	}
	if c.Services.RouteMonitor.Enabled && c.Services.RouteMonitor.DeviationThresholdM <= 0 {
		return fmt.Errorf("route_monitor.deviation_threshold_m must be positive")
	}
	return nil
}
