package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	AppName   string          `json:"app_name"`
	Version   string          `json:"version"`
	Board     BoardConfig     `json:"board"`
	Heights   HeightsConfig   `json:"heights"`
	Speeds    SpeedsConfig    `json:"speeds"`
	Gripper   GripperConfig   `json:"gripper"`
	ZAxis     ZAxisConfig     `json:"z_axis"`
	Capture   CaptureConfig   `json:"capture_zone"`
	Serial    SerialConfig    `json:"serial"`
	Relay     RelayConfig     `json:"relay"`
	Storage   StorageConfig   `json:"storage"`
	Interface InterfaceConfig `json:"interface"`
}

// Seconds is a delay expressed in (fractional) seconds in the config file
type Seconds float64

// Duration converts the value to a time.Duration
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// BoardConfig describes where the physical board sits in machine coordinates.
// X runs along the ranks (a1 -> a8), Y along the files (a1 -> h1).
type BoardConfig struct {
	SquareSize float64 `json:"square_size"`
	OffsetX    float64 `json:"board_offset_x"`
	OffsetY    float64 `json:"board_offset_y"`
}

// HeightsConfig contains the three Z heights in millimeters
type HeightsConfig struct {
	Safe float64 `json:"z_safe"`
	Grab float64 `json:"z_grab"`
	Lift float64 `json:"z_lift"`
}

// SpeedsConfig contains feed rates in mm/min
type SpeedsConfig struct {
	Travel int `json:"feed_rate_travel"`
	Work   int `json:"feed_rate_work"`
}

// GripperConfig contains the site-specific gripper commands
type GripperConfig struct {
	GrabCommand    string  `json:"grab_command"`
	ReleaseCommand string  `json:"release_command"`
	GrabDelay      Seconds `json:"grab_delay"`
	ReleaseDelay   Seconds `json:"release_delay"`
}

// ZAxisConfig selects how the Z axis is driven. When UpCommand starts with
// G0 or G1 the axis is moved by coordinate, otherwise Up/Down are sent as
// fixed actuator (servo) commands.
type ZAxisConfig struct {
	UpCommand   string  `json:"z_up_command"`
	DownCommand string  `json:"z_down_command"`
	MoveDelay   Seconds `json:"z_move_delay"`
	SettleDelay Seconds `json:"xy_settle_delay"`
}

// CoordinateMode reports whether Z is driven with coordinate moves
func (z ZAxisConfig) CoordinateMode() bool {
	up := strings.ToUpper(strings.TrimSpace(z.UpCommand))
	return strings.HasPrefix(up, "G0") || strings.HasPrefix(up, "G1")
}

// CaptureConfig contains capture storage geometry. Zones flank the board on
// both Y sides, Gap millimeters away from the board edge.
type CaptureConfig struct {
	Gap float64 `json:"gap"`
}

// SerialConfig contains the controller link settings
type SerialConfig struct {
	Port         string  `json:"port"`
	Baud         int     `json:"baud"`
	Simulate     bool    `json:"simulate"`
	StartupDelay Seconds `json:"startup_delay"`
	AckAttempts  int     `json:"ack_attempts"`
	AckInterval  Seconds `json:"ack_interval"`
}

// RelayConfig contains the move relay and gate settings
type RelayConfig struct {
	Path         string  `json:"path"`
	PollInterval Seconds `json:"poll_interval"`
	GateTimeout  Seconds `json:"gate_timeout"`
}

// StorageConfig contains persistent state settings
type StorageConfig struct {
	DBPath string `json:"db_path"`
}

// InterfaceConfig contains logging and debug panel settings
type InterfaceConfig struct {
	LogLevel   string `json:"log_level"`
	LogPath    string `json:"log_path"`
	HTTPListen string `json:"http_listen"`
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	return &Config{
		AppName: "chessarm",
		Version: "1.0.0",
		Board: BoardConfig{
			SquareSize: 50.0,
			OffsetX:    20.0,
			OffsetY:    120.0,
		},
		Heights: HeightsConfig{
			Safe: 50.0,
			Grab: 5.0,
			Lift: 30.0,
		},
		Speeds: SpeedsConfig{
			Travel: 3000,
			Work:   1500,
		},
		Gripper: GripperConfig{
			GrabCommand:    "M3 S1000",
			ReleaseCommand: "M5",
			GrabDelay:      0.5,
			ReleaseDelay:   0.5,
		},
		ZAxis: ZAxisConfig{
			UpCommand:   "M280 P0 S12",
			DownCommand: "M280 P0 S168",
			MoveDelay:   0.5,
			SettleDelay: 1.0,
		},
		Capture: CaptureConfig{
			Gap: 10.0,
		},
		Serial: SerialConfig{
			Port:         "/dev/ttyUSB0",
			Baud:         115200,
			StartupDelay: 2.0,
			AckAttempts:  10,
			AckInterval:  0.1,
		},
		Relay: RelayConfig{
			Path:         "next_move.txt",
			PollInterval: 0.5,
			GateTimeout:  60,
		},
		Storage: StorageConfig{
			DBPath: "data/robot_state.db",
		},
		Interface: InterfaceConfig{
			LogLevel:   "info",
			LogPath:    "logs/chessarm.log",
			HTTPListen: "",
		},
	}
}

// Load reads and parses the configuration file. Fields missing from the
// file keep their default values. The result is not validated, so callers
// can apply overrides first and then call Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the file at path, falling back to DefaultConfig when it
// is missing or unreadable
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Board.SquareSize <= 0 {
		return fmt.Errorf("invalid square size: %.2f", c.Board.SquareSize)
	}
	if c.Board.OffsetX < 0 || c.Board.OffsetY < 0 {
		return fmt.Errorf("board offset must be non-negative: (%.2f, %.2f)", c.Board.OffsetX, c.Board.OffsetY)
	}
	if c.Capture.Gap < 0 {
		return fmt.Errorf("invalid capture gap: %.2f", c.Capture.Gap)
	}

	// the left capture zones hold two columns between Y=0 and the board edge
	if need := c.Capture.Gap + 2*c.Board.SquareSize; c.Board.OffsetY < need {
		return fmt.Errorf("board_offset_y %.2f leaves no room for capture zones (need %.2f)", c.Board.OffsetY, need)
	}

	if c.Heights.Grab >= c.Heights.Lift || c.Heights.Lift > c.Heights.Safe {
		return fmt.Errorf("heights must satisfy grab < lift <= safe (got %.2f/%.2f/%.2f)",
			c.Heights.Grab, c.Heights.Lift, c.Heights.Safe)
	}

	if c.Speeds.Travel <= 0 || c.Speeds.Work <= 0 {
		return fmt.Errorf("feed rates must be positive (travel=%d, work=%d)", c.Speeds.Travel, c.Speeds.Work)
	}

	if c.Gripper.GrabCommand == "" || c.Gripper.ReleaseCommand == "" {
		return fmt.Errorf("gripper grab and release commands are required")
	}
	if c.ZAxis.UpCommand == "" || c.ZAxis.DownCommand == "" {
		return fmt.Errorf("z axis up and down commands are required")
	}
	if c.ZAxis.SettleDelay < 0 || c.ZAxis.MoveDelay < 0 {
		return fmt.Errorf("delays must be non-negative")
	}

	if !c.Serial.Simulate {
		if c.Serial.Port == "" {
			return fmt.Errorf("serial port is required unless simulate is set")
		}
		if c.Serial.Baud <= 0 {
			return fmt.Errorf("invalid baud rate: %d", c.Serial.Baud)
		}
	}
	if c.Serial.AckAttempts < 1 {
		return fmt.Errorf("invalid ack attempts: %d", c.Serial.AckAttempts)
	}
	if c.Serial.AckInterval <= 0 {
		return fmt.Errorf("invalid ack interval: %.3f", float64(c.Serial.AckInterval))
	}

	if c.Relay.Path == "" {
		return fmt.Errorf("relay path is required")
	}
	if c.Relay.PollInterval <= 0 {
		return fmt.Errorf("invalid relay poll interval: %.3f", float64(c.Relay.PollInterval))
	}
	if c.Relay.GateTimeout <= 0 {
		return fmt.Errorf("invalid gate timeout: %.3f", float64(c.Relay.GateTimeout))
	}

	return nil
}

// EnsureDirectories creates the parent directories of every file path in the
// configuration
func (c *Config) EnsureDirectories() error {
	paths := []string{c.Interface.LogPath, c.Storage.DBPath, c.Relay.Path}
	for _, p := range paths {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
