package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version   int             `yaml:"version"`
	Sequencer SequencerConfig `yaml:"sequencer"`
	Driver    DriverConfig    `yaml:"driver"`
	Ignore    IgnoreConfig    `yaml:"ignore"`
	Modules   ModulesConfig   `yaml:"modules"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
}

// SequencerConfig selects and opens the sequencer backend
type SequencerConfig struct {
	Backend    string `yaml:"backend"` // alsa, virtual
	Device     string `yaml:"device,omitempty"`
	ClientName string `yaml:"client_name"`
	// Launch runs LaunchCommand before attaching
	Launch        bool     `yaml:"launch"`
	LaunchCommand []string `yaml:"launch_command,omitempty"`
}

// DriverConfig tunes the driver and the consumer loop
type DriverConfig struct {
	QueueCapacity   int      `yaml:"queue_capacity"`
	ProcessInterval Duration `yaml:"process_interval"`
	AttachTimeout   Duration `yaml:"attach_timeout"`
	DetachTimeout   Duration `yaml:"detach_timeout"`
}

// IgnoreConfig lists endpoints never shown
type IgnoreConfig struct {
	Clients []string `yaml:"clients,omitempty"` // glob patterns on client names
	Ports   []string `yaml:"ports,omitempty"`   // client:port addresses
}

// ModulesConfig holds module grouping preferences
type ModulesConfig struct {
	// Split forces (true) or forbids (false) separate input and output
	// modules for a client, by client name
	Split map[string]bool `yaml:"split,omitempty"`
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds journal settings. An empty path disables the journal.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds delta publication settings. An empty address disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Channel  string `yaml:"channel"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Verbosity int `yaml:"verbosity"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
