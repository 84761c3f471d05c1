// Package config loads daemon.toml: network, transport, and plugin
// settings, plus the ambient logging/paths sections a real daemon needs.
// Priority: environment variables > config file > built-in defaults.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/cosmic-connect/cconnectd/internal/transport"
)

// Config is the full contents of daemon.toml.
type Config struct {
	Network NetworkConfig `toml:"network"`
	Transport TransportConfig `toml:"transport"`
	Plugins PluginsConfig `toml:"plugins"`
	Log     LogConfig     `toml:"log"`
	Paths   PathsConfig   `toml:"paths"`
}

// NetworkConfig covers discovery timing.
type NetworkConfig struct {
	DiscoveryPort     uint16 `toml:"discovery_port"`
	DiscoveryInterval int    `toml:"discovery_interval"`
	DeviceTimeout     int    `toml:"device_timeout"`
}

// TransportConfig covers which link types are enabled and how they're
// selected.
type TransportConfig struct {
	EnableTCP         bool   `toml:"enable_tcp"`
	EnableBluetooth   bool   `toml:"enable_bluetooth"`
	Preference        string `toml:"preference"`
	AutoFallback      bool   `toml:"auto_fallback"`
	TCPTimeoutSecs       int `toml:"tcp_timeout_secs"`
	BluetoothTimeoutSecs int `toml:"bluetooth_timeout_secs"`
}

// PluginsConfig is a per-kind enable gate, written in daemon.toml as
// [plugins] followed by bare "<kind> = true/false" entries (the spec's
// plugins.enable_<kind> options, flattened under the plugins table).
// Disabled kinds neither instantiate nor advertise their capabilities.
type PluginsConfig map[string]bool

// LogConfig covers the ambient logging concern every daemon needs, not
// named by the core spec but present in every real deployment.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// PathsConfig holds the [paths] config/data directory overrides. They are
// parsed with the rest of the file, but cmd/cconnectd does not read them:
// its data directory comes from the -data-dir flag.
type PathsConfig struct {
	ConfigDir string `toml:"config_dir"`
	DataDir   string `toml:"data_dir"`
}

// Default returns a Config with every field at its spec-mandated default.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			DiscoveryPort:     1716,
			DiscoveryInterval: 5,
			DeviceTimeout:     30,
		},
		Transport: TransportConfig{
			EnableTCP:            true,
			EnableBluetooth:      false,
			Preference:           "prefer_tcp",
			AutoFallback:         true,
			TCPTimeoutSecs:       10,
			BluetoothTimeoutSecs: 10,
		},
		Plugins: PluginsConfig{
			"ping": true, "battery": true, "share": true, "clipboard": true,
			"notification": true, "remoteinput": true, "mpris": true,
			"power": true, "contacts": true, "telephony": true, "remotedesktop": true,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads configPath (if non-empty) over the defaults, then applies
// environment variable overrides, giving env > file > defaults, with
// CLI-flag precedence layered on top by the rest of the daemon.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse daemon.toml: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CCONNECTD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CCONNECTD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("CCONNECTD_CONFIG_DIR"); v != "" {
		cfg.Paths.ConfigDir = v
	}
	if v := os.Getenv("CCONNECTD_DATA_DIR"); v != "" {
		cfg.Paths.DataDir = v
	}
	if v := os.Getenv("CCONNECTD_DISCOVERY_PORT"); v != "" {
		var port uint16
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Network.DiscoveryPort = port
		}
	}
}

// Validate rejects configurations the daemon cannot safely start with.
func (c *Config) Validate() error {
	if c.Network.DiscoveryPort == 0 {
		return fmt.Errorf("network.discovery_port must be non-zero")
	}
	if c.Network.DiscoveryInterval <= 0 {
		return fmt.Errorf("network.discovery_interval must be positive")
	}
	if c.Network.DeviceTimeout <= 0 {
		return fmt.Errorf("network.device_timeout must be positive")
	}
	if !c.Transport.EnableTCP && !c.Transport.EnableBluetooth {
		return fmt.Errorf("at least one transport must be enabled")
	}
	if _, err := c.TransportPreference(); err != nil {
		return err
	}
	return nil
}

// TransportPreference parses the TOML preference string into the
// transport package's enum.
func (c *Config) TransportPreference() (transport.Preference, error) {
	switch c.Transport.Preference {
	case "prefer_tcp":
		return transport.PreferTCP, nil
	case "prefer_bluetooth":
		return transport.PreferBluetooth, nil
	case "tcp_first":
		return transport.TCPFirst, nil
	case "bluetooth_first":
		return transport.BluetoothFirst, nil
	case "only_tcp":
		return transport.OnlyTCP, nil
	case "only_bluetooth":
		return transport.OnlyBluetooth, nil
	default:
		return 0, fmt.Errorf("unknown transport.preference %q", c.Transport.Preference)
	}
}
