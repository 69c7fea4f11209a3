package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/peder1981/lanchat/internal/storage"
)

// Config holds the application configuration loaded from TOML.
type Config struct {
	Discovery DiscoveryConfig `toml:"discovery"`
	Chat      ChatConfig      `toml:"chat"`
	Log       LogConfig       `toml:"log"`
	UI        UIConfig        `toml:"ui"`
}

// DiscoveryConfig holds the UDP presence protocol settings.
type DiscoveryConfig struct {
	// ReceivePort and SendPort differ only when two instances share a host.
	ReceivePort      int    `toml:"receivePort"`
	SendPort         int    `toml:"sendPort"`
	BroadcastAddress string `toml:"broadcastAddress"`

	// NegotiationTimeout is how long a name claim waits for a rebuttal.
	NegotiationTimeout Duration `toml:"negotiationTimeout"`
}

// ChatConfig holds the TCP chat settings.
type ChatConfig struct {
	Port        int      `toml:"port"`
	PeerPort    int      `toml:"peerPort"`
	DialTimeout Duration `toml:"dialTimeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	// File receives the log when the terminal UI owns stdout/stderr.
	File string `toml:"file"`
}

// UIConfig holds front end settings.
type UIConfig struct {
	// Mode is "tui" for the tview interface or "line" for plain stdin/stdout.
	Mode      string `toml:"mode"`
	AliasFile string `toml:"aliasFile"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewDefaultConfig returns a Config populated with default values.
func NewDefaultConfig() Config {
	return Config{
		Discovery: DiscoveryConfig{
			ReceivePort:        2050,
			SendPort:           2050,
			BroadcastAddress:   "255.255.255.255",
			NegotiationTimeout: Duration{3 * time.Second},
		},
		Chat: ChatConfig{
			Port:        2500,
			PeerPort:    2500,
			DialTimeout: Duration{5 * time.Second},
		},
		Log: LogConfig{
			Level: "info",
		},
		UI: UIConfig{
			Mode: "tui",
		},
	}
}

// DefaultConfigPath returns the XDG default path for the config file.
func DefaultConfigPath() (string, error) {
	dir := storage.ConfigDir()
	if dir == "" {
		return "", errors.New("no config directory: neither XDG_CONFIG_HOME nor HOME is set")
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the configuration from the given path (TOML).
// If path is empty, it uses the XDG default. Missing file returns defaults.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return &cfg, nil
		}
		path = defaultPath
	}
	if info, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	} else if info.IsDir() {
		return &cfg, nil
	}
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	for name, port := range map[string]int{
		"discovery.receivePort": c.Discovery.ReceivePort,
		"discovery.sendPort":    c.Discovery.SendPort,
		"chat.port":             c.Chat.Port,
		"chat.peerPort":         c.Chat.PeerPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s: port %d out of range", name, port)
		}
	}
	if _, err := c.BroadcastAddr(); err != nil {
		return err
	}
	if c.Discovery.NegotiationTimeout.Duration <= 0 {
		return errors.New("discovery.negotiationTimeout must be positive")
	}
	if c.Chat.DialTimeout.Duration <= 0 {
		return errors.New("chat.dialTimeout must be positive")
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.UI.Mode {
	case "tui", "line":
	default:
		return fmt.Errorf("ui.mode: unknown mode %q", c.UI.Mode)
	}
	return nil
}

// BroadcastAddr parses discovery.broadcastAddress as an IPv4 address.
func (c *Config) BroadcastAddr() (netip.Addr, error) {
	addr, err := netip.ParseAddr(c.Discovery.BroadcastAddress)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("discovery.broadcastAddress: %w", err)
	}
	if !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("discovery.broadcastAddress: %s is not IPv4", addr)
	}
	return addr, nil
}

// LogLevel maps log.level to a slog level.
func (c *Config) LogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level: unknown level %q", c.Log.Level)
}

// LocalPair rewires ports so two instances can run on one machine. Instance
// 1 receives discovery on 2502 and sends to 2501, instance 2 the reverse;
// chat ports are crossed the same way.
func (c *Config) LocalPair(instance int) {
	switch instance {
	case 1:
		c.Discovery.SendPort, c.Discovery.ReceivePort = 2501, 2502
		c.Chat.Port, c.Chat.PeerPort = 2511, 2512
	case 2:
		c.Discovery.SendPort, c.Discovery.ReceivePort = 2502, 2501
		c.Chat.Port, c.Chat.PeerPort = 2512, 2511
	}
}
