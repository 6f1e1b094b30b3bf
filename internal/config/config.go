package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultServerPort is the standard Channel Access TCP port.
	DefaultServerPort = 5064
	// DefaultWaitTime bounds how long a batch waits for connectivity.
	DefaultWaitTime = time.Second

	envAddrList   = "EPICS_CA_ADDR_LIST"
	envServerPort = "EPICS_CA_SERVER_PORT"
)

// NetworkConfig lists the Channel Access servers to query.
type NetworkConfig struct {
	AddrList   []string `json:"addr_list"`
	ServerPort int      `json:"server_port"`
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level"`
	LogToFile bool   `json:"log_to_file"`
}

// HistoryConfig controls the local fetch-history database.
type HistoryConfig struct {
	Enabled bool `json:"enabled"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Network NetworkConfig `json:"network"`
	Logging LoggingConfig `json:"logging"`
	History HistoryConfig `json:"history"`
}

// DisplayConfig carries the per-invocation output flags. It is read-only for
// the whole run.
type DisplayConfig struct {
	WaitTime     time.Duration
	Asynchronous bool
	Terse        bool
	Wide         bool
}

func DefaultDisplay() DisplayConfig {
	return DisplayConfig{WaitTime: DefaultWaitTime}
}

func (d DisplayConfig) Validate() error {
	if d.WaitTime <= 0 {
		return errors.New("wait time must be a positive value")
	}
	return nil
}

func Default() AppConfig {
	return AppConfig{
		Network: NetworkConfig{
			AddrList:   nil,
			ServerPort: DefaultServerPort,
		},
		Logging: LoggingConfig{
			Level:     "info",
			LogToFile: false,
		},
		History: HistoryConfig{
			Enabled: false,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyEnvironment()
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()
	cfg.ApplyEnvironment()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Network.ServerPort <= 0 {
		c.Network.ServerPort = DefaultServerPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ApplyEnvironment overrides file settings with the standard EPICS client
// environment variables.
func (c *AppConfig) ApplyEnvironment() {
	if raw, ok := os.LookupEnv(envAddrList); ok {
		addrs := strings.Fields(raw)
		if len(addrs) > 0 {
			c.Network.AddrList = addrs
		}
	}
	if raw, ok := os.LookupEnv(envServerPort); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && port > 0 {
			c.Network.ServerPort = port
		}
	}
}

func (c AppConfig) Validate() error {
	if len(c.Network.AddrList) == 0 {
		return errors.New("no server addresses: set network.addr_list or " + envAddrList)
	}
	if c.Network.ServerPort <= 0 || c.Network.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Network.ServerPort)
	}
	return nil
}

func Save(path string, cfg AppConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config json: %w", err)
	}
	if err := os.WriteFile(filepath.Clean(path), raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
