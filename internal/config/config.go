// Package config holds process-level configuration and logger setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultPort is the control plane's listen port.
const DefaultPort = 19998

// Config is the resolved process configuration.
type Config struct {
	Port        int
	APISecret   string
	AuthEnabled bool
	Debug       bool

	// DataDir holds the JSON state files.
	DataDir string

	TelegramBotToken string
	TelegramChatID   string

	// MonitorInterval is the availability monitor cadence in seconds.
	MonitorInterval int64
}

// Validate checks invariants that cannot be expressed as flag defaults.
func (c *Config) Validate() error {
	if c.AuthEnabled && c.APISecret == "" {
		return fmt.Errorf("api-secret-key is required when API key auth is enabled")
	}
	return nil
}

// EnsureDirs creates the state directory tree.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, filepath.Join(c.DataDir, "logs")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
