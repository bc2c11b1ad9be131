// Package config loads store settings from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"modelstore/internal/artifacts"
)

// EnvConfig overrides the settings file location.
const EnvConfig = "MODELSTORE_CONFIG"

// SettingsFile is the settings file name inside a store root.
const SettingsFile = "settings.yaml"

// Settings configures a store and the tools around it.
type Settings struct {
	LogLevel        string        `yaml:"log_level"`        // trace, debug, info, warn, off
	ModelExtensions []string      `yaml:"model_extensions"` // lookup order for canonical model files
	IgnorePatterns  []string      `yaml:"ignore_patterns"`  // gitignore-style, applied to StoreLocalFile
	LockTimeout     time.Duration `yaml:"lock_timeout"`     // 0 = wait forever
	RetryAttempts   uint          `yaml:"retry_attempts"`   // for pending transactions
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// Defaults parses the embedded default settings.
func Defaults() Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.DefaultSettings, &s); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return s
}

// ApplyDefaults fills zero-value fields from the embedded defaults.
func (s *Settings) ApplyDefaults() {
	d := Defaults()
	if s.LogLevel == "" {
		s.LogLevel = d.LogLevel
	}
	if s.ModelExtensions == nil {
		s.ModelExtensions = d.ModelExtensions
	}
	if s.IgnorePatterns == nil {
		s.IgnorePatterns = d.IgnorePatterns
	}
	if s.RetryAttempts == 0 {
		s.RetryAttempts = d.RetryAttempts
	}
	if s.RetryDelay == 0 {
		s.RetryDelay = d.RetryDelay
	}
}

// Path returns the settings file used for a store rooted at root.
func Path(root string) string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(root, SettingsFile)
}

// Load reads the settings for root, falling back to the embedded defaults
// when no file exists.
func Load(root string) (*Settings, error) {
	return LoadFromPath(Path(root))
}

// LoadFromPath reads settings from a specific file.
func LoadFromPath(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s := Defaults()
			return &s, nil
		}
		return nil, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	s.ApplyDefaults()
	return &s, nil
}

// Save writes settings to path.
func Save(path string, s *Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	header := []byte("# ModelStore settings\n\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
