package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileOverlay is the optional YAML configuration layered on top of the
// environment. It carries the list-shaped settings that are awkward to
// maintain in environment variables.
type FileOverlay struct {
	AllowedOrigins      []string `yaml:"allowed_origins"`
	AllowedHostSuffixes []string `yaml:"allowed_host_suffixes"`
	BypassSubjects      []string `yaml:"bypass_subjects"`
	BlockedSubjects     []string `yaml:"blocked_subjects"`
	SystemPrompt        string   `yaml:"system_prompt"`
}

// LoadOverlayFromFile loads a FileOverlay from a YAML file.
func LoadOverlayFromFile(path string) (*FileOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var overlay FileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &overlay, nil
}

// Apply merges the overlay into cfg. Non-empty overlay values replace the
// corresponding environment-derived values; empty ones leave them untouched.
func (o *FileOverlay) Apply(cfg *Config) {
	if len(o.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = o.AllowedOrigins
	}
	if len(o.AllowedHostSuffixes) > 0 {
		cfg.AllowedHostSuffixes = o.AllowedHostSuffixes
	}
	if len(o.BypassSubjects) > 0 {
		cfg.BypassSubjects = o.BypassSubjects
	}
	if len(o.BlockedSubjects) > 0 {
		cfg.BlockedSubjects = o.BlockedSubjects
	}
	if o.SystemPrompt != "" {
		cfg.SystemPrompt = o.SystemPrompt
	}
}
