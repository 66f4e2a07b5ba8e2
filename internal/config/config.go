package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultEventBufferSize caps queued change notifications before the
	// watcher starts dropping them.
	DefaultEventBufferSize = 2048
	// DefaultDebounceInterval coalesces bursts of filesystem events on
	// the same path into a single notification.
	DefaultDebounceInterval = 500 * time.Millisecond
)

// Settings holds the process configuration. It is built once at startup
// and passed explicitly to the components that need it.
type Settings struct {
	ListenAddr      string `yaml:"listen_addr"`
	FilesRoot       string `yaml:"files_root"`
	MaxUploadSizeMB int64  `yaml:"max_upload_size_mb"`
	StaticDir       string `yaml:"static_dir"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		ListenAddr:      ":8080",
		FilesRoot:       "./storage",
		MaxUploadSizeMB: 1024,
	}
}

// Load builds Settings from the defaults, an optional YAML file and
// environment overrides, in that order. path may be empty to skip the
// file layer.
func Load(path string) (Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := s.applyEnv(); err != nil {
		return s, err
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// applyEnv overlays environment variables onto the settings.
func (s *Settings) applyEnv() error {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		s.ListenAddr = v
	}
	if v := os.Getenv("FILES_ROOT"); v != "" {
		s.FilesRoot = v
	}
	if v := os.Getenv("MAX_UPLOAD_SIZE_MB"); v != "" {
		mb, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_SIZE_MB %q: %w", v, err)
		}
		s.MaxUploadSizeMB = mb
	}
	if v := os.Getenv("STATIC_DIR"); v != "" {
		s.StaticDir = v
	}
	return nil
}

// Validate fills blank fields with defaults and checks the rest.
func (s *Settings) Validate() error {
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.FilesRoot == "" {
		s.FilesRoot = "./storage"
	}
	if s.MaxUploadSizeMB < 1 {
		return fmt.Errorf("max_upload_size_mb must be at least 1, got %d", s.MaxUploadSizeMB)
	}
	return nil
}

// MaxUploadBytes returns the per-file upload cap in bytes.
func (s Settings) MaxUploadBytes() int64 {
	return s.MaxUploadSizeMB << 20
}
