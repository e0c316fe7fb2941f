// Package config loads and persists qget settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds user-tunable configuration for the download manager.
type Settings struct {
	DownloadFolder      string            `yaml:"download_folder"`
	ConcurrentDownloads int               `yaml:"concurrent_downloads"`
	Timeout             time.Duration     `yaml:"timeout"`
	UserAgent           string            `yaml:"user_agent"`
	ProxyURL            string            `yaml:"proxy_url"`
	Headers             map[string]string `yaml:"headers,omitempty"`
}

// Default returns Settings with sensible defaults. The download folder
// falls back to the user's Downloads directory.
func Default() Settings {
	folder := "."
	if home, err := os.UserHomeDir(); err == nil {
		folder = filepath.Join(home, "Downloads")
	}
	return Settings{
		DownloadFolder:      folder,
		ConcurrentDownloads: 5,
		Timeout:             60 * time.Second,
	}
}

// DefaultPath returns the default config file location (~/.qget/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".qget", "config.yaml")
}

// yamlSettings shadows Settings for YAML round-trips; durations travel as
// strings ("30s") which yaml.v3 cannot decode into time.Duration directly.
type yamlSettings struct {
	DownloadFolder      string            `yaml:"download_folder"`
	ConcurrentDownloads int               `yaml:"concurrent_downloads"`
	Timeout             string            `yaml:"timeout"`
	UserAgent           string            `yaml:"user_agent"`
	ProxyURL            string            `yaml:"proxy_url"`
	Headers             map[string]string `yaml:"headers,omitempty"`
}

// Load reads settings from path. A missing file yields defaults without
// error; unset fields are filled from defaults.
func Load(path string) (Settings, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read config file: %w", err)
	}
	var ys yamlSettings
	if err := yaml.Unmarshal(data, &ys); err != nil {
		return Settings{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.DownloadFolder = ys.DownloadFolder
	cfg.ConcurrentDownloads = ys.ConcurrentDownloads
	cfg.UserAgent = ys.UserAgent
	cfg.ProxyURL = ys.ProxyURL
	cfg.Headers = ys.Headers
	if ys.Timeout != "" {
		timeout, err := time.ParseDuration(ys.Timeout)
		if err != nil {
			return Settings{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = timeout
	} else {
		cfg.Timeout = 0
	}
	cfg.DownloadFolder = NormalizeFolder(cfg.DownloadFolder)
	if cfg.DownloadFolder == "" {
		cfg.DownloadFolder = Default().DownloadFolder
	}
	if cfg.ConcurrentDownloads <= 0 {
		cfg.ConcurrentDownloads = Default().ConcurrentDownloads
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = Default().Timeout
	}
	return cfg, nil
}

// Save writes settings to path, creating parent directories as needed.
func (s Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(yamlSettings{
		DownloadFolder:      s.DownloadFolder,
		ConcurrentDownloads: s.ConcurrentDownloads,
		Timeout:             s.Timeout.String(),
		UserAgent:           s.UserAgent,
		ProxyURL:            s.ProxyURL,
		Headers:             s.Headers,
	})
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// NormalizeFolder strips a file:// URL prefix from folder paths pasted out
// of file pickers.
func NormalizeFolder(folder string) string {
	folder = strings.TrimPrefix(folder, "file://")
	return folder
}

// ValidateFolder reports whether folder exists, is a directory, and is
// writable.
func ValidateFolder(folder string) error {
	if folder == "" {
		return fmt.Errorf("download folder is empty")
	}
	info, err := os.Stat(folder)
	if err != nil {
		return fmt.Errorf("download folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("download folder %s is not a directory", folder)
	}
	probe, err := os.CreateTemp(folder, ".qget-probe-*")
	if err != nil {
		return fmt.Errorf("download folder %s is not writable: %w", folder, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
