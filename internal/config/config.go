// Package config handles daemon configuration file management.
package config

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/austinkregel/local-media/jukeboxd/internal/jukebox"
)

// FileName is the configuration file inside the config directory.
const FileName = "config.json"

// Config represents the daemon configuration
type Config struct {
	// DataDir holds queue state and the analysis cache. Defaults to the
	// config directory.
	DataDir string `json:"dataDir,omitempty"`

	Audio    AudioConfig    `json:"audio"`
	Behavior BehaviorConfig `json:"behavior"`
	Analysis AnalysisConfig `json:"analysis"`
	Web      WebConfig      `json:"web"`

	// Jukebox is nil until settings are first saved.
	Jukebox *jukebox.Settings `json:"jukebox,omitempty"`
}

// AudioConfig contains audio-related settings
type AudioConfig struct {
	SampleRate    int     `json:"sampleRate"`
	BufferSizeMs  int     `json:"bufferSizeMs"`
	DefaultVolume float64 `json:"defaultVolume"`

	// TickMs is the position sampling interval that feeds the jukebox.
	TickMs int `json:"tickMs"`
}

// BehaviorConfig contains behavior-related settings
type BehaviorConfig struct {
	// ResumeOnStart plays the queue's current item when the daemon starts.
	ResumeOnStart bool `json:"resumeOnStart"`

	// RememberQueue persists the queue across restarts.
	RememberQueue bool `json:"rememberQueue"`

	// JukeboxOnStart enables the jukebox at startup.
	JukeboxOnStart bool `json:"jukeboxOnStart"`
}

// AnalysisConfig locates track analyses.
type AnalysisConfig struct {
	// ServiceURL is the base URL of the analysis service; empty disables it.
	ServiceURL string `json:"serviceUrl,omitempty"`
	Token      string `json:"token,omitempty"`
	TimeoutSec int    `json:"timeoutSec"`

	// CacheDir defaults to DataDir.
	CacheDir string `json:"cacheDir,omitempty"`

	// SidecarSuffix is appended to an audio file's path to find a local
	// analysis next to it.
	SidecarSuffix string `json:"sidecarSuffix"`
}

// WebConfig configures the WebSocket bridge.
type WebConfig struct {
	// ListenAddr empty disables the bridge.
	ListenAddr string `json:"listenAddr,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:    44100,
			BufferSizeMs:  100,
			DefaultVolume: 1.0,
			TickMs:        50,
		},
		Behavior: BehaviorConfig{
			RememberQueue: true,
		},
		Analysis: AnalysisConfig{
			TimeoutSec:    15,
			SidecarSuffix: ".analysis.json",
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	if c.Jukebox != nil {
		s := *c.Jukebox
		out.Jukebox = &s
	}
	return &out
}

// Manager handles loading and saving configuration. It is safe for
// concurrent use.
type Manager struct {
	configDir  string
	configPath string

	mu     sync.RWMutex
	config *Config
	// lastData is what the file held after our last load or save, so the
	// watcher can ignore our own writes.
	lastData []byte
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, FileName),
		config:     DefaultConfig(),
	}
}

// Load reads the configuration, writing the defaults if none exists.
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		m.mu.Lock()
		m.config = DefaultConfig()
		m.mu.Unlock()
		return m.Save()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := parse(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.lastData = data
	m.mu.Unlock()
	return nil
}

// parse decodes data over the defaults so missing sections keep them.
func parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Jukebox != nil {
		s := cfg.Jukebox.Normalize()
		cfg.Jukebox = &s
	}
	return cfg, nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write through a temp file so the watcher never reads a partial file.
	tmp := m.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, m.configPath); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	m.lastData = data
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Clone()
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update replaces the configuration and saves it
func (m *Manager) Update(config *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = config.Clone()
	return m.saveLocked()
}

// DataDir returns the configured data directory, defaulting to the config
// directory.
func (m *Manager) DataDir() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config.DataDir != "" {
		return m.config.DataDir
	}
	return m.configDir
}

// LoadJukeboxSettings implements jukebox.SettingsStore.
func (m *Manager) LoadJukeboxSettings() (jukebox.Settings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config.Jukebox == nil {
		return jukebox.DefaultSettings(), false, nil
	}
	return *m.config.Jukebox, true, nil
}

// SaveJukeboxSettings implements jukebox.SettingsStore.
func (m *Manager) SaveJukeboxSettings(s jukebox.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Jukebox = &s
	return m.saveLocked()
}

// watchDebounce coalesces the burst of events editors produce per save.
const watchDebounce = 150 * time.Millisecond

// Watch reloads the file when it changes on disk and passes the new
// configuration to fn. Writes made through the Manager are not reported.
// It returns when ctx is done.
func (m *Manager) Watch(ctx context.Context, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and Save replace the file by rename.
	if err := watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.configDir, err)
	}

	logger := log.With().Str("component", "config").Logger()
	var debounce <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(watchDebounce)
			}

		case <-debounce:
			debounce = nil
			cfg, changed, err := m.reload()
			if err != nil {
				logger.Warn().Err(err).Msg("ignoring invalid config change")
				continue
			}
			if changed {
				logger.Info().Str("path", m.configPath).Msg("config reloaded")
				fn(cfg)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

// reload re-reads the file; changed is false when it matches what the
// Manager last loaded or wrote.
func (m *Manager) reload() (*Config, bool, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if bytes.Equal(data, m.lastData) {
		return nil, false, nil
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, false, err
	}
	m.config = cfg
	m.lastData = data
	return cfg.Clone(), true, nil
}
