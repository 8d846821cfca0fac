package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	v         *viper.Viper
	settings  *Settings
	callbacks []func(*Settings)
}

// NewManager creates a config manager and loads the initial settings.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Settings), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	settings, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.settings = settings

	return cm, nil
}

// initViper sets up viper with defaults and the config file.
func (cm *Manager) initViper(cfgFile string) error {
	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var defaults map[string]any
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	for key, value := range defaults {
		cm.v.SetDefault(key, value)
	}

	// Environment variables with REFEREE_ prefix
	cm.v.SetEnvPrefix("REFEREE")
	cm.v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.referee")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Settings struct.
func (cm *Manager) load() (*Settings, error) {
	var settings Settings
	if err := cm.v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	settings.MinerUAPIToken = ResolveEnvVars(settings.MinerUAPIToken)
	settings.OpenAIAPIKey = ResolveEnvVars(settings.OpenAIAPIKey)
	settings.PaperSearchAPIKey = ResolveEnvVars(settings.PaperSearchAPIKey)
	settings.PaperReadAPIKey = ResolveEnvVars(settings.PaperReadAPIKey)
	return &settings, nil
}

// Get returns the current settings (thread-safe).
func (cm *Manager) Get() *Settings {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.settings
}

// OnChange registers a callback for settings changes.
func (cm *Manager) OnChange(fn func(*Settings)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of the config file.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		settings, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.settings = settings
		callbacks := make([]func(*Settings), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(settings)
		}
	})
	cm.v.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Referee configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export MINERU_API_TOKEN=xxx OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
