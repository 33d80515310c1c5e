package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/protect-init/pkg/health"
	"github.com/cuemby/protect-init/pkg/installer"
	"github.com/cuemby/protect-init/pkg/state"
	"github.com/cuemby/protect-init/pkg/storage"
	"gopkg.in/yaml.v3"
)

const (
	DefaultStartupConfigPath = "/config/StartupConfiguration.ini"
	DefaultConnectorsDir     = "/opt/eset/RemoteAdministrator/Server/setup/"
	DefaultModulesDir        = "/data/modules"
	DefaultServerBinary      = "/opt/eset/RemoteAdministrator/Server/ERAServer"
	DefaultSecretsDir        = "/run/secrets"
	DefaultProductName       = "Server"
)

// Config holds the entrypoint's own paths and timings. Product settings
// (database, certificates, ...) are resolved separately by pkg/settings.
type Config struct {
	ConfigFile        string   `yaml:"config_file"`
	StartupConfigPath string   `yaml:"startup_config_path"`
	InstallerScript   string   `yaml:"installer_script"`
	CustomActions     string   `yaml:"custom_actions"`
	ConnectorsDir     string   `yaml:"connectors_dir"`
	ModulesDir        string   `yaml:"modules_dir"`
	ServerBinary      string   `yaml:"server_binary"`
	ServerArgs        []string `yaml:"server_args"`
	SecretsDir        string   `yaml:"secrets_dir"`

	// ProductName is passed to the GUID lookup on new installs
	ProductName string `yaml:"product_name"`

	Journal JournalConfig `yaml:"journal"`
	DBWait  WaitConfig    `yaml:"db_wait"`
	Health  HealthConfig  `yaml:"health"`

	// MetricsAddr enables the metrics listener when non-empty
	MetricsAddr string `yaml:"metrics_addr"`
}

// JournalConfig controls the boot journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Keep    int    `yaml:"keep"`
}

// WaitConfig controls the database wait
type WaitConfig struct {
	Interval time.Duration `yaml:"interval"`
	Ceiling  time.Duration `yaml:"ceiling"`
}

// HealthConfig controls the healthcheck subcommand
type HealthConfig struct {
	Host    string        `yaml:"host"`
	Ports   []int         `yaml:"ports"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the configuration for the stock container image
func Default() *Config {
	return &Config{
		ConfigFile:        state.DefaultPath,
		StartupConfigPath: DefaultStartupConfigPath,
		InstallerScript:   installer.DefaultScriptPath,
		CustomActions:     installer.DefaultCustomActionsPath,
		ConnectorsDir:     DefaultConnectorsDir,
		ModulesDir:        DefaultModulesDir,
		ServerBinary:      DefaultServerBinary,
		SecretsDir:        DefaultSecretsDir,
		ProductName:       DefaultProductName,
		Journal: JournalConfig{
			Enabled: true,
			Path:    storage.DefaultPath,
			Keep:    storage.DefaultKeep,
		},
		DBWait: WaitConfig{
			Interval: health.DefaultWaitInterval,
			Ceiling:  health.DefaultWaitCeiling,
		},
		Health: HealthConfig{
			Host:    "127.0.0.1",
			Ports:   append([]int(nil), health.DefaultProbePorts...),
			Timeout: 5 * time.Second,
		},
	}
}

// Load overlays the YAML file at path onto the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field
func (c *Config) Validate() error {
	var errs []error
	required := map[string]string{
		"config_file":         c.ConfigFile,
		"startup_config_path": c.StartupConfigPath,
		"installer_script":    c.InstallerScript,
		"custom_actions":      c.CustomActions,
		"server_binary":       c.ServerBinary,
		"product_name":        c.ProductName,
	}
	for _, name := range []string{"config_file", "startup_config_path", "installer_script", "custom_actions", "server_binary", "product_name"} {
		if required[name] == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	if c.DBWait.Interval <= 0 {
		errs = append(errs, fmt.Errorf("db_wait.interval must be positive"))
	}
	if c.DBWait.Ceiling < 0 {
		errs = append(errs, fmt.Errorf("db_wait.ceiling must not be negative"))
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, fmt.Errorf("journal.path is required when the journal is enabled"))
	}
	for _, p := range c.Health.Ports {
		if p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("health.ports: %d is not a valid port", p))
		}
	}

	return errors.Join(errs...)
}
