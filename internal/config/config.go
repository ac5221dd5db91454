package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/okonev/vigil/internal/backup"
	"github.com/okonev/vigil/internal/watch"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Log      *LogConfig      `toml:"log" mapstructure:"log"`
	Alert    *AlertConfig    `toml:"alert" mapstructure:"alert"`
	Metrics  *MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Server   *ServerConfig   `toml:"server" mapstructure:"server"`
	Services []ServiceConfig `toml:"service" mapstructure:"service"`
	Backups  []BackupConfig  `toml:"backup" mapstructure:"backup"`
}

type LogConfig struct {
	Path       string `toml:"path" mapstructure:"path"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// AlertConfig routes alert events. Each DSN becomes one sink; all sinks
// receive every event. Include a sqlite:// DSN when the /events query
// surface is wanted.
type AlertConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type ServerConfig struct {
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	PidFile  string     `toml:"pidfile" mapstructure:"pidfile"`
	LogFile  string     `toml:"logfile" mapstructure:"logfile"`
	TLS      *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `toml:"key_file" mapstructure:"key_file"`
	// AutoGenerate creates a self-signed pair at the configured paths when
	// they do not exist yet.
	AutoGenerate bool `toml:"auto_generate" mapstructure:"auto_generate"`
}

// ServiceConfig describes one monitored service. Interval and threshold keys
// carry their units in the name; zero values fall back to the defaults
// (300s check, 5s grace, 80% memory).
type ServiceConfig struct {
	Name       string `toml:"name" mapstructure:"name"`
	Controller string `toml:"controller" mapstructure:"controller"` // systemd | exec

	// systemd controller
	Unit     string `toml:"unit" mapstructure:"unit"`
	UserMode bool   `toml:"user_mode" mapstructure:"user_mode"`

	// exec controller
	StartCommand   string `toml:"start_cmd" mapstructure:"start_cmd"`
	StopCommand    string `toml:"stop_cmd" mapstructure:"stop_cmd"`
	RestartCommand string `toml:"restart_cmd" mapstructure:"restart_cmd"`
	StatusCommand  string `toml:"status_cmd" mapstructure:"status_cmd"`

	// optional liveness/PID probe
	Probe *ProbeConfig `toml:"probe" mapstructure:"probe"`

	CheckIntervalSeconds        int     `toml:"check_interval_seconds" mapstructure:"check_interval_seconds"`
	RestartGraceSeconds         int     `toml:"restart_grace_seconds" mapstructure:"restart_grace_seconds"`
	MemoryAlertThresholdPercent float64 `toml:"memory_alert_threshold_percent" mapstructure:"memory_alert_threshold_percent"`
}

type ProbeConfig struct {
	Type    string `toml:"type" mapstructure:"type"` // pidfile | pid | command
	Path    string `toml:"path" mapstructure:"path"`
	PID     int    `toml:"pid" mapstructure:"pid"`
	Command string `toml:"command" mapstructure:"command"`
}

// BackupConfig describes one backup job.
type BackupConfig struct {
	Name            string `toml:"name" mapstructure:"name"`
	DataFile        string `toml:"data_file" mapstructure:"data_file"`
	BackupDir       string `toml:"backup_dir" mapstructure:"backup_dir"`
	RetentionDays   int    `toml:"retention_days" mapstructure:"retention_days"`
	IntervalSeconds int    `toml:"interval_seconds" mapstructure:"interval_seconds"`
	JitterSeconds   int    `toml:"jitter_seconds" mapstructure:"jitter_seconds"`
}

// Defaults matching the observed deployment.
const (
	DefaultCheckIntervalSeconds  = 300
	DefaultBackupIntervalSeconds = 21600
)

// Load parses and validates a TOML config file.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if err := fc.validate(); err != nil {
		return nil, err
	}
	// Relative paths resolve against the config file's directory.
	base := filepath.Dir(path)
	for i := range fc.Backups {
		fc.Backups[i].DataFile = absAgainst(base, fc.Backups[i].DataFile)
		fc.Backups[i].BackupDir = absAgainst(base, fc.Backups[i].BackupDir)
	}
	return &fc, nil
}

func absAgainst(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

func (fc *FileConfig) validate() error {
	seen := make(map[string]bool)
	for _, sc := range fc.Services {
		if sc.Name == "" {
			return fmt.Errorf("service requires a name")
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate service name %q", sc.Name)
		}
		seen[sc.Name] = true
		switch sc.Controller {
		case "", "systemd":
			if sc.Unit == "" {
				return fmt.Errorf("service %s: systemd controller requires unit", sc.Name)
			}
		case "exec":
			if sc.StartCommand == "" && sc.RestartCommand == "" {
				return fmt.Errorf("service %s: exec controller requires start_cmd or restart_cmd", sc.Name)
			}
			if sc.StatusCommand == "" && sc.Probe == nil {
				return fmt.Errorf("service %s: exec controller requires status_cmd or a probe", sc.Name)
			}
		default:
			return fmt.Errorf("service %s: unknown controller %q", sc.Name, sc.Controller)
		}
		if sc.Probe != nil {
			switch sc.Probe.Type {
			case "pidfile":
				if sc.Probe.Path == "" {
					return fmt.Errorf("service %s: pidfile probe requires path", sc.Name)
				}
			case "pid":
				if sc.Probe.PID <= 0 {
					return fmt.Errorf("service %s: pid probe requires positive pid", sc.Name)
				}
			case "command":
				if sc.Probe.Command == "" {
					return fmt.Errorf("service %s: command probe requires command", sc.Name)
				}
			default:
				return fmt.Errorf("service %s: unknown probe type %q", sc.Name, sc.Probe.Type)
			}
		}
	}
	seenB := make(map[string]bool)
	for _, bc := range fc.Backups {
		if bc.Name == "" {
			return fmt.Errorf("backup requires a name")
		}
		if seenB[bc.Name] {
			return fmt.Errorf("duplicate backup name %q", bc.Name)
		}
		seenB[bc.Name] = true
		if bc.DataFile == "" {
			return fmt.Errorf("backup %s requires data_file", bc.Name)
		}
		if bc.BackupDir == "" {
			return fmt.Errorf("backup %s requires backup_dir", bc.Name)
		}
	}
	return nil
}

// WatchConfig converts a service entry to the watcher's config.
func (sc ServiceConfig) WatchConfig() watch.Config {
	c := watch.Config{Name: sc.Name}
	if sc.CheckIntervalSeconds > 0 {
		c.CheckInterval = time.Duration(sc.CheckIntervalSeconds) * time.Second
	} else {
		c.CheckInterval = DefaultCheckIntervalSeconds * time.Second
	}
	if sc.RestartGraceSeconds > 0 {
		c.RestartGrace = time.Duration(sc.RestartGraceSeconds) * time.Second
	}
	c.MemoryThresholdPercent = sc.MemoryAlertThresholdPercent
	return c
}

// BackupJobConfig converts a backup entry to the backup engine's config.
func (bc BackupConfig) BackupJobConfig() backup.Config {
	return backup.Config{
		Name:          bc.Name,
		Source:        bc.DataFile,
		Dir:           bc.BackupDir,
		RetentionDays: bc.RetentionDays,
	}
}

// Interval returns the backup cadence as a duration.
func (bc BackupConfig) Interval() time.Duration {
	if bc.IntervalSeconds > 0 {
		return time.Duration(bc.IntervalSeconds) * time.Second
	}
	return DefaultBackupIntervalSeconds * time.Second
}

// Jitter returns the optional per-tick jitter as a duration.
func (bc BackupConfig) Jitter() time.Duration {
	if bc.JitterSeconds > 0 {
		return time.Duration(bc.JitterSeconds) * time.Second
	}
	return 0
}
