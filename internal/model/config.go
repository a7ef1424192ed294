// Package model defines the data structures for instsync's configuration,
// infrastructure catalog, deployment summaries and perpetual task records.
package model

import (
	"fmt"
	"time"
)

type Config struct {
	Project     ProjectConfig     `yaml:"project"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Description DescriptionConfig `yaml:"description"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Registry    RegistryConfig    `yaml:"registry"`
	Daemon      DaemonConfig      `yaml:"daemon"`
	Logging     LoggingConfig     `yaml:"logging"`
	Audit       AuditConfig       `yaml:"audit"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type ScheduleConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	TimeoutSeconds  int `yaml:"timeout_seconds"`
}

// LookupFailurePolicy decides what happens when an app/env/service name
// cannot be resolved for a task description.
type LookupFailurePolicy string

const (
	LookupFailureFail        LookupFailurePolicy = "fail"
	LookupFailurePlaceholder LookupFailurePolicy = "placeholder"
)

type DescriptionConfig struct {
	OnLookupFailure LookupFailurePolicy `yaml:"on_lookup_failure"`
}

type ReconcileConfig struct {
	Workers         int `yaml:"workers"`
	ScanIntervalSec int `yaml:"scan_interval_sec"`
}

type RegistryConfig struct {
	// DSN of the SQLite database; relative paths are resolved against the
	// data directory. ":memory:" keeps the registry in process.
	DSN string `yaml:"dsn"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	ChecksumOn bool   `yaml:"checksum"`
}

// TaskSchedule returns the configured schedule, falling back to the shared
// IntervalMinutes / TimeoutSeconds defaults.
func (c Config) TaskSchedule() Schedule {
	s := DefaultSchedule()
	if c.Schedule.IntervalMinutes > 0 {
		s.Interval = time.Duration(c.Schedule.IntervalMinutes) * time.Minute
	}
	if c.Schedule.TimeoutSeconds > 0 {
		s.Timeout = time.Duration(c.Schedule.TimeoutSeconds) * time.Second
	}
	return s
}

func (c Config) LookupPolicy() LookupFailurePolicy {
	if c.Description.OnLookupFailure == "" {
		return LookupFailureFail
	}
	return c.Description.OnLookupFailure
}

func (c Config) Validate() error {
	switch c.Description.OnLookupFailure {
	case "", LookupFailureFail, LookupFailurePlaceholder:
	default:
		return fmt.Errorf("description.on_lookup_failure: unknown policy %q", c.Description.OnLookupFailure)
	}
	if c.Reconcile.Workers < 0 {
		return fmt.Errorf("reconcile.workers must be >= 0, got %d", c.Reconcile.Workers)
	}
	if c.Schedule.IntervalMinutes < 0 || c.Schedule.TimeoutSeconds < 0 {
		return fmt.Errorf("schedule values must be >= 0")
	}
	return nil
}
