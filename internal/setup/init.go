// Package setup initialises an instsync data directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/msageha/instsync/internal/catalog"
	"github.com/msageha/instsync/internal/model"
	atomicyaml "github.com/msageha/instsync/internal/yaml"
	"github.com/msageha/instsync/templates"
)

// DataDirName is the data directory created inside a project directory.
const DataDirName = ".instsync"

// Layout of a data directory, relative to its root.
const (
	ConfigFile     = "config.yaml"
	DeploymentsDir = "deployments"
	ProcessedDir   = "deployments/processed"
	QuarantineDir  = "quarantine"
	LogsDir        = "logs"
	LocksDir       = "locks"
	DaemonLockFile = "locks/daemon.lock"
)

// Run creates <projectDir>/.instsync with a default config, an empty catalog
// and the deployment intake directories. projectName defaults to the
// directory basename.
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, DataDirName)
	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	for _, d := range []string{DeploymentsDir, ProcessedDir, QuarantineDir, LogsDir, LocksDir} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(absDir, projectName)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("default config: %w", err)
	}
	if err := atomicyaml.AtomicWrite(filepath.Join(base, ConfigFile), cfg); err != nil {
		return fmt.Errorf("write %s: %w", ConfigFile, err)
	}

	if err := catalog.New(base).Init(); err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}

	if err := os.WriteFile(filepath.Join(base, DaemonLockFile), nil, 0600); err != nil {
		return fmt.Errorf("create daemon.lock: %w", err)
	}
	return nil
}

func generateConfig(projectDir, projectName string) (*model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return nil, fmt.Errorf("read config template: %w", err)
	}

	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config template: %w", err)
	}

	if projectName != "" {
		cfg.Project.Name = projectName
	} else {
		cfg.Project.Name = filepath.Base(projectDir)
	}
	return &cfg, nil
}

// LoadConfig reads and validates <dataDir>/config.yaml.
func LoadConfig(dataDir string) (model.Config, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, ConfigFile))
	if err != nil {
		return model.Config{}, fmt.Errorf("read %s: %w", ConfigFile, err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse %s: %w", ConfigFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("invalid %s: %w", ConfigFile, err)
	}
	return cfg, nil
}

// FindDataDir walks up from dir looking for a .instsync directory and
// returns "" when there is none.
func FindDataDir(dir string) string {
	for {
		candidate := filepath.Join(dir, DataDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
