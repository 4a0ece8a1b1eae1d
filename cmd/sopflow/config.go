package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"

	"github.com/floridafirst/sopflow/internal/scheduler"
)

// MemoryDB selects the in-memory store instead of a libSQL file.
const MemoryDB = ":memory:"

// Config holds all sopflow configuration.
// Priority: flags > SOPFLOW_* env vars > settings.json > defaults.
type Config struct {
	DBPath             string            `validate:"required"`
	LogLevel           string            `validate:"oneof=debug info warn warning error"`
	DefinitionsDir     string            `validate:"omitempty"`
	AutomationInterval time.Duration     `validate:"min=1s"`
	OverdueInterval    time.Duration     `validate:"min=1s"`
	DefaultAssignee    string            `validate:"omitempty,email"`
	EventBuffer        int               `validate:"gte=0,lte=65536"`
	Roles              map[string]string `validate:"dive,keys,required,endkeys,required"`
	Webhooks           WebhookConfig
}

// WebhookConfig maps integration names to the URLs they POST to.
type WebhookConfig struct {
	External map[string]string `json:"external,omitempty" validate:"dive,keys,required,endkeys,url"`
	Internal map[string]string `json:"internal,omitempty" validate:"dive,keys,required,endkeys,url"`
}

func defaultConfig() Config {
	return Config{
		DBPath:             filepath.Join(sopflowDir(), "sopflow.db"),
		LogLevel:           "info",
		AutomationInterval: scheduler.DefaultAutomationInterval,
		OverdueInterval:    scheduler.DefaultOverdueInterval,
	}
}

func sopflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sopflow"
	}
	return filepath.Join(home, ".sopflow")
}

func defaultSettingsPath() string {
	return filepath.Join(sopflowDir(), "settings.json")
}

// Validate checks the assembled configuration.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Errorf("config %s: failed %q check (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.Join(msgs...)
		}
		return err
	}
	return nil
}

// UsesMemoryStore reports whether the config selects the in-memory store.
func (c Config) UsesMemoryStore() bool {
	return c.DBPath == MemoryDB
}

// --- settings.json ---

// fileConfig is the on-disk shape of Config. Durations are strings ("30s").
type fileConfig struct {
	DBPath             string            `json:"db_path"`
	LogLevel           string            `json:"log_level"`
	DefinitionsDir     string            `json:"definitions_dir,omitempty"`
	AutomationInterval string            `json:"automation_interval"`
	OverdueInterval    string            `json:"overdue_interval"`
	DefaultAssignee    string            `json:"default_assignee,omitempty"`
	EventBuffer        int               `json:"event_buffer,omitempty"`
	Roles              map[string]string `json:"roles,omitempty"`
	Webhooks           WebhookConfig     `json:"webhooks"`
}

func (c Config) toFile() fileConfig {
	return fileConfig{
		DBPath:             c.DBPath,
		LogLevel:           c.LogLevel,
		DefinitionsDir:     c.DefinitionsDir,
		AutomationInterval: c.AutomationInterval.String(),
		OverdueInterval:    c.OverdueInterval.String(),
		DefaultAssignee:    c.DefaultAssignee,
		EventBuffer:        c.EventBuffer,
		Roles:              c.Roles,
		Webhooks:           c.Webhooks,
	}
}

func (f fileConfig) apply(c *Config) error {
	automation, err := time.ParseDuration(f.AutomationInterval)
	if err != nil {
		return fmt.Errorf("automation_interval: %w", err)
	}
	overdue, err := time.ParseDuration(f.OverdueInterval)
	if err != nil {
		return fmt.Errorf("overdue_interval: %w", err)
	}
	c.DBPath = f.DBPath
	c.LogLevel = f.LogLevel
	c.DefinitionsDir = f.DefinitionsDir
	c.AutomationInterval = automation
	c.OverdueInterval = overdue
	c.DefaultAssignee = f.DefaultAssignee
	c.EventBuffer = f.EventBuffer
	c.Roles = f.Roles
	c.Webhooks = f.Webhooks
	return nil
}

// readSettings layers the settings file at path over cfg. A missing file is
// not an error; keys absent from the file keep their current values.
func readSettings(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings %s: %w", path, err)
	}
	fc := cfg.toFile()
	if err := json.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := fc.apply(cfg); err != nil {
		return fmt.Errorf("settings %s: %w", path, err)
	}
	return nil
}

// writeSettings stores cfg at path, creating the directory if needed.
func writeSettings(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(cfg.toFile(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// --- Flags ---

const (
	flagConfig             = "config"
	flagDBPath             = "db-path"
	flagLogLevel           = "log-level"
	flagDefinitionsDir     = "definitions-dir"
	flagAutomationInterval = "automation-interval"
	flagOverdueInterval    = "overdue-interval"
	flagDefaultAssignee    = "default-assignee"
	flagRole               = "role"
)

// configFlags returns a fresh flag set; flag values cannot be shared between commands.
func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Usage:   "Path to settings.json",
			Value:   defaultSettingsPath(),
			Sources: cli.EnvVars("SOPFLOW_CONFIG"),
		},
		&cli.StringFlag{
			Name:    flagDBPath,
			Usage:   "libSQL database file, or " + MemoryDB + " for an in-memory store",
			Sources: cli.EnvVars("SOPFLOW_DB_PATH"),
		},
		&cli.StringFlag{
			Name:    flagLogLevel,
			Usage:   "Log level (debug, info, warn, error)",
			Sources: cli.EnvVars("SOPFLOW_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    flagDefinitionsDir,
			Usage:   "Directory of extra SOP definition JSON files",
			Sources: cli.EnvVars("SOPFLOW_DEFINITIONS_DIR"),
		},
		&cli.DurationFlag{
			Name:    flagAutomationInterval,
			Usage:   "How often pending automated steps are advanced",
			Sources: cli.EnvVars("SOPFLOW_AUTOMATION_INTERVAL"),
		},
		&cli.DurationFlag{
			Name:    flagOverdueInterval,
			Usage:   "How often running steps are checked against their due time",
			Sources: cli.EnvVars("SOPFLOW_OVERDUE_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    flagDefaultAssignee,
			Usage:   "Actor for roles without a configured assignee",
			Sources: cli.EnvVars("SOPFLOW_DEFAULT_ASSIGNEE"),
		},
		&cli.StringMapFlag{
			Name:  flagRole,
			Usage: "Role assignee override, role=actor (repeatable)",
		},
	}
}

// loadConfig assembles the configuration for cmd: defaults, then the
// settings file, then any flag or env var that was set.
func loadConfig(cmd *cli.Command) (Config, error) {
	cfg := defaultConfig()
	if err := readSettings(cmd.String(flagConfig), &cfg); err != nil {
		return Config{}, err
	}

	if cmd.IsSet(flagDBPath) {
		cfg.DBPath = cmd.String(flagDBPath)
	}
	if cmd.IsSet(flagLogLevel) {
		cfg.LogLevel = cmd.String(flagLogLevel)
	}
	if cmd.IsSet(flagDefinitionsDir) {
		cfg.DefinitionsDir = cmd.String(flagDefinitionsDir)
	}
	if cmd.IsSet(flagAutomationInterval) {
		cfg.AutomationInterval = cmd.Duration(flagAutomationInterval)
	}
	if cmd.IsSet(flagOverdueInterval) {
		cfg.OverdueInterval = cmd.Duration(flagOverdueInterval)
	}
	if cmd.IsSet(flagDefaultAssignee) {
		cfg.DefaultAssignee = cmd.String(flagDefaultAssignee)
	}
	if cmd.IsSet(flagRole) {
		if cfg.Roles == nil {
			cfg.Roles = make(map[string]string)
		}
		for role, actor := range cmd.StringMap(flagRole) {
			cfg.Roles[role] = actor
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
