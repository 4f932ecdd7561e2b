package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/zr-build/zr/internal/config"
	"github.com/zr-build/zr/internal/core"
	"github.com/zr-build/zr/internal/dag"
	"github.com/zr-build/zr/internal/statedir"
	"github.com/zr-build/zr/internal/zrerrors"
	"github.com/zr-build/zr/internal/zrlog"
)

// app bundles the resolved state every subcommand needs: the working
// directory, the decoded configuration, the chosen profile's overrides, and
// a logger. Each subcommand's RunE builds its own app with newApp() and
// then resolves it with load().
type app struct {
	WorkDir string
	Config  config.Configuration
	Profile config.Profile
	Log     *slog.Logger

	Jobs    int
	DryRun  bool
	Format  string
	NoColor bool
}

func newApp() *app {
	return &app{}
}

// load resolves the configuration file, working directory, and active
// profile from global flags/viper/environment, in that precedence order.
func (a *app) load() error {
	a.WorkDir = viper.GetString("workdir")
	if a.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		a.WorkDir = wd
	}

	cfgPath := viper.GetString("config")
	if cfgPath == "" {
		cfgPath = filepath.Join(a.WorkDir, "zr.yaml")
	} else if !filepath.IsAbs(cfgPath) {
		cfgPath = filepath.Join(a.WorkDir, cfgPath)
	}

	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return zrerrors.New(zrerrors.ConfigurationInvalid, "cli", fmt.Sprintf("read configuration %s", cfgPath), err)
	}
	cfg, err := config.Load(raw)
	if err != nil {
		return zrerrors.New(zrerrors.ConfigurationInvalid, "cli", fmt.Sprintf("load configuration %s", cfgPath), err)
	}
	a.Config = cfg

	profileName := viper.GetString("profile")
	if profileName == "" {
		profileName = os.Getenv("ZR_PROFILE")
	}
	if profileName != "" {
		p, ok := cfg.Profiles[profileName]
		if !ok {
			return zrerrors.New(zrerrors.ConfigurationInvalid, "cli", fmt.Sprintf("unknown profile %q", profileName), nil)
		}
		a.Profile = p
	}

	a.Jobs = viper.GetInt("jobs")
	if a.Jobs == 0 && a.Profile.MaxJobs > 0 {
		a.Jobs = a.Profile.MaxJobs
	}
	a.DryRun = viper.GetBool("dry-run")
	a.Format = viper.GetString("format")
	a.NoColor = viper.GetBool("no-color")

	level := slog.LevelInfo
	switch {
	case viper.GetBool("verbose"):
		level = slog.LevelDebug
	case viper.GetBool("quiet"):
		level = slog.LevelError
	}
	a.Log = zrlog.InitLevel("cli", level)

	return nil
}

// stateDir ensures and returns the reserved .zr state directory for the
// current working directory.
func (a *app) stateDir() (statedir.StateDir, error) {
	return statedir.Ensure(a.WorkDir)
}

// cache builds the file cache backing incremental runs, rooted at the
// reserved state directory's cache subdirectory.
func (a *app) cache() (core.Cache, error) {
	sd, err := a.stateDir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(sd.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return core.NewFileCache(sd.CacheDir), nil
}

// schedulerOptions derives dag.SchedulerOptions from global flags and the
// active profile's resource ceiling.
func (a *app) schedulerOptions(failFast bool) dag.SchedulerOptions {
	limits := a.Config.ResourceLimits
	if a.Profile.ResourceLimits.MaxCPUPercent != 0 || a.Profile.ResourceLimits.MaxMemoryBytes != 0 {
		limits = a.Profile.ResourceLimits
	}
	return dag.SchedulerOptions{
		MaxJobs:             a.Jobs,
		MaxTotalCPUPercent:  limits.MaxCPUPercent,
		MaxTotalMemoryBytes: limits.MaxMemoryBytes,
		FailFast:            failFast,
	}
}
