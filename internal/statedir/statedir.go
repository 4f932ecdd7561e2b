// Package statedir manages zr's reserved state directory at a project root.
package statedir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the reserved top-level directory name zr uses to isolate
// its state from user project files.
const DirName = ".zr"

// StateDir describes the reserved zr state directory at a project root.
//
// The directory is always located at <ProjectRoot>/.zr and holds the
// task cache, run checkpoints, execution traces, and history log.
type StateDir struct {
	ProjectRoot string
	Dir         string
	CacheDir    string
	RunsDir     string
	LogsDir     string
	TraceDir    string
	ConfigPath  string
	HistoryPath string
}

var (
	ErrInvalidProjectRoot = errors.New("invalid project root")
	ErrInvalidStateDir    = errors.New("invalid .zr state directory")
	ErrUnauthorizedEntry  = errors.New("unauthorized entry in .zr")
	ErrPathCollision      = errors.New("state directory path exists but is not a directory")
)

// DetectProjectRoot returns the current working directory.
//
// zr is invoked from a project root and the project root is the working
// directory; no environment-derived lookups are performed here.
func DetectProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("detect project root: %w", err)
	}
	if wd == "" {
		return "", fmt.Errorf("detect project root: %w", ErrInvalidProjectRoot)
	}
	return wd, nil
}

// Ensure validates and initializes the .zr state directory at the given
// project root.
//
// If projectRoot is empty, the current working directory is used.
//
// Zero-config behavior: missing required subdirectories are created.
// Rejection behavior: an unauthorized top-level entry fails initialization
// rather than being silently ignored.
func Ensure(projectRoot string) (StateDir, error) {
	root := projectRoot
	if root == "" {
		var err error
		root, err = DetectProjectRoot()
		if err != nil {
			return StateDir{}, err
		}
	}

	dir := filepath.Join(root, DirName)
	cacheDir := filepath.Join(dir, "cache")
	runsDir := filepath.Join(dir, "runs")
	logsDir := filepath.Join(dir, "logs")
	traceDir := filepath.Join(dir, "traces")
	configPath := filepath.Join(dir, "config.json")
	historyPath := filepath.Join(dir, "history.log")

	sd := StateDir{
		ProjectRoot: root,
		Dir:         dir,
		CacheDir:    cacheDir,
		RunsDir:     runsDir,
		LogsDir:     logsDir,
		TraceDir:    traceDir,
		ConfigPath:  configPath,
		HistoryPath: historyPath,
	}

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return StateDir{}, fmt.Errorf("stat state dir: %w", err)
		}
		if err := os.Mkdir(dir, 0o755); err != nil {
			return StateDir{}, fmt.Errorf("create state dir: %w", err)
		}
	} else if !info.IsDir() {
		return StateDir{}, fmt.Errorf("%w: %s", ErrPathCollision, dir)
	}

	if err := validateTopLevel(dir); err != nil {
		return StateDir{}, err
	}

	for _, d := range []string{cacheDir, runsDir, logsDir, traceDir} {
		if err := ensureDir(d); err != nil {
			return StateDir{}, err
		}
	}

	return sd, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%w: %s exists but is not a directory", ErrInvalidStateDir, path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat dir %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", path, err)
	}
	return nil
}

func validateTopLevel(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read state dir: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		switch name {
		case "cache", "runs", "logs", "traces", "plugins":
			if !entry.IsDir() {
				return fmt.Errorf("%w: %s must be a directory", ErrInvalidStateDir, filepath.Join(dir, name))
			}
		case "config.json", "history.log":
			if entry.IsDir() {
				return fmt.Errorf("%w: %s must be a file", ErrInvalidStateDir, filepath.Join(dir, name))
			}
		default:
			return fmt.Errorf("%w: %s", ErrUnauthorizedEntry, filepath.Join(dir, name))
		}
	}
	return nil
}
