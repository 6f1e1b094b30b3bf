package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths stores resolved runtime file locations for user config, logs, and the
// fetch history database.
type Paths struct {
	RootDir     string
	ConfigFile  string
	HistoryFile string
	LogFile     string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}

	root := filepath.Join(cfgRoot, Name)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return Paths{
		RootDir:     root,
		ConfigFile:  filepath.Join(root, ConfigFilename),
		HistoryFile: filepath.Join(root, HistoryFilename),
		LogFile:     filepath.Join(root, LogFilename),
	}, nil
}
