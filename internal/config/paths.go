package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names an explicit config file
	EnvConfigPath = "PATCHBAY_CONFIG"
	// ConfigFileName is looked up in the working directory
	ConfigFileName = "patchbay.yaml"
	// ConfigDirName is the directory under the user and system config roots
	ConfigDirName = "patchbay"

	dirFileName = "config.yaml"
	systemDir   = "/etc"
)

// SearchPaths lists the candidate config files, most specific first:
// $PATCHBAY_CONFIG, ./patchbay.yaml, $XDG_CONFIG_HOME/patchbay/config.yaml,
// ~/.config/patchbay/config.yaml and /etc/patchbay/config.yaml.
// Unset variables contribute nothing.
func SearchPaths() []string {
	var paths []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}
	if abs, err := filepath.Abs(ConfigFileName); err == nil {
		paths = append(paths, abs)
	} else {
		paths = append(paths, ConfigFileName)
	}
	paths = append(paths, userPaths()...)
	return append(paths, filepath.Join(systemDir, ConfigDirName, dirFileName))
}

func userPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, ConfigDirName, dirFileName))
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, dirFileName))
	}
	return paths
}

// FindConfigPath returns the first existing file of SearchPaths, or "" if
// there is none
func FindConfigPath() string {
	for _, p := range SearchPaths() {
		if isFile(p) {
			return p
		}
	}
	return ""
}

// DefaultConfigPath is where a new config file is written: the user config
// directory when one is known, else the working directory
func DefaultConfigPath() string {
	if paths := userPaths(); len(paths) > 0 {
		return paths[0]
	}
	return ConfigFileName
}

// EnsureConfigDir creates the directory holding configPath
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
