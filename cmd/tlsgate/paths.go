package main

import (
	"os"
	"path/filepath"
)

// dataDir returns the XDG-style data directory hosting the CA material,
// defaulting to $XDG_DATA_HOME/tlsgate or ~/.local/share/tlsgate.
func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "tlsgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tlsgate")
	}
	return filepath.Join(home, ".local", "share", "tlsgate")
}

// cacheDir returns the directory hosting compiled sandbox-module blobs.
func cacheDir() string {
	if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
		return filepath.Join(xdg, "tlsgate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tlsgate-cache")
	}
	return filepath.Join(home, ".cache", "tlsgate")
}

// defaultConfigPath returns the default tlsgate.toml location, under the
// XDG-style config directory.
func defaultConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tlsgate", "tlsgate.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "tlsgate.toml")
	}
	return filepath.Join(home, ".config", "tlsgate", "tlsgate.toml")
}
