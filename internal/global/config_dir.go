package global

import (
	"os"
	"path/filepath"
	"strings"
)

// ProjectDirName marks a project-local config directory.
const ProjectDirName = ".duet"

var getwd = os.Getwd

// DefaultConfigDir picks where config.toml and duet.db live, first match wins:
// DUET_CONFIG_DIR, the nearest .duet directory at or above the working
// directory, $XDG_CONFIG_HOME/duet, ~/.config/duet.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("DUET_CONFIG_DIR")); override != "" {
		return override, nil
	}
	if dir, ok := findProjectDir(); ok {
		return dir, nil
	}
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" && filepath.IsAbs(xdg) {
		return filepath.Join(xdg, "duet"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "duet"), nil
}

// findProjectDir walks up from the working directory so a planner and an
// executor started anywhere inside one repository share its database.
func findProjectDir() (string, bool) {
	wd, err := getwd()
	if err != nil || wd == "" {
		return "", false
	}
	dir := filepath.Clean(wd)
	for {
		candidate := filepath.Join(dir, ProjectDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
