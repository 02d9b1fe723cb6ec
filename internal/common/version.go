package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Version information (set via -ldflags during build)
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

// GetFullVersion returns version with build info
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", Version, Build, GitCommit)
}

// LoadVersionFromFile replaces Version with the contents of a .version file next to the
// executable, when one exists, and returns the result.
func LoadVersionFromFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return Version
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(exePath), ".version"))
	if err != nil {
		return Version
	}
	if v := strings.TrimSpace(string(data)); v != "" {
		Version = v
	}
	return Version
}
