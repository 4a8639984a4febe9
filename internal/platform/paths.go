// Package platform resolves the on-disk roots spotcast uses: config
// (spotcast.yaml), data (the settings database), and cache (the failover
// track store).
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

const androidPackage = "io.spotcast.client"

// ConfigDir returns the directory spotcast.yaml is read from.
func ConfigDir() (string, error) {
	if runtime.GOOS == "android" {
		return androidDir("files"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appFolder()), nil
}

// CacheDir returns the root for transient downloads.
func CacheDir() (string, error) {
	if runtime.GOOS == "android" {
		return androidDir("cache"), nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appFolder()), nil
}

// DataDir returns the root for persistent state such as the settings
// database. The stdlib has no equivalent helper, so the per-OS conventions
// are spelled out here.
func DataDir() (string, error) {
	switch runtime.GOOS {
	case "windows", "darwin":
		// Both platforms co-locate application data with config.
		return ConfigDir()
	case "android":
		return androidDir("files"), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "spotcast"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "spotcast"), nil
	}
}

// appFolder follows the capitalization convention of the host OS.
func appFolder() string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return "Spotcast"
	}
	return "spotcast"
}

func androidDir(sub string) string {
	if data := os.Getenv("ANDROID_DATA"); data != "" {
		return filepath.Join(data, "data", androidPackage, sub)
	}
	return filepath.Join("/data/data", androidPackage, sub)
}
