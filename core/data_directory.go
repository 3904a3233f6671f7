package core

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName names the per-user data directory.
const AppName = "MochiDiffusion"

// DataDirectory returns the per-user data directory without creating it:
// %APPDATA%\MochiDiffusion on Windows, ~/Library/Application Support/MochiDiffusion
// on macOS and $XDG_DATA_HOME/MochiDiffusion (or ~/.local/share) elsewhere.
func DataDirectory() string {
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
		return filepath.Join(home, "AppData", "Roaming", AppName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppName)
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, AppName)
		}
		if home == "" {
			return AppName
		}
		return filepath.Join(home, ".local", "share", AppName)
	}
}

// Default locations under the data directory.
func DefaultModelDir() string      { return filepath.Join(DataDirectory(), "models") }
func DefaultControlNetDir() string { return filepath.Join(DataDirectory(), "controlnet") }
func DefaultImageDir() string      { return filepath.Join(DataDirectory(), "images") }
func DefaultDBPath() string        { return filepath.Join(DataDirectory(), "history.db") }
func DefaultLogFile() string       { return filepath.Join(DataDirectory(), "logs", "mochi.log") }
