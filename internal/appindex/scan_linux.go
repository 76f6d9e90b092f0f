//go:build linux

package appindex

import (
	"os"
	"path/filepath"
	"strings"
)

func DefaultScanner() Scanner {
	var dirs []string

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dataHome = filepath.Join(home, ".local", "share")
		}
	}
	if dataHome != "" {
		dirs = append(dirs, filepath.Join(dataHome, "applications"))
	}

	dataDirs := os.Getenv("XDG_DATA_DIRS")
	if dataDirs == "" {
		dataDirs = "/usr/local/share:/usr/share"
	}
	for _, d := range strings.Split(dataDirs, ":") {
		if d != "" {
			dirs = append(dirs, filepath.Join(d, "applications"))
		}
	}

	dirs = append(dirs,
		"/var/lib/flatpak/exports/share/applications",
		"/var/lib/snapd/desktop/applications",
	)

	return DesktopScanner{Dirs: dirs}
}

func DefaultBuiltins() map[string][]string {
	return map[string][]string{
		"notepad":    {"gnome-text-editor", "gedit", "kate", "mousepad", "xed", "pluma", "leafpad"},
		"calculator": {"gnome-calculator", "kcalc", "galculator", "qalculate-gtk", "mate-calc"},
		"paint":      {"kolourpaint", "pinta", "drawing", "gimp"},
	}
}
