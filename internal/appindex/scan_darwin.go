//go:build darwin

package appindex

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type bundleScanner struct {
	dirs []string
}

func (s bundleScanner) Scan(ctx context.Context) ([]App, error) {
	var apps []App
	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			return apps, err
		}
		bundles, err := filepath.Glob(filepath.Join(dir, "*.app"))
		if err != nil {
			continue
		}
		sort.Strings(bundles)
		for _, b := range bundles {
			apps = append(apps, App{
				Name: strings.TrimSuffix(filepath.Base(b), ".app"),
				Path: b,
			})
		}
	}
	return apps, nil
}

func DefaultScanner() Scanner {
	dirs := []string{"/Applications", "/System/Applications", "/System/Applications/Utilities"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append([]string{filepath.Join(home, "Applications")}, dirs...)
	}
	return bundleScanner{dirs: dirs}
}

func DefaultBuiltins() map[string][]string {
	return map[string][]string{
		"notepad":    {"/System/Applications/TextEdit.app"},
		"calculator": {"/System/Applications/Calculator.app"},
		"paint":      {"/System/Applications/Preview.app"},
	}
}
