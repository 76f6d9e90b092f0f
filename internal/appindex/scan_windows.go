//go:build windows

package appindex

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/windows/registry"
)

var uninstallKeys = []string{
	`SOFTWARE\Microsoft\Windows\CurrentVersion\Uninstall`,
	`SOFTWARE\WOW6432Node\Microsoft\Windows\CurrentVersion\Uninstall`,
}

type registryScanner struct{}

func (registryScanner) Scan(ctx context.Context) ([]App, error) {
	var apps []App

	for _, keyPath := range uninstallKeys {
		root, err := registry.OpenKey(registry.LOCAL_MACHINE, keyPath, registry.ENUMERATE_SUB_KEYS|registry.QUERY_VALUE)
		if err != nil {
			continue
		}

		names, err := root.ReadSubKeyNames(-1)
		if err != nil {
			root.Close()
			continue
		}

		for _, sub := range names {
			if err := ctx.Err(); err != nil {
				root.Close()
				return apps, err
			}
			if app, ok := readUninstallEntry(root, sub); ok {
				apps = append(apps, app)
			}
		}
		root.Close()
	}

	return apps, nil
}

func readUninstallEntry(root registry.Key, sub string) (App, bool) {
	k, err := registry.OpenKey(root, sub, registry.QUERY_VALUE)
	if err != nil {
		return App{}, false
	}
	defer k.Close()

	name, _, err := k.GetStringValue("DisplayName")
	if err != nil || name == "" {
		return App{}, false
	}
	location, _, err := k.GetStringValue("InstallLocation")
	if err != nil || location == "" {
		return App{}, false
	}

	exe := firstExecutable(location)
	if exe == "" {
		return App{}, false
	}
	return App{Name: name, Path: exe}, true
}

func firstExecutable(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, n := range names {
		lower := strings.ToLower(n)
		if strings.HasSuffix(lower, ".exe") && !strings.Contains(lower, "uninstall") {
			return filepath.Join(dir, n)
		}
	}
	return ""
}

func DefaultScanner() Scanner { return registryScanner{} }

func DefaultBuiltins() map[string][]string {
	return map[string][]string{
		"notepad":    {"notepad.exe"},
		"calculator": {"calc.exe"},
		"paint":      {"mspaint.exe"},
	}
}
