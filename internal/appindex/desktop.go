package appindex

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

// DesktopScanner reads freedesktop .desktop entries from Dirs. Earlier
// directories win, so user entries shadow system ones.
type DesktopScanner struct {
	Dirs []string
}

func (s DesktopScanner) Scan(ctx context.Context) ([]App, error) {
	var apps []App

	for _, dir := range s.Dirs {
		if err := ctx.Err(); err != nil {
			return apps, err
		}

		files, err := filepath.Glob(filepath.Join(dir, "*.desktop"))
		if err != nil {
			continue
		}
		sort.Strings(files)

		for _, f := range files {
			if app, ok := readDesktopEntry(f); ok {
				apps = append(apps, app)
			}
		}
	}

	return apps, nil
}

func readDesktopEntry(path string) (App, bool) {
	file, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment:     true,
		SkipUnrecognizableLines: true,
	}, path)
	if err != nil {
		return App{}, false
	}

	sec, err := file.GetSection("Desktop Entry")
	if err != nil {
		return App{}, false
	}

	if t := sec.Key("Type").String(); t != "" && t != "Application" {
		return App{}, false
	}
	if sec.Key("NoDisplay").MustBool(false) || sec.Key("Hidden").MustBool(false) {
		return App{}, false
	}

	name := strings.TrimSpace(sec.Key("Name").String())
	bin := execBinary(sec.Key("Exec").String())
	if name == "" || bin == "" {
		return App{}, false
	}

	resolved, err := exec.LookPath(bin)
	if err != nil {
		return App{}, false
	}
	if abs, err := filepath.Abs(resolved); err == nil {
		resolved = abs
	}
	if _, err := os.Stat(resolved); err != nil {
		return App{}, false
	}

	return App{Name: name, Path: resolved}, true
}

// execBinary extracts the program from an Exec line, skipping an "env"
// wrapper and its assignments.
func execBinary(line string) string {
	fields := splitExec(line)
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if i == 0 && filepath.Base(f) == "env" {
			continue
		}
		if strings.Contains(f, "=") && !strings.Contains(f, "/") {
			continue
		}
		if strings.HasPrefix(f, "%") {
			continue
		}
		return f
	}
	return ""
}

func splitExec(line string) []string {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.TrimSpace(line) {
		switch {
		case r == '"':
			quoted = !quoted
		case (r == ' ' || r == '\t') && !quoted:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
