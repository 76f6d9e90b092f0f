//go:build linux || darwin

package appindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string, mode os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), mode))
}

func TestDesktopScanner(t *testing.T) {
	root := t.TempDir()
	bin := filepath.Join(root, "bin", "firefox")
	writeFile(t, bin, "#!/bin/sh\n", 0o755)

	user := filepath.Join(root, "user")
	system := filepath.Join(root, "system")

	writeFile(t, filepath.Join(user, "firefox.desktop"), `
[Desktop Entry]
Type=Application
Name=Firefox
Name[id]=Peramban Firefox
Exec="`+bin+`" %u
`, 0o644)
	writeFile(t, filepath.Join(system, "firefox.desktop"), `
[Desktop Entry]
Type=Application
Name=Firefox
Exec=/nonexistent/firefox %u
`, 0o644)
	writeFile(t, filepath.Join(system, "hidden.desktop"), `
[Desktop Entry]
Type=Application
Name=Hidden Helper
NoDisplay=true
Exec=`+bin+`
`, 0o644)
	writeFile(t, filepath.Join(system, "link.desktop"), `
[Desktop Entry]
Type=Link
Name=Website
URL=https://example.com
`, 0o644)
	writeFile(t, filepath.Join(system, "broken.desktop"), `
[Desktop Entry]
Name=Ghost
Exec=/nonexistent/ghost
`, 0o644)

	apps, err := DesktopScanner{Dirs: []string{user, system, filepath.Join(root, "missing")}}.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, apps, 1)
	assert.Equal(t, "Firefox", apps[0].Name)
	assert.Equal(t, bin, apps[0].Path)
}

func TestExecBinary(t *testing.T) {
	tests := map[string]string{
		"/usr/bin/gedit %U":                         "/usr/bin/gedit",
		`"/opt/My App/app" --flag`:                  "/opt/My App/app",
		"env GDK_BACKEND=x11 /usr/bin/spotify %U":   "/usr/bin/spotify",
		"firefox":                                   "firefox",
		"":                                          "",
		"%F":                                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, execBinary(in), in)
	}
}
