//go:build !linux && !darwin && !windows

package osctl

func Default() System {
	return System{
		Launcher: processLauncher{},
		Volume:   unsupported{},
		Screen:   unsupported{},
		Keyboard: unsupported{},
		Windows:  unsupported{},
		Browser:  defaultBrowser{},
	}
}
