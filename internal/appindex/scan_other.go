//go:build !linux && !darwin && !windows

package appindex

import "context"

func DefaultScanner() Scanner {
	return ScannerFunc(func(context.Context) ([]App, error) { return nil, nil })
}

func DefaultBuiltins() map[string][]string {
	return map[string][]string{
		"notepad":    {"vi"},
		"calculator": {"bc"},
	}
}
