// Package appindex keeps the persisted catalog of launchable applications:
// normalized name -> executable path, rebuilt from the OS inventory.
package appindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
)

const DefaultThreshold = 75

// App is one entry discovered by a Scanner.
type App struct {
	Name string
	Path string
}

type Scanner interface {
	Scan(ctx context.Context) ([]App, error)
}

type ScannerFunc func(ctx context.Context) ([]App, error)

func (f ScannerFunc) Scan(ctx context.Context) ([]App, error) { return f(ctx) }

// Match is a fuzzy resolution result.
type Match struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Score int    `json:"score"`
}

type Options struct {
	// Threshold is the minimal similarity (0..100) accepted by FuzzyLookup.
	Threshold int

	// Builtins maps always-present utilities to candidate programs; the
	// first candidate found on the system wins.
	Builtins map[string][]string
}

type Index struct {
	path      string
	scanner   Scanner
	threshold int
	builtins  map[string][]string

	mu      sync.RWMutex
	entries map[string]string
}

// Open loads the index persisted at path, rebuilding it when the file is
// missing or unreadable.
func Open(ctx context.Context, path string, scanner Scanner, opt Options) (*Index, error) {
	if opt.Threshold <= 0 {
		opt.Threshold = DefaultThreshold
	}
	if opt.Builtins == nil {
		opt.Builtins = DefaultBuiltins()
	}
	if scanner == nil {
		scanner = DefaultScanner()
	}

	idx := &Index{
		path:      path,
		scanner:   scanner,
		threshold: opt.Threshold,
		builtins:  opt.Builtins,
		entries:   map[string]string{},
	}

	entries, err := load(path)
	switch {
	case err == nil:
		idx.entries = entries
		log.Debug("Loaded application index", "path", path, "entries", len(entries))
		return idx, nil
	case errors.Is(err, os.ErrNotExist):
		log.Info("Application index missing, rebuilding", "path", path)
	default:
		log.Warn("Application index unreadable, rebuilding", "path", path, "err", err)
	}

	if _, err := idx.Rebuild(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// Normalize produces the index key for a display name.
func Normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func (idx *Index) Lookup(name string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	p, ok := idx.entries[Normalize(name)]
	return p, ok
}

// FuzzyLookup returns the best scoring entry when it reaches the threshold.
// Ties go to the lexicographically smallest key.
func (idx *Index) FuzzyLookup(name string) (Match, bool) {
	query := Normalize(name)
	if query == "" {
		return Match{}, false
	}

	idx.mu.RLock()
	entries := idx.entries
	idx.mu.RUnlock()

	keys := sortedKeys(entries)

	best := Match{Score: -1}
	for _, k := range keys {
		score := Similarity(query, k)
		if score > best.Score {
			best = Match{Name: k, Path: entries[k], Score: score}
		}
	}

	if best.Score < idx.threshold {
		return Match{}, false
	}
	return best, true
}

// Search ranks entries as suggestions for query, best first.
func (idx *Index) Search(query string, limit int) []Match {
	idx.mu.RLock()
	entries := idx.entries
	idx.mu.RUnlock()

	keys := sortedKeys(entries)

	query = Normalize(query)
	if query == "" {
		if limit > 0 && len(keys) > limit {
			keys = keys[:limit]
		}
		out := make([]Match, 0, len(keys))
		for _, k := range keys {
			out = append(out, Match{Name: k, Path: entries[k]})
		}
		return out
	}

	found := fuzzy.Find(query, keys)
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	out := make([]Match, 0, len(found))
	for _, m := range found {
		out = append(out, Match{Name: m.Str, Path: entries[m.Str], Score: Similarity(query, m.Str)})
	}
	return out
}

// Len reports the number of entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Entries returns a copy of the current mapping.
func (idx *Index) Entries() map[string]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make(map[string]string, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}

func (idx *Index) Threshold() int { return idx.threshold }

// Rebuild rescans the inventory, persists the result and swaps it in.
// Readers keep seeing the previous map until the swap.
func (idx *Index) Rebuild(ctx context.Context) (int, error) {
	apps, err := idx.scanner.Scan(ctx)
	if err != nil {
		log.Warn("Application scan incomplete", "err", err)
	}

	entries := make(map[string]string, len(apps)+len(idx.builtins))
	for _, app := range apps {
		key := Normalize(app.Name)
		if key == "" || app.Path == "" {
			continue
		}
		if _, dup := entries[key]; dup {
			continue
		}
		entries[key] = app.Path
	}

	for name, candidates := range idx.builtins {
		if p := resolveBuiltin(candidates); p != "" {
			entries[Normalize(name)] = p
		}
	}

	if err := save(idx.path, entries); err != nil {
		return 0, err
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.mu.Unlock()

	log.Info("Application index rebuilt", "entries", len(entries), "path", idx.path)
	return len(entries), nil
}

func resolveBuiltin(candidates []string) string {
	for _, c := range candidates {
		if filepath.IsAbs(c) {
			if _, err := os.Stat(c); err == nil {
				return c
			}
			continue
		}
		if p, err := exec.LookPath(c); err == nil {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

func load(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	entries := make(map[string]string, len(raw))
	for k, v := range raw {
		if key := Normalize(k); key != "" {
			entries[key] = v
		}
	}
	return entries, nil
}

// save writes through a temp file so a crash never leaves half an index.
func save(path string, entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".app_index-*.json")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
