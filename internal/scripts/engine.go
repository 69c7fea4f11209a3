// Package scripts expands user-defined command aliases before a line
// reaches the command parser.
package scripts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/peder1981/lanchat/internal/storage"
)

// Config holds alias definitions.
type Config struct {
	Aliases map[string]string `toml:"alias"`
}

// Engine manages alias expansion.
type Engine struct {
	path string

	mu  sync.RWMutex
	cfg Config
}

// DefaultAliasPath returns the alias file under the XDG config dir.
func DefaultAliasPath() (string, error) {
	path := storage.AliasFile()
	if path == "" {
		return "", fmt.Errorf("no config directory: neither XDG_CONFIG_HOME nor HOME is set")
	}
	return path, nil
}

// NewEngine creates an Engine loading aliases from path. A missing file
// yields an empty table.
func NewEngine(path string) (*Engine, error) {
	e := &Engine{
		path: path,
		cfg:  Config{Aliases: make(map[string]string)},
	}
	if err := e.Load(); err != nil {
		return nil, err
	}
	return e, nil
}

// Load reads the alias file.
func (e *Engine) Load() error {
	cfg := Config{Aliases: make(map[string]string)}
	info, err := os.Stat(e.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return err
	case info.IsDir():
	default:
		if _, err := toml.DecodeFile(e.path, &cfg); err != nil {
			return fmt.Errorf("decode %s: %w", e.path, err)
		}
		if cfg.Aliases == nil {
			cfg.Aliases = make(map[string]string)
		}
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// Expand replaces a leading alias in input with its expansion. Arguments
// after the alias are kept. Expansion happens once, so an alias cannot
// loop.
func (e *Engine) Expand(input string) string {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return input
	}
	e.mu.RLock()
	exp, ok := e.cfg.Aliases[parts[0]]
	e.mu.RUnlock()
	if !ok {
		return input
	}
	if len(parts) > 1 {
		return exp + " " + strings.Join(parts[1:], " ")
	}
	return exp
}

// ListAliases returns the alias names in order with their expansions.
func (e *Engine) ListAliases() [][2]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([][2]string, 0, len(e.cfg.Aliases))
	for name, exp := range e.cfg.Aliases {
		out = append(out, [2]string{name, exp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// AddAlias adds or updates an alias and saves the file.
func (e *Engine) AddAlias(name, expansion string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("invalid alias name %q", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Aliases[name] = strings.TrimSpace(expansion)
	return e.save()
}

// RemoveAlias deletes an alias and saves the file.
func (e *Engine) RemoveAlias(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cfg.Aliases, name)
	return e.save()
}

// save must be called with e.mu held.
func (e *Engine) save() error {
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(e.path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(e.cfg)
}
