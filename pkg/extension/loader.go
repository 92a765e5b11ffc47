// Package extension discovers and drives dynamically loaded command modules.
//
// A module is any regular file under the extension directory that opens as
// a Go plugin and exports the four entry points named in package command.
// Modules are discovered once per process. Each module's position in
// discovery order is its slot: the index of its per-session state in
// command.Context.Slots and the value passed to its load entry point.
//
// Failures while opening a candidate or resolving its symbols skip that
// candidate. A failing load entry point aborts startup. Unload and
// session-finit failures are logged and never stop the remaining modules.
package extension

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/tcpcmd/internal/logger"
	"github.com/marmos91/tcpcmd/pkg/command"
)

var (
	ErrMissingSymbol  = errors.New("extension: missing symbol")
	ErrSymbolType     = errors.New("extension: symbol has wrong type")
	ErrAlreadyScanned = errors.New("extension: modules already discovered")
)

// Module is one discovered extension.
type Module struct {
	Path string
	Slot int

	lib          Library
	load         command.LoadFunc
	unload       command.UnloadFunc
	sessionInit  command.SessionInitFunc
	sessionFinit command.SessionFinitFunc

	// loaded is set once the load entry point succeeded.
	loaded bool
}

// ModuleInfo describes a module for status output.
type ModuleInfo struct {
	Slot int    `json:"slot"`
	Path string `json:"path"`
}

// Loader holds the ordered module list for the process.
type Loader struct {
	opener Opener

	mu       sync.RWMutex
	modules  []*Module
	scanned  bool
	unloaded bool
}

// NewLoader returns a loader that opens candidates with opener. A nil
// opener means PluginOpener.
func NewLoader(opener Opener) *Loader {
	if opener == nil {
		opener = PluginOpener{}
	}
	return &Loader{opener: opener}
}

// Scan discovers modules under root and returns how many were accepted.
// A missing root is an error wrapping fs.ErrNotExist.
func (l *Loader) Scan(root string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.scanned {
		return 0, ErrAlreadyScanned
	}
	l.scanned = true

	if _, err := os.Stat(root); err != nil {
		return 0, fmt.Errorf("extension: directory %s: %w", root, err)
	}

	if err := l.scanDir(root, true); err != nil {
		return 0, err
	}
	return len(l.modules), nil
}

// scanDir visits the entries of dir in descending name order, recursing
// into subdirectories as they are met.
func (l *Loader) scanDir(dir string, isRoot bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if isRoot {
			return fmt.Errorf("extension: read %s: %w", dir, err)
		}
		logger.Error("Cannot read extension subdirectory", logger.KeyPath, dir, logger.Err(err))
		return nil
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		path := filepath.Join(dir, e.Name())

		switch {
		case e.IsDir():
			if err := l.scanDir(path, false); err != nil {
				return err
			}
		case e.Type().IsRegular():
			l.consider(path)
		}
	}
	return nil
}

func (l *Loader) consider(path string) {
	lib, err := l.opener.Open(path)
	if err != nil {
		logger.Error("Cannot open extension, skipping", logger.KeyPath, path, logger.Err(err))
		return
	}

	m, err := resolve(lib)
	if err != nil {
		logger.Error("Extension is missing entry points, skipping", logger.KeyPath, path, logger.Err(err))
		if cerr := lib.Close(); cerr != nil {
			logger.Warn("Cannot close rejected extension", logger.KeyPath, path, logger.Err(cerr))
		}
		return
	}

	m.Path = path
	m.Slot = len(l.modules)
	m.lib = lib
	l.modules = append(l.modules, m)
	logger.Debug("Extension discovered", logger.KeyPath, path, logger.KeySlot, m.Slot)
}

func resolve(lib Library) (*Module, error) {
	var (
		m   Module
		err error
	)
	if m.load, err = symbol(lib, command.SymbolLoad,
		func(f func(command.Host, command.Registrar, int) error) command.LoadFunc { return f }); err != nil {
		return nil, err
	}
	if m.unload, err = symbol(lib, command.SymbolUnload,
		func(f func(command.Host) error) command.UnloadFunc { return f }); err != nil {
		return nil, err
	}
	if m.sessionInit, err = symbol(lib, command.SymbolSessionInit,
		func(f func(*command.Context) error) command.SessionInitFunc { return f }); err != nil {
		return nil, err
	}
	if m.sessionFinit, err = symbol(lib, command.SymbolSessionFinit,
		func(f func(*command.Context) error) command.SessionFinitFunc { return f }); err != nil {
		return nil, err
	}
	return &m, nil
}

// symbol looks up name and accepts a plain function, the named entry point
// type, or a pointer to either (exported variables resolve to pointers).
func symbol[N, U any](lib Library, name string, conv func(U) N) (N, error) {
	var zero N

	sym, err := lib.Lookup(name)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrMissingSymbol, name, err)
	}

	switch f := sym.(type) {
	case U:
		return conv(f), nil
	case N:
		return f, nil
	case *U:
		if f != nil {
			return conv(*f), nil
		}
	case *N:
		if f != nil {
			return *f, nil
		}
	}
	return zero, fmt.Errorf("%w: %s is %T", ErrSymbolType, name, sym)
}

// LoadAll scans root and calls every module's load entry point in slot
// order. The first failure is returned and leaves later modules unloaded;
// UnloadAll then only unloads the ones that succeeded.
func (l *Loader) LoadAll(root string, host command.Host, reg command.Registrar) (int, error) {
	n, err := l.Scan(root)
	if err != nil {
		return 0, err
	}

	for _, m := range l.snapshot() {
		if err := m.load(host, reg, m.Slot); err != nil {
			return 0, fmt.Errorf("extension: load %s (slot %d): %w", m.Path, m.Slot, err)
		}
		l.mu.Lock()
		m.loaded = true
		l.mu.Unlock()
		logger.Info("Extension loaded", logger.KeyPath, m.Path, logger.KeySlot, m.Slot)
	}
	return n, nil
}

// UnloadAll calls the unload entry point of every loaded module once and
// releases all libraries. It is safe to call more than once.
func (l *Loader) UnloadAll(host command.Host) {
	l.mu.Lock()
	if l.unloaded {
		l.mu.Unlock()
		return
	}
	l.unloaded = true
	mods := l.modules
	loaded := make([]bool, len(mods))
	for i, m := range mods {
		loaded[i] = m.loaded
	}
	l.mu.Unlock()

	for i, m := range mods {
		if loaded[i] {
			if err := m.unload(host); err != nil {
				logger.Error("Extension unload failed", logger.KeyPath, m.Path, logger.KeySlot, m.Slot, logger.Err(err))
			}
		}
		if err := m.lib.Close(); err != nil {
			logger.Warn("Cannot close extension", logger.KeyPath, m.Path, logger.Err(err))
		}
	}
}

// SessionInit runs every module's session-init for c in slot order. If one
// fails, modules already initialised for c get their session-finit and the
// error is returned.
func (l *Loader) SessionInit(c *command.Context) error {
	mods := l.snapshot()
	for i, m := range mods {
		if err := m.sessionInit(c); err != nil {
			for j := i - 1; j >= 0; j-- {
				if ferr := mods[j].sessionFinit(c); ferr != nil {
					logger.Warn("Extension session finit failed during rollback",
						logger.KeyPath, mods[j].Path, logger.Err(ferr))
				}
			}
			return fmt.Errorf("extension: session init %s (slot %d): %w", m.Path, m.Slot, err)
		}
	}
	return nil
}

// SessionFinit runs every module's session-finit for c.
func (l *Loader) SessionFinit(c *command.Context) {
	for _, m := range l.snapshot() {
		if err := m.sessionFinit(c); err != nil {
			logger.Warn("Extension session finit failed", logger.KeyPath, m.Path, logger.KeySlot, m.Slot, logger.Err(err))
		}
	}
}

// Len is the number of discovered modules.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.modules)
}

// Modules lists discovered modules in slot order.
func (l *Loader) Modules() []ModuleInfo {
	mods := l.snapshot()
	out := make([]ModuleInfo, len(mods))
	for i, m := range mods {
		out[i] = ModuleInfo{Slot: m.Slot, Path: m.Path}
	}
	return out
}

func (l *Loader) snapshot() []*Module {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.modules
}
