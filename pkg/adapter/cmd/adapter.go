// Package cmd implements the command server adapter.
//
// Clients speak a framed binary protocol: a 32-byte header carrying the
// packet size and a command number, followed by the body. Every packet is
// routed to the handler registered for its command, either a built-in
// (keepalive, transfer) or one installed by an extension module.
//
// The adapter runs Workers serving groups. Each has a TCP listener (all on
// the same port through SO_REUSEPORT) and its own unix-domain control
// socket, which is the only transport allowed to issue transfers.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/marmos91/tcpcmd/internal/logger"
	"github.com/marmos91/tcpcmd/internal/router"
	"github.com/marmos91/tcpcmd/internal/telemetry"
	"github.com/marmos91/tcpcmd/pkg/adapter"
	"github.com/marmos91/tcpcmd/pkg/command"
	"github.com/marmos91/tcpcmd/pkg/connreg"
	"github.com/marmos91/tcpcmd/pkg/extension"
	"github.com/marmos91/tcpcmd/pkg/metrics"
	"github.com/marmos91/tcpcmd/pkg/registry"
)

// Protocol is the adapter name used in logs.
const Protocol = "CMD"

var (
	ErrNotInitialized = errors.New("cmd: adapter not initialized")
	ErrAlreadyInit    = errors.New("cmd: adapter already initialized")
)

// Adapter is the command server.
type Adapter struct {
	*adapter.BaseAdapter

	config  Config
	metrics metrics.CommandMetrics
	opener  extension.Opener

	registry *registry.Registry
	loader   *extension.Loader
	table    *connreg.Table
	workers  []*worker
	host     host

	ready    atomic.Bool
	initMu   sync.Mutex
	inited   bool
	exitOnce sync.Once
}

var _ adapter.Adapter = (*Adapter)(nil)

// New returns an adapter. m may be nil; opener nil means Go plugins.
func New(config Config, m metrics.CommandMetrics, opener extension.Opener) *Adapter {
	config.applyDefaults()

	base := adapter.NewBaseAdapter(adapter.BaseConfig{
		MaxConnections:     config.MaxConnections,
		ShutdownTimeout:    config.ShutdownTimeout,
		MetricsLogInterval: config.MetricsLogInterval,
	}, Protocol)
	if m != nil {
		base.Metrics = m
	}

	return &Adapter{
		BaseAdapter: base,
		config:      config,
		metrics:     m,
		opener:      opener,
		host: host{
			pid:     os.Getpid(),
			workers: config.Workers,
			dir:     config.ExtensionDir,
		},
	}
}

// Init builds the command registry, installs the built-in handlers and
// loads every extension module. Any failure is fatal for the process; the
// modules loaded so far are unloaded and the connection table is released.
func (a *Adapter) Init(ctx context.Context) (err error) {
	a.initMu.Lock()
	defer a.initMu.Unlock()

	if a.inited {
		return ErrAlreadyInit
	}
	if err := a.config.validate(); err != nil {
		return err
	}

	table, err := connreg.NewTable(a.config.ConnectionTableSize)
	if err != nil {
		return fmt.Errorf("create connection table: %w", err)
	}
	a.table = table
	a.inited = true
	defer func() {
		if err != nil {
			a.abortInit()
		}
	}()

	a.workers = make([]*worker, a.config.Workers)
	for i := range a.workers {
		a.workers[i] = newWorker(i, a.host.pid, table)
	}

	a.registry = registry.New()
	if err := router.New(a.metrics).Register(a.registry); err != nil {
		return fmt.Errorf("register built-in commands: %w", err)
	}

	a.loader = extension.NewLoader(a.opener)
	n, err := a.loadExtensions(ctx)
	if err != nil {
		return err
	}
	if a.metrics != nil {
		a.metrics.SetExtensions(n)
	}

	a.ready.Store(true)
	logger.Info("Command server initialized",
		"workers", a.config.Workers,
		"extensions", n,
		"ranges", len(a.registry.Ranges()),
		"table_size", table.Size())
	return nil
}

// abortInit undoes a failed Init so that nothing outlives it.
func (a *Adapter) abortInit() {
	if a.loader != nil {
		a.loader.UnloadAll(a.host)
	}
	if err := a.table.Close(); err != nil {
		logger.Warn("Cannot release connection table", logger.Err(err))
	}
	a.loader, a.registry, a.workers, a.table = nil, nil, nil, nil
	a.inited = false
}

func (a *Adapter) loadExtensions(ctx context.Context) (int, error) {
	ctx, span := telemetry.StartExtensionSpan(ctx, telemetry.SpanExtensionLoad, a.config.ExtensionDir, -1)
	defer span.End()

	n, err := a.loader.LoadAll(a.config.ExtensionDir, a.host, a.registry)
	telemetry.RecordError(ctx, err)
	return n, err
}

// Serve binds every worker's listeners and serves until ctx is cancelled
// or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	if !a.ready.Load() {
		return ErrNotInitialized
	}

	bindings, err := a.bind(ctx)
	if err != nil {
		return err
	}

	if a.config.WatchExtensions {
		go func() {
			err := extension.Watch(ctx, a.config.ExtensionDir, func(path string) {
				logger.Warn("Extension tree changed, restart to apply", logger.KeyPath, path)
			})
			if err != nil {
				logger.Warn("Extension watcher stopped", logger.Err(err))
			}
		}()
	}

	return a.BaseAdapter.Serve(ctx, bindings...)
}

// bind opens the TCP and unix listeners of every worker. On error the
// listeners opened so far are closed.
func (a *Adapter) bind(ctx context.Context) (bindings []adapter.Binding, err error) {
	defer func() {
		if err != nil {
			for _, b := range bindings {
				_ = b.Listener.Close()
			}
		}
	}()

	port := a.config.Port
	reuse := a.config.Workers > 1

	for _, w := range a.workers {
		tcp, err := listenTCP(ctx, hostPort(a.config.BindAddress, port), reuse)
		if err != nil {
			return bindings, fmt.Errorf("worker %d: listen tcp: %w", w.slot, err)
		}
		bindings = append(bindings, a.binding(w, tcp))
		// Port 0 resolves on the first bind; the rest share it.
		port = tcp.Addr().(*net.TCPAddr).Port

		if a.config.UnixSocket == "" {
			continue
		}
		ux, err := listenUnix(ctx, a.config.unixSocketPath(w.slot))
		if err != nil {
			return bindings, fmt.Errorf("worker %d: listen unix: %w", w.slot, err)
		}
		bindings = append(bindings, a.binding(w, ux))
	}
	return bindings, nil
}

func (a *Adapter) binding(w *worker, l net.Listener) adapter.Binding {
	return adapter.Binding{
		Listener: l,
		Factory: adapter.ConnectionFactoryFunc(func(conn net.Conn) adapter.ConnectionHandler {
			return a.newConnection(w, conn)
		}),
	}
}

// Exit unloads every extension module and releases the connection table.
// Only the first call has an effect.
func (a *Adapter) Exit() {
	a.exitOnce.Do(func() {
		a.ready.Store(false)
		if a.loader != nil {
			a.loader.UnloadAll(a.host)
		}
		if a.table != nil {
			if err := a.table.Close(); err != nil {
				logger.Warn("Cannot release connection table", logger.Err(err))
			}
		}
	})
}

// Ready reports whether Init succeeded and Exit has not run.
func (a *Adapter) Ready() bool {
	return a.ready.Load()
}

// Ranges lists the registered command ranges.
func (a *Adapter) Ranges() []registry.Range {
	if a.registry == nil {
		return nil
	}
	return a.registry.Ranges()
}

// Modules lists the loaded extension modules.
func (a *Adapter) Modules() []extension.ModuleInfo {
	if a.loader == nil {
		return nil
	}
	return a.loader.Modules()
}

// Sessions lists the open connections of every worker.
func (a *Adapter) Sessions() []adapter.ConnectionInfo {
	var out []adapter.ConnectionInfo
	for _, w := range a.workers {
		w.arena.Each(func(s command.Session) bool {
			if cs, ok := s.(*session); ok {
				out = append(out, cs.info())
			}
			return true
		})
	}
	return out
}
