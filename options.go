package garnet

import (
	"log/slog"

	"github.com/garnet-dev/garnet/internal/bridge"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithBridge supplies the interpreter bridge client, overriding any bridge
// command from project configuration. Useful for tests and embedded hosts.
func WithBridge(client bridge.Client) Option {
	return func(e *Engine) {
		e.rawOpt = client
	}
}

// WithBridgeCommand configures the argv used to spawn the interpreter
// bridge process.
func WithBridgeCommand(command ...string) Option {
	return func(e *Engine) {
		e.cfg.Bridge.Command = command
	}
}

// WithCacheConfig pins the cache capacities, taking precedence over the
// project's .garnet.yml.
func WithCacheConfig(cfg CacheConfig) Option {
	return func(e *Engine) {
		e.cfg.Caches = cfg
		e.cfgSet = true
	}
}

// WithWorkers bounds pipeline parallelism. Zero or negative means one
// worker per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.cfg.Workers = n
	}
}

// WithExclude adds directory names to the discovery deny-list.
func WithExclude(patterns ...string) Option {
	return func(e *Engine) {
		e.cfg.Exclude = append(e.cfg.Exclude, patterns...)
	}
}

// WithPersistence enables the SQLite warm-start store at dbPath: OpenProject
// reuses the persisted snapshot when no file changed since it was saved.
func WithPersistence(dbPath string) Option {
	return func(e *Engine) {
		e.persist = dbPath
	}
}
