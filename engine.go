package garnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/garnet-dev/garnet/internal/bridge"
	"github.com/garnet-dev/garnet/internal/cache"
	"github.com/garnet-dev/garnet/internal/config"
	"github.com/garnet-dev/garnet/internal/diagnostics"
	"github.com/garnet-dev/garnet/internal/discovery"
	"github.com/garnet-dev/garnet/internal/index"
	"github.com/garnet-dev/garnet/internal/parser"
	"github.com/garnet-dev/garnet/internal/pipeline"
	"github.com/garnet-dev/garnet/internal/project"
	"github.com/garnet-dev/garnet/internal/providers"
	"github.com/garnet-dev/garnet/internal/store"
)

// Engine orchestrates the garnet pipeline behind the operation surface a
// host editor consumes: OpenProject, UpdateDocument, Hover, Diagnostics,
// Definition, and References. All query methods are safe for concurrent use
// and read whichever Index snapshot is current when they start.
type Engine struct {
	log     *slog.Logger
	cfg     config.Config
	cfgSet  bool // cache sizes pinned by option, ignore project config
	caches  *cache.Manager
	bridge  bridge.Client
	rawOpt  bridge.Client // bridge supplied via option, nil otherwise
	pipe    *pipeline.Pipeline
	hover   *providers.HoverProvider
	persist string // sqlite path, empty means no persistence

	snapshot atomic.Pointer[index.Index]

	projectMu sync.RWMutex
	root      string
	proj      *project.Context

	// updateMu serializes pipeline runs and snapshot swaps. docGens and
	// inflight implement last-write-wins per file: a newer update bumps
	// the generation and cancels the stale run, whose output is then
	// discarded instead of merged.
	updateMu sync.Mutex
	docMu    sync.Mutex
	docGens  map[string]int64
	inflight map[string]context.CancelFunc

	db *store.Store
}

// New creates an Engine. Call OpenProject before querying.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:      slog.Default(),
		cfg:      config.Default(),
		docGens:  make(map[string]int64),
		inflight: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.caches = cache.NewManager(e.cfg.Caches)
	e.pipe = pipeline.New(e.log, e.cfg.Workers)
	e.configureBridge()
	e.snapshot.Store(index.New())
	return e
}

// Close releases the bridge process and the persistence store, if any.
func (e *Engine) Close() error {
	var errs []error
	if e.bridge != nil {
		errs = append(errs, e.bridge.Close())
	}
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	return errors.Join(errs...)
}

func (e *Engine) configureBridge() {
	inner := e.rawOpt
	if inner == nil {
		if len(e.cfg.Bridge.Command) > 0 {
			inner = bridge.NewProcess(e.cfg.Bridge.Command, e.log)
		} else {
			inner = bridge.Nop{}
		}
	}
	e.bridge = bridge.NewCoalescing(inner, e.cfg.Bridge.Timeout())
	e.hover = &providers.HoverProvider{Caches: e.caches, Bridge: e.bridge, Log: e.log}
}

// OpenProject loads project metadata, discovers the workspace, and builds
// the initial Index. Manifest problems are reported once and degrade the
// engine to single-file mode; they never block indexing. The returned error
// is reserved for failures that leave the engine without any snapshot.
func (e *Engine) OpenProject(ctx context.Context, root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("open project: %w", err)
	}

	if cfg, err := config.Load(absRoot); err != nil {
		e.log.Warn("project config ignored", "error", err)
	} else {
		e.applyProjectConfig(cfg)
	}

	proj, projErr := project.Load(absRoot)
	if projErr != nil {
		// Reported once, here. Queries carry on in single-file mode.
		e.log.Warn("project manifest unavailable, continuing in single-file mode",
			"root", absRoot, "error", projErr)
	}
	e.projectMu.Lock()
	e.root = absRoot
	e.proj = proj
	e.projectMu.Unlock()

	sources, err := e.discoverSources(absRoot)
	if err != nil {
		return fmt.Errorf("open project: discover: %w", err)
	}

	if e.persist != "" {
		if ix, ok := e.tryWarmStart(sources); ok {
			e.snapshot.Store(ix)
			e.primeDocumentCache(ix)
			e.log.Info("project opened from persisted snapshot",
				"root", absRoot, "files", len(ix.Files))
			return nil
		}
	}

	ix, err := e.pipe.Build(ctx, sources)
	if err != nil {
		return fmt.Errorf("open project: index: %w", err)
	}
	e.snapshot.Store(ix)
	e.primeDocumentCache(ix)
	e.saveSnapshot(ix)

	e.log.Info("project opened",
		"root", absRoot,
		"files", len(ix.Files),
		"symbols", ix.SymbolCount(),
		"references", ix.ReferenceCount())
	return nil
}

func (e *Engine) applyProjectConfig(cfg config.Config) {
	if !e.cfgSet {
		e.cfg.Caches = cfg.Caches
		// Resize in place; hit and miss counters run for the whole process.
		e.caches.Resize(cfg.Caches)
	}
	e.cfg.Exclude = append(e.cfg.Exclude, cfg.Exclude...)
	if cfg.Workers > 0 {
		e.cfg.Workers = cfg.Workers
		e.pipe = pipeline.New(e.log, cfg.Workers)
	}
	if e.rawOpt == nil && len(cfg.Bridge.Command) > 0 {
		e.cfg.Bridge = cfg.Bridge
	}
	e.configureBridge()
}

func (e *Engine) discoverSources(root string) ([]pipeline.Source, error) {
	walker := discovery.NewWalker(root, e.cfg.Exclude)
	var sources []pipeline.Source
	err := walker.Walk(func(fi discovery.FileInfo) error {
		content, err := os.ReadFile(fi.Path)
		if err != nil {
			e.log.Warn("unreadable file skipped", "path", fi.Path, "error", err)
			return nil
		}
		sources = append(sources, pipeline.Source{Path: fi.Path, Content: content, Version: 1})
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, warning := range walker.Warnings() {
		e.log.Warn("discovery", "warning", warning)
	}
	return sources, nil
}

// tryWarmStart loads the persisted snapshot when every discovered file's
// hash matches what was stored. Any mismatch, extra, or missing file falls
// back to a full build.
func (e *Engine) tryWarmStart(sources []pipeline.Source) (*index.Index, bool) {
	db, err := store.Open(e.persist)
	if err != nil {
		e.log.Warn("persistence unavailable", "path", e.persist, "error", err)
		return nil, false
	}
	e.db = db

	stored, err := db.FileHashes()
	if err != nil || len(stored) != len(sources) {
		return nil, false
	}
	for _, src := range sources {
		if stored[src.Path] != parser.HashContent(src.Content) {
			return nil, false
		}
	}
	ix, maxID, err := db.Load()
	if err != nil {
		e.log.Warn("persisted snapshot unreadable, rebuilding", "error", err)
		return nil, false
	}
	pipeline.ReserveSymbolIDs(maxID)
	return ix, true
}

func (e *Engine) saveSnapshot(ix *index.Index) {
	if e.persist == "" {
		return
	}
	if e.db == nil {
		db, err := store.Open(e.persist)
		if err != nil {
			e.log.Warn("persistence unavailable", "path", e.persist, "error", err)
			return
		}
		e.db = db
	}
	if err := e.db.Save(ix); err != nil {
		e.log.Warn("snapshot not persisted", "error", err)
	}
}

func (e *Engine) primeDocumentCache(ix *index.Index) {
	for path, f := range ix.Files {
		e.caches.Document.Put(path, cache.DocumentState{Version: f.Version, Hash: f.Hash})
	}
}

// UpdateDocument replaces a file's content and reindexes it along with its
// known dependents. Identical content is a no-op thanks to the document
// cache's stored hash. When updates race on the same file, the newest wins:
// older in-flight runs are cancelled and their output discarded.
func (e *Engine) UpdateDocument(ctx context.Context, uri string, content []byte, version int64) error {
	path := e.resolvePath(uri)
	hash := parser.HashContent(content)

	if st, ok := e.caches.Document.Get(path); ok && st.Hash == hash {
		e.caches.Document.Put(path, cache.DocumentState{Version: version, Hash: hash})
		return nil
	}

	// Stale cache entries must be gone before the new snapshot exists so
	// a concurrent reader sees a miss, never an old value.
	e.caches.InvalidateFile(path)

	e.docMu.Lock()
	e.docGens[path]++
	gen := e.docGens[path]
	if cancel, ok := e.inflight[path]; ok {
		cancel()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.inflight[path] = cancel
	e.docMu.Unlock()
	defer cancel()

	e.updateMu.Lock()
	defer e.updateMu.Unlock()
	if e.generation(path) != gen {
		return nil // superseded while waiting
	}

	prev := e.snapshot.Load()
	next, err := e.pipe.Update(runCtx, prev, pipeline.Source{
		Path:    path,
		Content: content,
		Version: version,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil // cancelled by a newer update; its run will publish
		}
		return fmt.Errorf("update %s: %w", path, err)
	}
	if e.generation(path) != gen {
		return nil // a newer update arrived mid-run; discard, never merge
	}

	e.snapshot.Store(next)
	e.caches.Document.Put(path, cache.DocumentState{Version: version, Hash: hash})
	e.saveSnapshot(next)
	return nil
}

// RemoveDocument drops a deleted file from the Index. References to its
// declarations become unresolved placeholders.
func (e *Engine) RemoveDocument(uri string) {
	path := e.resolvePath(uri)
	e.caches.InvalidateFile(path)

	e.updateMu.Lock()
	defer e.updateMu.Unlock()
	next := e.pipe.Remove(e.snapshot.Load(), path)
	e.snapshot.Store(next)
	e.saveSnapshot(next)
}

func (e *Engine) generation(path string) int64 {
	e.docMu.Lock()
	defer e.docMu.Unlock()
	return e.docGens[path]
}

// Definition resolves the symbol at the position to its defining locations.
func (e *Engine) Definition(uri string, line, col int) []Location {
	return providers.Definition(e.snapshot.Load(), e.resolvePath(uri), line, col)
}

// References returns every use-site of the symbol at the position, sorted
// by (path, position).
func (e *Engine) References(uri string, line, col int, includeDeclaration bool) []Location {
	return providers.References(e.snapshot.Load(), e.resolvePath(uri), line, col, includeDeclaration)
}

// Hover composes hover content for the position: syntactic facts first,
// interpreter-derived type and docs when the bridge answers in time.
func (e *Engine) Hover(ctx context.Context, uri string, line, col int) *Hover {
	return e.hover.At(ctx, e.snapshot.Load(), e.resolvePath(uri), line, col)
}

// Diagnostics derives syntax diagnostics for one file. Files outside the
// indexed workspace are parsed on demand, so single-file mode keeps working
// when no project could be loaded.
func (e *Engine) Diagnostics(ctx context.Context, uri string) []Diagnostic {
	path := e.resolvePath(uri)
	if f, ok := e.snapshot.Load().Files[path]; ok && f.Tree != nil {
		return diagnostics.FromTree(f.Tree)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	tree, err := parser.New().Parse(ctx, path, content, 0)
	if err != nil {
		return nil
	}
	return diagnostics.FromTree(tree)
}

// Symbols returns the workspace declarations for an exact name, consulting
// the symbol cache.
func (e *Engine) Symbols(name string) []*Symbol {
	if syms, ok := e.caches.Symbol.Get(name); ok {
		return syms
	}
	syms := e.snapshot.Load().Names[name]
	if len(syms) > 0 {
		e.caches.Symbol.Put(name, syms)
	}
	return syms
}

// Project returns the loaded project metadata, or nil in single-file mode.
func (e *Engine) Project() *ProjectContext {
	e.projectMu.RLock()
	defer e.projectMu.RUnlock()
	return e.proj
}

// CacheStats reports per-cache hit rates since process start.
func (e *Engine) CacheStats() CacheStats {
	return e.caches.HitRates()
}

// FileCount reports the number of indexed files.
func (e *Engine) FileCount() int {
	return len(e.snapshot.Load().Files)
}

// SymbolCount reports the number of indexed declarations.
func (e *Engine) SymbolCount() int {
	return e.snapshot.Load().SymbolCount()
}

// resolvePath normalizes a host-supplied URI or path to the absolute path
// the Index is keyed by.
func (e *Engine) resolvePath(uri string) string {
	path := strings.TrimPrefix(uri, "file://")
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	e.projectMu.RLock()
	root := e.root
	e.projectMu.RUnlock()
	if root != "" {
		return filepath.Join(root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
