// Package pipeline builds the workspace Index in two passes: a per-file
// extraction pass (parse, symbols, scopes, raw references) that runs in
// parallel, and a resolution pass that links references to declarations
// against the completed extraction snapshot. Incremental updates reuse the
// extraction output of unaffected files and re-resolve only the blast
// radius of a change.
package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/garnet-dev/garnet/internal/index"
	"github.com/garnet-dev/garnet/internal/parser"
)

// Source is one file's content handed to the pipeline.
type Source struct {
	Path    string
	Content []byte
	Version int64
}

// Pipeline turns sources into Index snapshots. It is stateless between
// runs; callers own snapshot publication.
type Pipeline struct {
	log     *slog.Logger
	workers int
}

// New creates a Pipeline. workers <= 0 means one worker per CPU.
func New(log *slog.Logger, workers int) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pipeline{log: log, workers: workers}
}

// Build runs the full two-pass pipeline over all sources. Per-file failures
// are logged and skipped; one broken file never aborts the run.
func (p *Pipeline) Build(ctx context.Context, sources []Source) (*index.Index, error) {
	ix := index.New()

	// Pass 1: parallel parse + extract. Each worker owns a parser since
	// tree-sitter parsers are not goroutine-safe.
	var mu sync.Mutex
	work := make(chan Source)
	g, gctx := errgroup.WithContext(ctx)
	for range min(p.workers, max(len(sources), 1)) {
		g.Go(func() error {
			ps := parser.New()
			for src := range work {
				f, err := extractSource(gctx, ps, src)
				if err != nil {
					p.log.Warn("extraction failed, file skipped",
						"path", src.Path, "error", err)
					continue
				}
				mu.Lock()
				ix.Files[f.Path] = f
				mu.Unlock()
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(work)
		for _, src := range sources {
			select {
			case work <- src:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Pass 2: resolution against the completed extraction snapshot.
	ix.FreezeSymbols()
	for _, f := range ix.Files {
		resolveFile(ix, f)
	}
	ix.FreezeRefs()
	return ix, nil
}

// Update produces a new snapshot from prev with one file re-extracted. Only
// files in the change's blast radius are re-resolved; everything else is
// shared with prev untouched, so readers of prev stay consistent.
func (p *Pipeline) Update(ctx context.Context, prev *index.Index, src Source) (*index.Index, error) {
	fresh, err := extractSource(ctx, parser.New(), src)
	if err != nil {
		return nil, err
	}

	old := prev.Files[src.Path]
	affected := affectedNames(old, fresh)
	structural := structuralChange(old, fresh)

	next := index.New()
	for path, f := range prev.Files {
		next.Files[path] = f
	}
	next.Files[src.Path] = fresh

	dirty := map[string]bool{src.Path: true}
	for path, f := range prev.Files {
		if path == src.Path {
			continue
		}
		if referencesAny(f, affected) {
			dirty[path] = true
		}
		if structural && requiresFile(f, src.Path) {
			dirty[path] = true
		}
	}

	// Dirty files get cloned partitions with fresh reference slices so
	// prev's resolved references are never mutated underneath a reader.
	for path := range dirty {
		if path == src.Path {
			continue
		}
		next.Files[path] = cloneForResolve(prev.Files[path])
	}

	next.FreezeSymbols()
	for path := range dirty {
		resolveFile(next, next.Files[path])
	}
	next.FreezeRefs()

	p.log.Debug("incremental update",
		"path", src.Path, "affected_names", len(affected), "reresolved", len(dirty))
	return next, nil
}

// Remove produces a new snapshot without the given file, re-resolving every
// file that referenced one of its declarations. Those references become
// unresolved placeholders, not stale pointers.
func (p *Pipeline) Remove(prev *index.Index, path string) *index.Index {
	old, ok := prev.Files[path]
	if !ok {
		return prev
	}
	affected := make(map[string]bool)
	for _, sym := range old.Symbols {
		affected[sym.Name] = true
	}

	next := index.New()
	for fp, f := range prev.Files {
		if fp == path {
			continue
		}
		next.Files[fp] = f
	}
	for fp, f := range prev.Files {
		if fp == path {
			continue
		}
		if referencesAny(f, affected) || requiresFile(f, path) {
			next.Files[fp] = cloneForResolve(f)
		}
	}

	next.FreezeSymbols()
	for fp, f := range next.Files {
		if _, shared := prev.Files[fp]; shared && f == prev.Files[fp] {
			continue
		}
		resolveFile(next, f)
	}
	next.FreezeRefs()
	return next
}

func extractSource(ctx context.Context, ps *parser.Parser, src Source) (*index.FileIndex, error) {
	tree, err := ps.Parse(ctx, src.Path, src.Content, src.Version)
	if err != nil {
		return nil, err
	}
	return extract(tree), nil
}

// resolveFile links each raw reference to its targets: innermost scope
// first, then ancestor scopes, then the workspace-global table. A name
// unknown everywhere stays an explicit unresolved placeholder.
func resolveFile(ix *index.Index, f *index.FileIndex) {
	for _, ref := range f.Refs {
		ref.Targets = ix.Lookup(ref.Scope, ref.Name)
	}
}

// cloneForResolve shallow-copies a partition with a fresh Refs slice whose
// entries carry no targets yet. Scopes, symbols, and the tree are shared
// with the previous snapshot; only resolution state is rebuilt.
func cloneForResolve(f *index.FileIndex) *index.FileIndex {
	clone := *f
	clone.Refs = make([]*index.Reference, len(f.Refs))
	for i, r := range f.Refs {
		clone.Refs[i] = &index.Reference{
			Name:  r.Name,
			Path:  r.Path,
			Span:  r.Span,
			Scope: r.Scope,
		}
	}
	return &clone
}

// affectedNames is the set of declaration names whose meaning may have
// changed between two versions of a file: added, removed, or re-signatured.
// affectedNames is the union of the file's old and new declaration names.
// Re-extraction replaces every one of the file's symbol objects, so each
// referrer of any of these names must re-resolve against the fresh
// declarations; even a pure location shift moves the target objects.
func affectedNames(old, fresh *index.FileIndex) map[string]bool {
	affected := make(map[string]bool)
	if old != nil {
		for _, sym := range old.Symbols {
			affected[sym.Name] = true
		}
	}
	for _, sym := range fresh.Symbols {
		affected[sym.Name] = true
	}
	return affected
}

func declarationNames(f *index.FileIndex) map[string]bool {
	if f == nil {
		return nil
	}
	names := make(map[string]bool, len(f.Symbols))
	for _, sym := range f.Symbols {
		names[sym.Name] = true
	}
	return names
}

// structuralChange reports whether declarations were added or removed, which
// widens the blast radius to files requiring the changed file.
func structuralChange(old, fresh *index.FileIndex) bool {
	oldNames := declarationNames(old)
	newNames := declarationNames(fresh)
	if len(oldNames) != len(newNames) {
		return true
	}
	for name := range oldNames {
		if !newNames[name] {
			return true
		}
	}
	return false
}

func referencesAny(f *index.FileIndex, names map[string]bool) bool {
	for _, ref := range f.Refs {
		if names[ref.Name] {
			return true
		}
	}
	return false
}

// requiresFile matches a require target against a file path: `require_relative
// "util"` depends on any file whose path ends in util.rb.
func requiresFile(f *index.FileIndex, path string) bool {
	feature := strings.TrimSuffix(filepath.ToSlash(path), ".rb")
	for _, req := range f.Requires {
		req = strings.TrimSuffix(req, ".rb")
		if feature == req || strings.HasSuffix(feature, "/"+req) {
			return true
		}
	}
	return false
}
