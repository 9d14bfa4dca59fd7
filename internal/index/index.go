// Package index holds the unified read-only snapshot the providers query:
// per-file symbol partitions, the workspace-global symbol table, the
// reference table, and type annotations. A snapshot is immutable once built;
// the pipeline publishes a fresh one via an atomic pointer swap so in-flight
// readers keep the snapshot they started with.
package index

import (
	"sort"

	"github.com/garnet-dev/garnet/internal/parser"
)

// FileIndex is the pass-1 output for a single file: its scope tree, declared
// symbols, raw references, and require edges. A FileIndex is shared between
// consecutive snapshots when the file did not change; its Refs slice is
// replaced (never mutated) when the file needs re-resolution.
type FileIndex struct {
	Path    string
	Version int64
	Hash    string

	// Tree is the parse this partition was extracted from; diagnostics
	// are derived from it on demand.
	Tree *parser.SyntaxTree

	Root    *Scope
	Symbols []*Symbol
	Refs    []*Reference

	// Requires lists require/require_relative arguments, used as reverse
	// dependency edges for incremental re-resolution.
	Requires []string

	// Types holds syntactically inferred annotations for this file's
	// symbols (literal assignment and direct propagation).
	Types map[*Symbol]TypeInfo
}

// ReferencedNames returns the set of names this file refers to, resolved or
// not. The pipeline intersects it with a changed file's declaration delta to
// decide which files need re-resolution.
func (f *FileIndex) ReferencedNames() map[string]struct{} {
	names := make(map[string]struct{}, len(f.Refs))
	for _, r := range f.Refs {
		names[r.Name] = struct{}{}
	}
	return names
}

// Index is the workspace snapshot. All maps are built once and never written
// after Freeze; concurrent readers need no locking.
type Index struct {
	Files        map[string]*FileIndex
	Names        map[string][]*Symbol
	RefsByTarget map[*Symbol][]*Reference
	Types        map[*Symbol]TypeInfo
}

// New returns an empty snapshot.
func New() *Index {
	return &Index{
		Files:        make(map[string]*FileIndex),
		Names:        make(map[string][]*Symbol),
		RefsByTarget: make(map[*Symbol][]*Reference),
		Types:        make(map[*Symbol]TypeInfo),
	}
}

// FreezeSymbols derives the workspace-global symbol table and type map from
// the file partitions. The pipeline calls it before reference resolution,
// which needs the global table for its fallback lookup.
func (ix *Index) FreezeSymbols() {
	ix.Names = make(map[string][]*Symbol)
	ix.Types = make(map[*Symbol]TypeInfo)
	for _, p := range ix.sortedPaths() {
		f := ix.Files[p]
		for _, sym := range f.Symbols {
			ix.Names[sym.Name] = append(ix.Names[sym.Name], sym)
		}
		for sym, ti := range f.Types {
			ix.Types[sym] = ti
		}
	}
}

// FreezeRefs derives the refs-by-target table after resolution. The snapshot
// is read-only once this returns.
func (ix *Index) FreezeRefs() {
	ix.RefsByTarget = make(map[*Symbol][]*Reference)
	for _, p := range ix.sortedPaths() {
		for _, ref := range ix.Files[p].Refs {
			for _, target := range ref.Targets {
				ix.RefsByTarget[target] = append(ix.RefsByTarget[target], ref)
			}
		}
	}
}

func (ix *Index) sortedPaths() []string {
	paths := make([]string, 0, len(ix.Files))
	for p := range ix.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SymbolAt returns the declared symbol whose identifier covers the position,
// or nil when the cursor is not on a declaration name.
func (ix *Index) SymbolAt(path string, line, col int) *Symbol {
	f, ok := ix.Files[path]
	if !ok {
		return nil
	}
	for _, sym := range f.Symbols {
		if sym.NameSpan.Contains(line, col) {
			return sym
		}
	}
	return nil
}

// ReferenceAt returns the innermost reference covering the position, or nil.
func (ix *Index) ReferenceAt(path string, line, col int) *Reference {
	f, ok := ix.Files[path]
	if !ok {
		return nil
	}
	var best *Reference
	for _, ref := range f.Refs {
		if !ref.Span.Contains(line, col) {
			continue
		}
		if best == nil || best.Span.Contains(ref.Span.StartLine, ref.Span.StartCol) {
			best = ref
		}
	}
	return best
}

// Lookup resolves a name from a scope outward, falling back to the
// workspace-global table. An empty result means the name is unknown
// everywhere; that is an unresolved reference, not an error.
func (ix *Index) Lookup(scope *Scope, name string) []*Symbol {
	if scope != nil {
		if syms := scope.Lookup(name); len(syms) > 0 {
			return syms
		}
	}
	return ix.Names[name]
}

// SymbolCount reports the number of declarations across all files.
func (ix *Index) SymbolCount() int {
	n := 0
	for _, f := range ix.Files {
		n += len(f.Symbols)
	}
	return n
}

// ReferenceCount reports the number of use-sites across all files.
func (ix *Index) ReferenceCount() int {
	n := 0
	for _, f := range ix.Files {
		n += len(f.Refs)
	}
	return n
}
