package providers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/garnet-dev/garnet/internal/bridge"
	"github.com/garnet-dev/garnet/internal/cache"
	"github.com/garnet-dev/garnet/internal/index"
	"github.com/garnet-dev/garnet/internal/parser"
)

// Hover is the composed hover payload for a position.
type Hover struct {
	Signature     string
	Kind          string
	TypeName      string
	TypeSource    index.TypeSource
	Documentation string
	Span          index.Span
}

// HoverProvider composes hover content cheapest-first: syntactic facts from
// the snapshot, then cached interpreter results, and only on a cache miss a
// bounded call to the interpreter bridge. Bridge failure or timeout degrades
// to syntactic-only content; it never fails the request.
type HoverProvider struct {
	Caches *cache.Manager
	Bridge bridge.Client
	Log    *slog.Logger
}

// At returns the hover for the position, or nil when nothing is there.
func (h *HoverProvider) At(ctx context.Context, ix *index.Index, path string, line, col int) *Hover {
	key := cache.PositionKey{Path: path, Line: line, Col: col}
	if cached, ok := h.Caches.Hover.Get(key); ok {
		return hoverFromCache(cached)
	}

	sym, span := h.target(ix, path, line, col)
	if sym == nil {
		// An unresolved reference still gets syntactic-only content; the
		// bridge is bounded, so the request never blocks past its timeout.
		if ref := ix.ReferenceAt(path, line, col); ref != nil {
			out := &Hover{Signature: ref.Name, Kind: "unknown", Span: ref.Span}
			out.TypeName, out.TypeSource = h.inferType(ctx, &index.Symbol{Name: ref.Name}, path, line, col)
			return out
		}
		return nil
	}

	out := &Hover{
		Signature: sym.Signature,
		Kind:      string(sym.Kind),
		Span:      span,
	}
	if out.Signature == "" {
		out.Signature = sym.Name
	}

	// Syntactic type, when indexing derived one.
	if ti, ok := ix.Types[sym]; ok {
		out.TypeName = ti.Name
		out.TypeSource = ti.Source
	}

	// Interpreter-derived type: cache first, bridge on miss only.
	if out.TypeName == "" {
		out.TypeName, out.TypeSource = h.inferType(ctx, sym, path, line, col)
	}
	h.attachDocs(ctx, ix, sym, out)

	h.Caches.Hover.Put(key, cache.HoverValue{
		Signature:     out.Signature,
		Kind:          out.Kind,
		TypeName:      out.TypeName,
		TypeSource:    out.TypeSource,
		Documentation: out.Documentation,
		Span:          out.Span,
		TargetPath:    sym.Path,
	})
	return out
}

// target finds the symbol the cursor is about and the span to highlight.
func (h *HoverProvider) target(ix *index.Index, path string, line, col int) (*index.Symbol, index.Span) {
	if sym := ix.SymbolAt(path, line, col); sym != nil {
		return sym, sym.NameSpan
	}
	if ref := ix.ReferenceAt(path, line, col); ref != nil && len(ref.Targets) > 0 {
		return ref.Targets[0], ref.Span
	}
	return nil, index.Span{}
}

func (h *HoverProvider) inferType(ctx context.Context, sym *index.Symbol, path string, line, col int) (string, index.TypeSource) {
	key := cache.TypeKey{Path: path, Line: line, Col: col, ExprHash: parser.HashContent([]byte(sym.Name))}
	if ti, ok := h.Caches.Types.Get(key); ok {
		return ti.Name, ti.Source
	}

	typeName, err := h.Bridge.InferType(ctx, path, line, col, sym.Name)
	if err != nil {
		// Best effort only. Syntactic content already stands on its own.
		h.log().Debug("bridge type inference unavailable",
			"path", path, "line", line, "error", err)
		return "", ""
	}
	ti := index.TypeInfo{Name: typeName, Source: index.TypeInterpreter}
	h.Caches.Types.Put(key, ti)
	return ti.Name, ti.Source
}

func (h *HoverProvider) attachDocs(ctx context.Context, ix *index.Index, sym *index.Symbol, out *Hover) {
	qualified := qualifiedName(sym)
	if docs, ok := h.Caches.Docs.Get(qualified); ok {
		out.Documentation = docs
		return
	}
	docs, err := h.Bridge.LookupDocs(ctx, qualified)
	if err != nil {
		if err != bridge.ErrNotFound {
			h.log().Debug("bridge docs lookup unavailable", "name", qualified, "error", err)
		}
		return
	}
	out.Documentation = docs
	h.Caches.Docs.Put(qualified, docs)
}

// qualifiedName walks the owning scopes to produce Container::name or
// Container#name for instance methods, the form the interpreter's
// documentation lookup expects.
func qualifiedName(sym *index.Symbol) string {
	var containers []string
	for sc := sym.Scope; sc != nil; sc = sc.Parent {
		if sc.Kind != index.ScopeClass && sc.Kind != index.ScopeModule {
			continue
		}
		if name := containerName(sc); name != "" {
			containers = append([]string{name}, containers...)
		}
	}
	if len(containers) == 0 {
		return sym.Name
	}
	prefix := strings.Join(containers, "::")
	if sym.Kind == index.KindMethod || sym.Kind == index.KindAttribute {
		return prefix + "#" + sym.Name
	}
	if sym.Kind == index.KindSingletonMethod {
		return prefix + "." + sym.Name
	}
	return prefix + "::" + sym.Name
}

// containerName finds the class/module symbol declared for a scope by
// looking it up in the parent scope at the same span start.
func containerName(sc *index.Scope) string {
	if sc.Parent == nil {
		return ""
	}
	for _, syms := range sc.Parent.Symbols {
		for _, s := range syms {
			if s.Span == sc.Span && (s.Kind == index.KindClass || s.Kind == index.KindModule) {
				return s.Name
			}
		}
	}
	return ""
}

func (h *HoverProvider) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func hoverFromCache(v cache.HoverValue) *Hover {
	return &Hover{
		Signature:     v.Signature,
		Kind:          v.Kind,
		TypeName:      v.TypeName,
		TypeSource:    v.TypeSource,
		Documentation: v.Documentation,
		Span:          v.Span,
	}
}
