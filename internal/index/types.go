package index

// Span is a source region in zero-based line/column coordinates, as reported
// by tree-sitter points.
type Span struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Contains reports whether the position (line, col) falls inside the span.
// The end position is inclusive so a cursor sitting at the last character of
// an identifier still hits it.
func (s Span) Contains(line, col int) bool {
	if line < s.StartLine || line > s.EndLine {
		return false
	}
	if line == s.StartLine && col < s.StartCol {
		return false
	}
	if line == s.EndLine && col > s.EndCol {
		return false
	}
	return true
}

// Before orders spans by (start line, start column).
func (s Span) Before(o Span) bool {
	if s.StartLine != o.StartLine {
		return s.StartLine < o.StartLine
	}
	return s.StartCol < o.StartCol
}

// Location is a span within a specific file.
type Location struct {
	Path string
	Span Span
}

// SymbolKind classifies a declaration.
type SymbolKind string

const (
	KindMethod          SymbolKind = "method"
	KindSingletonMethod SymbolKind = "singleton_method"
	KindClass           SymbolKind = "class"
	KindModule          SymbolKind = "module"
	KindConstant        SymbolKind = "constant"
	KindVariable        SymbolKind = "variable"
	KindAttribute       SymbolKind = "attribute"
)

// Symbol is a named declaration with a defining location and owning scope.
type Symbol struct {
	ID        int64
	Name      string
	Kind      SymbolKind
	Path      string
	Span      Span // the whole declaration
	NameSpan  Span // just the identifier
	Scope     *Scope
	Signature string
}

// Location returns the symbol's defining location (its identifier span).
func (s *Symbol) Location() Location {
	return Location{Path: s.Path, Span: s.NameSpan}
}

// ScopeKind classifies a lexical region.
type ScopeKind string

const (
	ScopeSource ScopeKind = "source"
	ScopeModule ScopeKind = "module"
	ScopeClass  ScopeKind = "class"
	ScopeMethod ScopeKind = "method"
	ScopeBlock  ScopeKind = "block"
)

// Scope is a lexical region owning the symbols declared directly within it.
// The file's root scope has a nil Parent.
type Scope struct {
	Kind     ScopeKind
	Path     string
	Span     Span
	Parent   *Scope
	Children []*Scope
	Symbols  map[string][]*Symbol
}

// Declare records a symbol as directly owned by the scope.
func (sc *Scope) Declare(sym *Symbol) {
	if sc.Symbols == nil {
		sc.Symbols = make(map[string][]*Symbol)
	}
	sym.Scope = sc
	sc.Symbols[sym.Name] = append(sc.Symbols[sym.Name], sym)
}

// Lookup resolves a name starting at the scope and walking toward the root,
// returning the declarations of the innermost scope that knows the name.
func (sc *Scope) Lookup(name string) []*Symbol {
	for s := sc; s != nil; s = s.Parent {
		if syms, ok := s.Symbols[name]; ok {
			return syms
		}
	}
	return nil
}

// InnermostAt descends the scope tree to the tightest scope containing the
// position. Returns the receiver when no child contains it.
func (sc *Scope) InnermostAt(line, col int) *Scope {
	for _, child := range sc.Children {
		if child.Span.Contains(line, col) {
			return child.InnermostAt(line, col)
		}
	}
	return sc
}

// Reference is a use-site of a name. Targets is nil while unresolved; the
// placeholder is kept so a later pipeline run can re-resolve it.
type Reference struct {
	Name    string
	Path    string
	Span    Span
	Scope   *Scope
	Targets []*Symbol
}

// Resolved reports whether the reference points at at least one declaration.
func (r *Reference) Resolved() bool { return len(r.Targets) > 0 }

// TypeSource tags where a type annotation came from.
type TypeSource string

const (
	// TypeSyntactic marks types derived from literals and direct
	// assignment propagation during indexing.
	TypeSyntactic TypeSource = "syntactic"
	// TypeInterpreter marks types supplied by the external interpreter
	// bridge on demand.
	TypeInterpreter TypeSource = "interpreter"
)

// TypeInfo is an optional annotation attached to a symbol or expression.
type TypeInfo struct {
	Name   string
	Source TypeSource
}
