package pipeline

import (
	"strings"
	"sync/atomic"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/garnet-dev/garnet/internal/index"
	"github.com/garnet-dev/garnet/internal/parser"
)

// symbolIDs hands out workspace-unique symbol IDs across pipeline runs.
var symbolIDs atomic.Int64

// ReserveSymbolIDs advances the symbol ID counter past floor, keeping IDs of
// freshly extracted symbols disjoint from a snapshot loaded from the store.
func ReserveSymbolIDs(floor int64) {
	for {
		cur := symbolIDs.Load()
		if cur >= floor || symbolIDs.CompareAndSwap(cur, floor) {
			return
		}
	}
}

// extractor walks one file's syntax tree and produces its FileIndex: scope
// tree, declared symbols, raw (unresolved) references, require edges, and
// syntactic type annotations.
type extractor struct {
	tree *parser.SyntaxTree
	file *index.FileIndex

	// propagations records `y = x` assignments whose type is copied from
	// x once the whole file has been walked.
	propagations []propagation
}

type propagation struct {
	target *index.Symbol
	source string
	scope  *index.Scope
}

// builtinCalls are method names handled structurally during extraction and
// therefore not recorded as references.
var builtinCalls = map[string]bool{
	"require":          true,
	"require_relative": true,
	"attr_accessor":    true,
	"attr_reader":      true,
	"attr_writer":      true,
}

// extract builds the FileIndex for a parsed file. Parse errors do not abort
// extraction: tree-sitter's error recovery still exposes the well-formed
// declarations around the broken region.
func extract(tree *parser.SyntaxTree) *index.FileIndex {
	root := &index.Scope{
		Kind: index.ScopeSource,
		Path: tree.Path,
		Span: spanOf(tree.Root()),
	}
	ex := &extractor{
		tree: tree,
		file: &index.FileIndex{
			Path:    tree.Path,
			Version: tree.Version,
			Hash:    tree.Hash,
			Tree:    tree,
			Root:    root,
			Types:   make(map[*index.Symbol]index.TypeInfo),
		},
	}
	ex.walk(tree.Root(), root)
	ex.propagateTypes()
	return ex.file
}

func (ex *extractor) walk(n *sitter.Node, scope *index.Scope) {
	switch n.Type() {
	case "class":
		ex.walkContainer(n, scope, index.KindClass, index.ScopeClass)
		return
	case "module":
		ex.walkContainer(n, scope, index.KindModule, index.ScopeModule)
		return
	case "method":
		ex.walkMethod(n, scope, index.KindMethod)
		return
	case "singleton_method":
		ex.walkMethod(n, scope, index.KindSingletonMethod)
		return
	case "do_block", "block":
		ex.walkBlock(n, scope)
		return
	case "assignment":
		ex.walkAssignment(n, scope)
		return
	case "call", "command":
		if ex.walkCall(n, scope) {
			return
		}
	case "identifier", "constant", "instance_variable", "class_variable", "global_variable":
		ex.maybeReference(n, scope)
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		ex.walk(n.Child(i), scope)
	}
}

// walkContainer handles class and module declarations: declare the symbol in
// the enclosing scope, open a child scope, and walk the body inside it.
func (ex *extractor) walkContainer(n *sitter.Node, scope *index.Scope, kind index.SymbolKind, scopeKind index.ScopeKind) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	ex.declare(scope, nameNode, n, kind, containerSignature(n, ex.tree))

	child := ex.openScope(scope, scopeKind, n)
	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			ex.walk(body.Child(i), child)
		}
	}
	if super := n.ChildByFieldName("superclass"); super != nil {
		// The superclass name is a use-site in the enclosing scope.
		ex.walkSuperclass(super, scope)
	}
}

func (ex *extractor) walkSuperclass(n *sitter.Node, scope *index.Scope) {
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		if child.Type() == "constant" || child.Type() == "scope_resolution" {
			ex.maybeReference(leafConstant(child), scope)
		}
	}
}

func leafConstant(n *sitter.Node) *sitter.Node {
	if n.Type() == "scope_resolution" {
		if name := n.ChildByFieldName("name"); name != nil {
			return name
		}
	}
	return n
}

func (ex *extractor) walkMethod(n *sitter.Node, scope *index.Scope, kind index.SymbolKind) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	ex.declare(scope, nameNode, n, kind, methodSignature(n, ex.tree, kind))

	child := ex.openScope(scope, index.ScopeMethod, n)
	if params := n.ChildByFieldName("parameters"); params != nil {
		ex.declareParams(params, child)
	}
	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			ex.walk(body.Child(i), child)
		}
	}
}

func (ex *extractor) walkBlock(n *sitter.Node, scope *index.Scope) {
	child := ex.openScope(scope, index.ScopeBlock, n)
	if params := n.ChildByFieldName("parameters"); params != nil {
		ex.declareParams(params, child)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "block_parameters" {
			continue
		}
		ex.walk(c, child)
	}
}

// declareParams declares each parameter name as a variable in the scope.
// Optional, keyword, splat, and block parameters all carry their identifier
// either directly or under a name field.
func (ex *extractor) declareParams(params *sitter.Node, scope *index.Scope) {
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		ident := p
		if p.Type() != "identifier" {
			if name := p.ChildByFieldName("name"); name != nil {
				ident = name
			} else if p.NamedChildCount() > 0 && p.NamedChild(0).Type() == "identifier" {
				ident = p.NamedChild(0)
			} else {
				continue
			}
		}
		ex.declare(scope, ident, p, index.KindVariable, "")
		// Default values are expressions in the enclosing scope.
		if value := p.ChildByFieldName("value"); value != nil {
			ex.walk(value, scope)
		}
	}
}

func (ex *extractor) walkAssignment(n *sitter.Node, scope *index.Scope) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil {
		return
	}
	switch left.Type() {
	case "identifier", "instance_variable", "class_variable", "global_variable":
		ex.assignTarget(left, n, right, scope, index.KindVariable)
	case "constant":
		ex.assignTarget(left, n, right, scope, index.KindConstant)
	case "left_assignment_list":
		// Multiple assignment: declare each simple target, no inference.
		for i := 0; i < int(left.NamedChildCount()); i++ {
			t := left.NamedChild(i)
			if t.Type() == "identifier" {
				ex.declare(scope, t, n, index.KindVariable, "")
			}
		}
	default:
		// Attribute or element assignment (a.b = x, a[i] = x): the
		// receiver side is a use, not a declaration.
		ex.walk(left, scope)
	}
	if right != nil {
		ex.walk(right, scope)
	}
}

// assignTarget declares (or redeclares) the assignment target and records a
// syntactic type when the right-hand side allows one.
func (ex *extractor) assignTarget(ident, decl, right *sitter.Node, scope *index.Scope, kind index.SymbolKind) {
	name := ex.tree.Text(ident)
	// Reassignment in the same scope chain is a use of the existing
	// binding, not a fresh declaration.
	var sym *index.Symbol
	if existing := scope.Lookup(name); len(existing) > 0 && kind == index.KindVariable {
		sym = existing[0]
		ex.addReference(ident, scope)
	} else {
		sym = ex.declare(scope, ident, decl, kind, assignmentSignature(decl, ex.tree))
	}
	if right == nil {
		return
	}
	if typeName, ok := literalType(right.Type()); ok {
		ex.file.Types[sym] = index.TypeInfo{Name: typeName, Source: index.TypeSyntactic}
	} else if right.Type() == "identifier" {
		ex.propagations = append(ex.propagations, propagation{
			target: sym,
			source: ex.tree.Text(right),
			scope:  scope,
		})
	}
}

// walkCall handles require edges and attr_* declarations structurally.
// Returns true when the node was fully consumed.
func (ex *extractor) walkCall(n *sitter.Node, scope *index.Scope) bool {
	method := n.ChildByFieldName("method")
	if method == nil {
		return false
	}
	name := ex.tree.Text(method)
	if !builtinCalls[name] {
		return false
	}
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return true
	}
	switch name {
	case "require", "require_relative":
		for i := 0; i < int(args.NamedChildCount()); i++ {
			if arg := args.NamedChild(i); arg.Type() == "string" {
				if target := stripQuotes(ex.tree.Text(arg)); target != "" {
					ex.file.Requires = append(ex.file.Requires, target)
				}
			}
		}
	case "attr_accessor", "attr_reader", "attr_writer":
		for i := 0; i < int(args.NamedChildCount()); i++ {
			arg := args.NamedChild(i)
			if arg.Type() == "simple_symbol" {
				attr := strings.TrimPrefix(ex.tree.Text(arg), ":")
				ex.declareNamed(scope, attr, arg, n, index.KindAttribute, name+" :"+attr)
			}
		}
	}
	return true
}

// maybeReference records a use-site unless the node sits in a declaring
// position, which the structured walk functions have already consumed.
func (ex *extractor) maybeReference(n *sitter.Node, scope *index.Scope) {
	if n == nil {
		return
	}
	ex.addReference(n, scope)
}

func (ex *extractor) addReference(n *sitter.Node, scope *index.Scope) {
	ex.file.Refs = append(ex.file.Refs, &index.Reference{
		Name:  ex.tree.Text(n),
		Path:  ex.tree.Path,
		Span:  spanOf(n),
		Scope: scope,
	})
}

func (ex *extractor) declare(scope *index.Scope, nameNode, declNode *sitter.Node, kind index.SymbolKind, signature string) *index.Symbol {
	return ex.declareNamed(scope, ex.tree.Text(nameNode), nameNode, declNode, kind, signature)
}

func (ex *extractor) declareNamed(scope *index.Scope, name string, nameNode, declNode *sitter.Node, kind index.SymbolKind, signature string) *index.Symbol {
	sym := &index.Symbol{
		ID:        symbolIDs.Add(1),
		Name:      name,
		Kind:      kind,
		Path:      ex.tree.Path,
		Span:      spanOf(declNode),
		NameSpan:  spanOf(nameNode),
		Signature: signature,
	}
	scope.Declare(sym)
	ex.file.Symbols = append(ex.file.Symbols, sym)
	return sym
}

func (ex *extractor) openScope(parent *index.Scope, kind index.ScopeKind, n *sitter.Node) *index.Scope {
	child := &index.Scope{
		Kind:   kind,
		Path:   ex.tree.Path,
		Span:   spanOf(n),
		Parent: parent,
	}
	parent.Children = append(parent.Children, child)
	return child
}

// propagateTypes copies types through direct `y = x` assignments within the
// file. A single pass suffices for chains because propagations are recorded
// in source order.
func (ex *extractor) propagateTypes() {
	for _, p := range ex.propagations {
		if _, known := ex.file.Types[p.target]; known {
			continue
		}
		for _, src := range p.scope.Lookup(p.source) {
			if ti, ok := ex.file.Types[src]; ok {
				ex.file.Types[p.target] = index.TypeInfo{Name: ti.Name, Source: index.TypeSyntactic}
				break
			}
		}
	}
}

// literalType maps literal node kinds to Ruby type names.
func literalType(nodeType string) (string, bool) {
	switch nodeType {
	case "integer":
		return "Integer", true
	case "float":
		return "Float", true
	case "string", "chained_string", "heredoc_beginning":
		return "String", true
	case "simple_symbol", "delimited_symbol":
		return "Symbol", true
	case "array", "string_array", "symbol_array":
		return "Array", true
	case "hash":
		return "Hash", true
	case "regex":
		return "Regexp", true
	case "range":
		return "Range", true
	case "lambda":
		return "Proc", true
	case "true":
		return "TrueClass", true
	case "false":
		return "FalseClass", true
	case "nil":
		return "NilClass", true
	}
	return "", false
}

func methodSignature(n *sitter.Node, tree *parser.SyntaxTree, kind index.SymbolKind) string {
	name := n.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	sig := "def "
	if kind == index.KindSingletonMethod {
		sig += "self."
	}
	sig += tree.Text(name)
	if params := n.ChildByFieldName("parameters"); params != nil {
		sig += tree.Text(params)
	}
	return sig
}

func containerSignature(n *sitter.Node, tree *parser.SyntaxTree) string {
	name := n.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	if n.Type() == "module" {
		return "module " + tree.Text(name)
	}
	sig := "class " + tree.Text(name)
	if super := n.ChildByFieldName("superclass"); super != nil {
		sig += " " + tree.Text(super)
	}
	return sig
}

func assignmentSignature(n *sitter.Node, tree *parser.SyntaxTree) string {
	text := strings.TrimSpace(tree.Text(n))
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	// Truncate on a rune boundary so multi-byte source stays valid UTF-8.
	if runes := []rune(text); len(runes) > 60 {
		text = string(runes[:60]) + "…"
	}
	return text
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func spanOf(n *sitter.Node) index.Span {
	return index.Span{
		StartLine: int(n.StartPoint().Row),
		StartCol:  int(n.StartPoint().Column),
		EndLine:   int(n.EndPoint().Row),
		EndCol:    int(n.EndPoint().Column),
	}
}
