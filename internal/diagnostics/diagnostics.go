// Package diagnostics derives syntax diagnostics from a parse tree. It is a
// pure function of the tree: no state, no caching, identical trees always
// produce identical diagnostics.
package diagnostics

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/garnet-dev/garnet/internal/index"
	"github.com/garnet-dev/garnet/internal/parser"
)

// Severity follows the LSP numbering.
type Severity int

const (
	SeverityError   Severity = 1
	SeverityWarning Severity = 2
)

// Diagnostic is one structural problem with a precise range.
type Diagnostic struct {
	Span     index.Span
	Severity Severity
	Message  string
}

// FromTree walks error and missing nodes and emits one diagnostic per
// structural problem. Subtrees without errors are pruned via HasError.
func FromTree(tree *parser.SyntaxTree) []Diagnostic {
	var out []Diagnostic
	collect(tree.Root(), tree, &out)
	return out
}

func collect(n *sitter.Node, tree *parser.SyntaxTree, out *[]Diagnostic) {
	if !n.HasError() {
		return
	}
	switch {
	case n.IsMissing():
		*out = append(*out, Diagnostic{
			Span:     spanOf(n),
			Severity: SeverityError,
			Message:  missingMessage(n),
		})
		return
	case n.Type() == "ERROR":
		*out = append(*out, Diagnostic{
			Span:     spanOf(n),
			Severity: SeverityError,
			Message:  errorMessage(n, tree),
		})
		// Still descend: an ERROR node can contain missing children with
		// more precise locations.
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collect(n.Child(i), tree, out)
	}
}

// missingMessage names the token the parser had to invent, qualified by the
// construct it belongs to ("missing `end` to close method `def`").
func missingMessage(n *sitter.Node) string {
	token := n.Type()
	if owner := enclosingConstruct(n); owner != "" {
		return fmt.Sprintf("missing `%s` to close %s", token, owner)
	}
	return fmt.Sprintf("missing `%s`", token)
}

// errorMessage describes the unexpected input, truncated, with the enclosing
// construct for context.
func errorMessage(n *sitter.Node, tree *parser.SyntaxTree) string {
	text := strings.TrimSpace(tree.Text(n))
	// Rune-boundary truncation keeps multi-byte source valid UTF-8.
	if runes := []rune(text); len(runes) > 40 {
		text = string(runes[:40]) + "…"
	}
	msg := "unexpected token"
	if text != "" {
		msg = fmt.Sprintf("unexpected `%s`", firstLine(text))
	}
	if owner := enclosingConstruct(n); owner != "" {
		msg += " in " + owner
	}
	return msg
}

// constructNames maps node kinds to the label used in messages.
var constructNames = map[string]string{
	"method":           "method definition",
	"singleton_method": "method definition",
	"class":            "class body",
	"module":           "module body",
	"do_block":         "block",
	"block":            "block",
	"if":               "if statement",
	"unless":           "unless statement",
	"while":            "while loop",
	"until":            "until loop",
	"for":              "for loop",
	"case":             "case statement",
	"begin":            "begin block",
	"array":            "array literal",
	"hash":             "hash literal",
	"argument_list":    "argument list",
	"string":           "string literal",
}

func enclosingConstruct(n *sitter.Node) string {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if label, ok := constructNames[p.Type()]; ok {
			return label
		}
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
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
