// Package parser wraps tree-sitter's Ruby grammar behind a small API that
// always yields a tree. tree-sitter recovers from malformed input with ERROR
// and missing nodes, so downstream passes and diagnostics can rely on a tree
// being present for every file version.
package parser

import (
	"context"
	"crypto/sha256"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/ruby"
)

// SyntaxTree is the immutable parse result for one version of one file.
type SyntaxTree struct {
	Path    string
	Content []byte
	Version int64
	Hash    string

	tree *sitter.Tree
}

// Root returns the tree's root node.
func (t *SyntaxTree) Root() *sitter.Node { return t.tree.RootNode() }

// HasErrors reports whether the parse produced any error or missing nodes.
func (t *SyntaxTree) HasErrors() bool { return t.tree.RootNode().HasError() }

// Text returns the source text covered by a node.
func (t *SyntaxTree) Text(n *sitter.Node) string { return n.Content(t.Content) }

// Parser parses Ruby source. A Parser is not safe for concurrent use; each
// pipeline worker owns one.
type Parser struct {
	p *sitter.Parser
}

// New creates a Ruby parser.
func New() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(ruby.GetLanguage())
	return &Parser{p: p}
}

// Parse produces a SyntaxTree for the given file content. It never returns a
// nil tree for non-nil error: malformed input yields a tree with error nodes.
func (p *Parser) Parse(ctx context.Context, path string, content []byte, version int64) (*SyntaxTree, error) {
	tree, err := p.p.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &SyntaxTree{
		Path:    path,
		Content: content,
		Version: version,
		Hash:    HashContent(content),
		tree:    tree,
	}, nil
}

// HashContent returns the content hash used for change detection.
func HashContent(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
