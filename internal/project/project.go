// Package project loads read-only project metadata from a Gemfile and its
// lock file. A load failure degrades the engine to single-file mode; it is
// reported once at startup and never blocks later operations.
package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/garnet-dev/garnet/internal/parser"
)

// ErrManifestNotFound is returned when the root has no Gemfile.
var ErrManifestNotFound = errors.New("project: manifest not found")

// ParseError reports a malformed manifest with the offending location.
type ParseError struct {
	Path string
	Line int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("project: parse %s:%d", e.Path, e.Line+1)
}

// UnresolvedDependencyError reports a Gemfile dependency missing from the
// lock file.
type UnresolvedDependencyError struct {
	Name string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("project: unresolved dependency %q", e.Name)
}

// Context is the immutable project metadata. A fresh Load replaces it
// wholesale; it is never mutated in place.
type Context struct {
	Root         string
	Name         string
	Dependencies []string
	// DependencyPaths maps each locked dependency to its resolved
	// installation path under the bundle directory.
	DependencyPaths map[string]string
}

// Load parses root's Gemfile and Gemfile.lock into a Context.
func Load(root string) (*Context, error) {
	manifestPath := filepath.Join(root, "Gemfile")
	content, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, manifestPath)
	}

	deps, err := parseManifest(manifestPath, content)
	if err != nil {
		return nil, err
	}

	pc := &Context{
		Root:            root,
		Name:            projectName(root),
		Dependencies:    deps,
		DependencyPaths: make(map[string]string),
	}

	lockPath := filepath.Join(root, "Gemfile.lock")
	lock, err := os.ReadFile(lockPath)
	if err != nil {
		// No lock file: dependencies are declared but unresolved.
		if len(deps) > 0 {
			return pc, &UnresolvedDependencyError{Name: deps[0]}
		}
		return pc, nil
	}

	versions := parseLock(lock)
	bundle := filepath.Join(root, "vendor", "bundle")
	for _, dep := range deps {
		ver, ok := versions[dep]
		if !ok {
			return pc, &UnresolvedDependencyError{Name: dep}
		}
		pc.DependencyPaths[dep] = filepath.Join(bundle, "gems", dep+"-"+ver)
	}
	return pc, nil
}

// parseManifest extracts gem names from the Gemfile. A Gemfile is Ruby
// source, so it goes through the same tree-sitter grammar as the workspace:
// every `gem "name"` call contributes one direct dependency.
func parseManifest(path string, content []byte) ([]string, error) {
	tree, err := parser.New().Parse(context.Background(), path, content, 0)
	if err != nil {
		return nil, &ParseError{Path: path}
	}
	root := tree.Root()
	if root.HasError() {
		if bad := firstErrorNode(root); bad != nil {
			return nil, &ParseError{Path: path, Line: int(bad.StartPoint().Row)}
		}
		return nil, &ParseError{Path: path}
	}

	var deps []string
	seen := make(map[string]bool)
	collectGemCalls(root, tree, func(name string) {
		if !seen[name] {
			seen[name] = true
			deps = append(deps, name)
		}
	})
	return deps, nil
}

func collectGemCalls(n *sitter.Node, tree *parser.SyntaxTree, emit func(string)) {
	if n.Type() == "call" || n.Type() == "command" {
		method := n.ChildByFieldName("method")
		if method != nil && tree.Text(method) == "gem" {
			if args := n.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
				first := args.NamedChild(0)
				if first.Type() == "string" {
					emit(stripQuotes(tree.Text(first)))
				}
			}
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		collectGemCalls(n.Child(i), tree, emit)
	}
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// parseLock reads the GEM specs section of a Gemfile.lock. The format is the
// indentation-based one Bundler writes:
//
//	GEM
//	  specs:
//	    rake (13.0.6)
//	      dependency (>= 1.0)
//
// Only top-level entries (four-space indent) carry resolved versions;
// deeper lines are transitive constraints.
func parseLock(content []byte) map[string]string {
	versions := make(map[string]string)
	inSpecs := false
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case trimmed == "GEM":
			inSpecs = false
		case strings.TrimSpace(trimmed) == "specs:":
			inSpecs = true
		case trimmed != "" && !strings.HasPrefix(trimmed, " "):
			// A new top-level section (PLATFORMS, DEPENDENCIES, ...).
			inSpecs = false
		case inSpecs && strings.HasPrefix(trimmed, "    ") && !strings.HasPrefix(trimmed, "      "):
			name, ver, ok := splitSpecLine(strings.TrimSpace(trimmed))
			if ok {
				versions[name] = ver
			}
		}
	}
	return versions
}

func splitSpecLine(s string) (name, version string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return "", "", false
	}
	name = strings.TrimSpace(s[:open])
	version = strings.TrimSuffix(s[open+1:], ")")
	if name == "" || version == "" {
		return "", "", false
	}
	return name, version, true
}

// projectName prefers a gemspec basename over the directory name.
func projectName(root string) string {
	matches, _ := filepath.Glob(filepath.Join(root, "*.gemspec"))
	if len(matches) > 0 {
		return strings.TrimSuffix(filepath.Base(matches[0]), ".gemspec")
	}
	return filepath.Base(root)
}
