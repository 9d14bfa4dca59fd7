// Package garnet is an embeddable editor-assistance engine for Ruby built
// on tree-sitter. It gives a host editor live semantic understanding of a
// source tree: go-to-definition, find-references, hover with type and
// documentation content, and syntax diagnostics.
//
// # Pipeline
//
// Garnet indexes a workspace in two passes:
//
//  1. Extract: each file is parsed with tree-sitter and walked into symbols,
//     lexical scopes, raw references, and require edges. Files are
//     independent, so this pass runs in parallel.
//
//  2. Resolve: with the full extraction output as a read-only snapshot,
//     every reference is linked to its declarations by innermost-scope-first
//     lookup with a workspace-global fallback. Unknown names stay as
//     explicit unresolved placeholders.
//
// The result is an immutable Index published by an atomic pointer swap:
// in-flight queries keep the snapshot they started with, and no reader ever
// observes a half-built one.
//
// # Usage
//
// Create an Engine, open a project, and query:
//
//	e := garnet.New()
//	defer e.Close()
//
//	ctx := context.Background()
//	if err := e.OpenProject(ctx, "path/to/project"); err != nil { ... }
//
//	locs := e.Definition("lib/app.rb", 10, 5)
//	refs := e.References("lib/app.rb", 10, 5, true)
//	hov := e.Hover(ctx, "lib/app.rb", 10, 5)
//	diags := e.Diagnostics(ctx, "lib/app.rb")
//
// Edits flow in through [Engine.UpdateDocument], which invalidates that
// file's cache entries, re-extracts it, and re-resolves only the files in
// the change's blast radius. Rapid successive updates to the same file are
// last-write-wins: a stale in-flight reindex is discarded, never merged.
//
// # Interpreter bridge
//
// Type and documentation facts that syntax cannot supply come from an
// external interpreter process (see the internal/bridge package). Every
// bridge call is bounded by a timeout and coalesced per key; when the
// bridge is slow or absent, hover degrades to syntactic content instead of
// failing.
//
// # Project metadata
//
// OpenProject reads the Gemfile and Gemfile.lock into a read-only
// ProjectContext. A missing or broken manifest degrades the engine to
// single-file mode; it is reported once and never blocks indexing.
package garnet
