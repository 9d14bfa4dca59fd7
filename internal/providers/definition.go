// Package providers implements the editor-facing queries: definition,
// references, and hover. Every provider is a stateless function over an
// Index snapshot and a position; in-flight calls keep reading the snapshot
// they were handed even while the pipeline publishes a newer one.
package providers

import (
	"sort"

	"github.com/garnet-dev/garnet/internal/index"
)

// Definition resolves the symbol under the cursor to its defining locations.
// Multiple results occur only for legitimately multiply-declared names; an
// unknown name yields an empty result, never an error.
func Definition(ix *index.Index, path string, line, col int) []index.Location {
	// Cursor on a declaration name: the declaration is its own definition.
	if sym := ix.SymbolAt(path, line, col); sym != nil {
		return []index.Location{sym.Location()}
	}

	ref := ix.ReferenceAt(path, line, col)
	if ref == nil {
		return nil
	}
	locs := make([]index.Location, 0, len(ref.Targets))
	for _, target := range ref.Targets {
		locs = append(locs, target.Location())
	}
	sortLocations(locs)
	return locs
}

// symbolUnderCursor finds the declared symbol the request is about: either
// the declaration at the position or the single/multiple targets of the
// reference there.
func symbolUnderCursor(ix *index.Index, path string, line, col int) []*index.Symbol {
	if sym := ix.SymbolAt(path, line, col); sym != nil {
		return []*index.Symbol{sym}
	}
	if ref := ix.ReferenceAt(path, line, col); ref != nil {
		return ref.Targets
	}
	return nil
}

func sortLocations(locs []index.Location) {
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].Path != locs[j].Path {
			return locs[i].Path < locs[j].Path
		}
		return locs[i].Span.Before(locs[j].Span)
	})
}
