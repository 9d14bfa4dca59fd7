package providers

import "github.com/garnet-dev/garnet/internal/index"

// References returns every use-site of the symbol at the position, across
// all files, sorted by (path, start position) for determinism. When
// includeDeclaration is set, the declaring sites are part of the result.
func References(ix *index.Index, path string, line, col int, includeDeclaration bool) []index.Location {
	targets := symbolUnderCursor(ix, path, line, col)
	if len(targets) == 0 {
		return nil
	}

	seen := make(map[index.Location]bool)
	var locs []index.Location
	add := func(loc index.Location) {
		if !seen[loc] {
			seen[loc] = true
			locs = append(locs, loc)
		}
	}

	for _, target := range targets {
		if includeDeclaration {
			add(target.Location())
		}
		for _, ref := range ix.RefsByTarget[target] {
			add(index.Location{Path: ref.Path, Span: ref.Span})
		}
	}
	sortLocations(locs)
	return locs
}
