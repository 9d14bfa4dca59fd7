package garnet

import (
	"github.com/garnet-dev/garnet/internal/cache"
	"github.com/garnet-dev/garnet/internal/diagnostics"
	"github.com/garnet-dev/garnet/internal/index"
	"github.com/garnet-dev/garnet/internal/project"
	"github.com/garnet-dev/garnet/internal/providers"
)

// Public type aliases for internal types used in the Engine API. These are
// Go type aliases (=), identical to the internal types at compile time.

type Span = index.Span
type Location = index.Location
type Symbol = index.Symbol
type Scope = index.Scope
type Reference = index.Reference
type TypeInfo = index.TypeInfo
type SymbolKind = index.SymbolKind

type Diagnostic = diagnostics.Diagnostic
type Severity = diagnostics.Severity

type Hover = providers.Hover

type ProjectContext = project.Context

type CacheStats = map[string]float64

// CacheConfig sizes the engine's five caches.
type CacheConfig = cache.Config
