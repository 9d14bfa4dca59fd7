package garnet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func openEngine(t *testing.T, root string, opts ...Option) *Engine {
	t.Helper()
	e := New(opts...)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.OpenProject(context.Background(), root))
	return e
}

func TestOpenProject_IndexesWorkspace(t *testing.T) {
	root := writeProject(t, map[string]string{
		"Gemfile":      "source \"https://rubygems.org\"\n",
		"lib/calc.rb":  "def add(a, b)\n  a + b\nend\n",
		"app.rb":       "require_relative \"lib/calc\"\n\nadd(1, 2)\n",
		"README.md":    "not ruby\n",
		"vendor/x.rb":  "skipped = true\n",
	})
	e := openEngine(t, root)

	assert.Equal(t, 2, e.FileCount())
	assert.NotZero(t, e.SymbolCount())
	require.NotNil(t, e.Project())
	assert.Empty(t, e.Project().Dependencies)
}

func TestOpenProject_NoManifestDegradesToSingleFileMode(t *testing.T) {
	root := writeProject(t, map[string]string{
		"solo.rb": "def f\nend\n",
	})
	e := openEngine(t, root)

	// Queries still work without project metadata.
	assert.Nil(t, e.Project())
	assert.Equal(t, 1, e.FileCount())
	locs := e.Definition("solo.rb", 0, 4)
	require.Len(t, locs, 1)
}

func TestDefinition_AcrossFiles(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f(x)\n  x + 1\nend\n",
		"b.rb": "f(2)\n",
	})
	e := openEngine(t, root)

	locs := e.Definition("b.rb", 0, 0)
	require.Len(t, locs, 1)
	assert.Equal(t, filepath.Join(root, "a.rb"), locs[0].Path)
}

func TestReferences_AfterDeclarationDeleted(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
		"b.rb": "f\n",
	})
	e := openEngine(t, root)

	require.NotEmpty(t, e.References("a.rb", 0, 4, true))

	require.NoError(t, e.UpdateDocument(context.Background(), "a.rb", []byte("# gone\n"), 2))
	assert.Empty(t, e.References("b.rb", 0, 0, true))
}

func TestUpdateDocument_CommentShiftMovesDefinition(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
		"b.rb": "f\nf\n",
	})
	e := openEngine(t, root)

	locs := e.Definition("b.rb", 0, 0)
	require.Len(t, locs, 1)
	require.Equal(t, 0, locs[0].Span.StartLine)

	// Prepending a comment shifts the declaration without changing the
	// declared names; callers must land on the new line.
	require.NoError(t, e.UpdateDocument(context.Background(), "a.rb", []byte("# note\ndef f\nend\n"), 2))

	locs = e.Definition("b.rb", 0, 0)
	require.Len(t, locs, 1)
	assert.Equal(t, 1, locs[0].Span.StartLine)
	assert.Len(t, e.References("b.rb", 0, 0, false), 2)
}

func TestHover_RefreshesAfterTargetFileEdit(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f(x)\nend\n",
		"b.rb": "f(2)\n",
	})
	e := openEngine(t, root)

	h := e.Hover(context.Background(), "b.rb", 0, 0)
	require.NotNil(t, h)
	require.Equal(t, "def f(x)", h.Signature)

	// The call-site hover embeds a.rb's signature, so editing a.rb must
	// drop the cached entry even though the position is in b.rb.
	require.NoError(t, e.UpdateDocument(context.Background(), "a.rb", []byte("def f(x, y)\nend\n"), 2))

	h = e.Hover(context.Background(), "b.rb", 0, 0)
	require.NotNil(t, h)
	assert.Equal(t, "def f(x, y)", h.Signature)
}

func TestSymbols_SeesDeclarationAddedElsewhere(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def helper\nend\n",
	})
	e := openEngine(t, root)

	require.Len(t, e.Symbols("helper"), 1)

	// The cached list for "helper" was built before b.rb existed; the
	// edit must not leave it serving a one-entry answer.
	require.NoError(t, e.UpdateDocument(context.Background(), "b.rb", []byte("def helper\nend\n"), 1))
	assert.Len(t, e.Symbols("helper"), 2)
}

func TestUpdateDocument_IdenticalContentIsNoop(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
	})
	e := openEngine(t, root)

	before := e.snapshot.Load()
	require.NoError(t, e.UpdateDocument(context.Background(), "a.rb", []byte("def f\nend\n"), 2))
	assert.Same(t, before, e.snapshot.Load(), "identical content must not publish a new snapshot")
}

func TestUpdateDocument_LastWriteWins(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
	})
	e := openEngine(t, root)

	const writers = 16
	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			content := fmt.Sprintf("def f_%d\nend\n", i)
			e.UpdateDocument(context.Background(), "a.rb", []byte(content), int64(i+1))
		}()
	}
	wg.Wait()

	// One final serialized write settles the file; the snapshot must
	// reflect it and nothing older.
	final := []byte("def final\nend\n")
	require.NoError(t, e.UpdateDocument(context.Background(), "a.rb", final, writers+2))

	assert.Len(t, e.Symbols("final"), 1)
	for i := 1; i <= writers; i++ {
		assert.Empty(t, e.snapshot.Load().Names[fmt.Sprintf("f_%d", i)])
	}
}

func TestUpdateDocument_NewFileJoinsIndex(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "helper\n",
	})
	e := openEngine(t, root)
	assert.Empty(t, e.Definition("a.rb", 0, 0))

	require.NoError(t, e.UpdateDocument(context.Background(), "new.rb", []byte("def helper\nend\n"), 1))
	locs := e.Definition("a.rb", 0, 0)
	require.Len(t, locs, 1)
	assert.Equal(t, filepath.Join(root, "new.rb"), locs[0].Path)
}

func TestRemoveDocument_UnresolvesCallers(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
		"b.rb": "f\n",
	})
	e := openEngine(t, root)

	e.RemoveDocument("a.rb")
	assert.Equal(t, 1, e.FileCount())
	assert.Empty(t, e.Definition("b.rb", 0, 0))
}

func TestDiagnostics_IndexedAndOnDemand(t *testing.T) {
	root := writeProject(t, map[string]string{
		"broken.rb": "def broken\n",
	})
	e := openEngine(t, root)

	diags := e.Diagnostics(context.Background(), "broken.rb")
	require.NotEmpty(t, diags)
	assert.Equal(t, Severity(1), diags[0].Severity)

	// A file outside the workspace parses on demand.
	outside := filepath.Join(t.TempDir(), "outside.rb")
	require.NoError(t, os.WriteFile(outside, []byte("def also_broken\n"), 0o644))
	assert.NotEmpty(t, e.Diagnostics(context.Background(), outside))
}

func TestHover_ComposedFromSnapshot(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "count = 42\n",
	})
	e := openEngine(t, root)

	h := e.Hover(context.Background(), "a.rb", 0, 2)
	require.NotNil(t, h)
	assert.Equal(t, "Integer", h.TypeName)
}

func TestHover_FileURIAccepted(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
	})
	e := openEngine(t, root)

	h := e.Hover(context.Background(), "file://"+filepath.Join(root, "a.rb"), 0, 4)
	require.NotNil(t, h)
	assert.Equal(t, "def f", h.Signature)
}

// slowBridge never answers within any reasonable deadline.
type slowBridge struct{}

func (slowBridge) InferType(ctx context.Context, _ string, _, _ int, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (slowBridge) LookupDocs(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (slowBridge) Close() error { return nil }

func TestHover_NeverBlocksOnSlowBridge(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
	})
	e := openEngine(t, root, WithBridge(slowBridge{}))

	start := time.Now()
	h := e.Hover(context.Background(), "a.rb", 0, 4)
	require.NotNil(t, h)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, "def f", h.Signature)
	assert.Empty(t, h.TypeName)
}

func TestCacheStats_ReportsFiveCaches(t *testing.T) {
	root := writeProject(t, map[string]string{"a.rb": "x = 1\n"})
	e := openEngine(t, root)

	e.Symbols("x")
	stats := e.CacheStats()
	assert.Len(t, stats, 5)
}

func TestWarmStart_ReusesPersistedSnapshot(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
		"b.rb": "f\n",
	})
	dbPath := filepath.Join(t.TempDir(), "index.db")

	e1 := New(WithPersistence(dbPath))
	require.NoError(t, e1.OpenProject(context.Background(), root))
	symbols := e1.SymbolCount()
	require.NoError(t, e1.Close())

	e2 := openEngine(t, root, WithPersistence(dbPath))
	assert.Equal(t, symbols, e2.SymbolCount())
	assert.Equal(t, 2, e2.FileCount())
	require.Len(t, e2.Definition("b.rb", 0, 0), 1)
}

func TestWarmStart_InvalidatedByChangedFile(t *testing.T) {
	root := writeProject(t, map[string]string{
		"a.rb": "def f\nend\n",
	})
	dbPath := filepath.Join(t.TempDir(), "index.db")

	e1 := New(WithPersistence(dbPath))
	require.NoError(t, e1.OpenProject(context.Background(), root))
	require.NoError(t, e1.Close())

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.rb"), []byte("def g\nend\n"), 0o644))

	e2 := openEngine(t, root, WithPersistence(dbPath))
	assert.Empty(t, e2.Symbols("f"))
	assert.Len(t, e2.Symbols("g"), 1)
}

func TestConfigFile_ExcludesDirectories(t *testing.T) {
	root := writeProject(t, map[string]string{
		".garnet.yml":      "exclude:\n  - generated\n",
		"app.rb":           "x = 1\n",
		"generated/gen.rb": "y = 2\n",
	})
	e := openEngine(t, root)

	assert.Equal(t, 1, e.FileCount())
}
