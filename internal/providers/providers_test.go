package providers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnet-dev/garnet/internal/bridge"
	"github.com/garnet-dev/garnet/internal/cache"
	"github.com/garnet-dev/garnet/internal/index"
	"github.com/garnet-dev/garnet/internal/pipeline"
)

func buildIndex(t *testing.T, files map[string]string) *index.Index {
	t.Helper()
	var sources []pipeline.Source
	for path, content := range files {
		sources = append(sources, pipeline.Source{Path: path, Content: []byte(content), Version: 1})
	}
	ix, err := pipeline.New(nil, 2).Build(context.Background(), sources)
	require.NoError(t, err)
	return ix
}

func TestDefinition_FromCallSite(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f(x)\n  x + 1\nend\n",
		"b.rb": "f(2)\n",
	})

	// Cursor on the `f` in b.rb line 0, col 0.
	locs := Definition(ix, "b.rb", 0, 0)
	require.Len(t, locs, 1)
	assert.Equal(t, "a.rb", locs[0].Path)
	assert.Equal(t, 0, locs[0].Span.StartLine)
}

func TestDefinition_OnDeclarationAnswersItself(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f\nend\n",
	})

	locs := Definition(ix, "a.rb", 0, 4)
	require.Len(t, locs, 1)
	assert.Equal(t, "a.rb", locs[0].Path)
}

func TestDefinition_UnknownPositionIsEmpty(t *testing.T) {
	ix := buildIndex(t, map[string]string{"a.rb": "def f\nend\n"})
	assert.Empty(t, Definition(ix, "a.rb", 40, 0))
	assert.Empty(t, Definition(ix, "nope.rb", 0, 0))
}

func TestReferences_SortedAndDeduplicated(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f\nend\n",
		"b.rb": "f\nf\n",
		"c.rb": "f\n",
	})

	locs := References(ix, "a.rb", 0, 4, false)
	require.Len(t, locs, 3)
	for i := 1; i < len(locs); i++ {
		prev, cur := locs[i-1], locs[i]
		ordered := prev.Path < cur.Path ||
			(prev.Path == cur.Path && prev.Span.StartLine <= cur.Span.StartLine)
		assert.True(t, ordered, "locations must be sorted: %v before %v", prev, cur)
	}
}

func TestReferences_IncludeDeclaration(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f\nend\n",
		"b.rb": "f\n",
	})

	without := References(ix, "b.rb", 0, 0, false)
	with := References(ix, "b.rb", 0, 0, true)
	assert.Len(t, with, len(without)+1)
}

func TestReferences_DeletedDeclarationYieldsNothing(t *testing.T) {
	p := pipeline.New(nil, 1)
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f\nend\n",
		"b.rb": "f\n",
	})
	next, err := p.Update(context.Background(), ix, pipeline.Source{
		Path: "a.rb", Content: []byte("# gone\n"), Version: 2,
	})
	require.NoError(t, err)

	// The call in b.rb is now an unresolved placeholder with no targets.
	assert.Empty(t, References(next, "b.rb", 0, 0, true))
}

// recordingBridge counts calls and fails or delays on demand.
type recordingBridge struct {
	typeName  string
	docs      string
	typeErr   error
	docsErr   error
	delay     time.Duration
	typeCalls atomic.Int64
	docsCalls atomic.Int64
}

func (b *recordingBridge) InferType(ctx context.Context, _ string, _, _ int, _ string) (string, error) {
	b.typeCalls.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.typeName, b.typeErr
}

func (b *recordingBridge) LookupDocs(ctx context.Context, _ string) (string, error) {
	b.docsCalls.Add(1)
	return b.docs, b.docsErr
}

func (b *recordingBridge) Close() error { return nil }

func newHover(b bridge.Client) *HoverProvider {
	return &HoverProvider{Caches: cache.NewManager(cache.DefaultConfig()), Bridge: b}
}

func TestHover_SyntacticSignatureAndType(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "count = 41\n",
	})
	h := newHover(bridge.Nop{})

	out := h.At(context.Background(), ix, "a.rb", 0, 0)
	require.NotNil(t, out)
	assert.Equal(t, "variable", out.Kind)
	assert.Equal(t, "Integer", out.TypeName)
	assert.Equal(t, index.TypeSyntactic, out.TypeSource)
}

func TestHover_BridgeSuppliesTypeAndDocs(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f(x)\n  x\nend\n",
	})
	b := &recordingBridge{typeName: "Integer", docs: "Identity."}
	h := newHover(b)

	out := h.At(context.Background(), ix, "a.rb", 0, 4)
	require.NotNil(t, out)
	assert.Equal(t, "def f(x)", out.Signature)
	assert.Equal(t, "Integer", out.TypeName)
	assert.Equal(t, index.TypeInterpreter, out.TypeSource)
	assert.Equal(t, "Identity.", out.Documentation)
}

func TestHover_DegradesWhenBridgeFails(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f(x)\n  x\nend\n",
	})
	b := &recordingBridge{typeErr: bridge.ErrTimeout, docsErr: bridge.ErrUnavailable}
	h := newHover(b)

	out := h.At(context.Background(), ix, "a.rb", 0, 4)
	require.NotNil(t, out)
	assert.Equal(t, "def f(x)", out.Signature)
	assert.Empty(t, out.TypeName)
	assert.Empty(t, out.Documentation)
}

func TestHover_BoundedByBridgeTimeout(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f(x)\n  x\nend\n",
	})
	slow := &recordingBridge{typeName: "Integer", docs: "d", delay: 5 * time.Second}
	h := bridgeWithTimeout(slow, 20*time.Millisecond)

	start := time.Now()
	out := h.At(context.Background(), ix, "a.rb", 0, 4)
	require.NotNil(t, out)
	assert.Less(t, time.Since(start), time.Second, "hover must degrade, not block on the bridge")
	assert.Empty(t, out.TypeName)
}

func bridgeWithTimeout(inner bridge.Client, d time.Duration) *HoverProvider {
	return &HoverProvider{
		Caches: cache.NewManager(cache.DefaultConfig()),
		Bridge: bridge.NewCoalescing(inner, d),
	}
}

func TestHover_CachesComposedResult(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "def f(x)\n  x\nend\n",
	})
	b := &recordingBridge{typeName: "Integer", docs: "Identity."}
	h := newHover(b)

	first := h.At(context.Background(), ix, "a.rb", 0, 4)
	second := h.At(context.Background(), ix, "a.rb", 0, 4)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
	assert.Equal(t, int64(1), b.typeCalls.Load(), "second hover must come from cache")
	assert.Equal(t, int64(1), b.docsCalls.Load())
}

func TestHover_UnresolvedReferenceGetsSyntacticContent(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "mystery_call\n",
	})
	h := newHover(bridge.Nop{})

	out := h.At(context.Background(), ix, "a.rb", 0, 0)
	require.NotNil(t, out)
	assert.Equal(t, "mystery_call", out.Signature)
	assert.Equal(t, "unknown", out.Kind)
}

func TestHover_NothingUnderCursor(t *testing.T) {
	ix := buildIndex(t, map[string]string{"a.rb": "# just a comment\n"})
	h := newHover(bridge.Nop{})
	assert.Nil(t, h.At(context.Background(), ix, "a.rb", 0, 2))
}

func TestHover_QualifiedNameForInstanceMethod(t *testing.T) {
	ix := buildIndex(t, map[string]string{
		"a.rb": "class Greeter\n  def greet\n  end\nend\n",
	})
	var captured string
	b := &docsCapture{captured: &captured}
	h := newHover(b)

	out := h.At(context.Background(), ix, "a.rb", 1, 6)
	require.NotNil(t, out)
	assert.Equal(t, "Greeter#greet", captured)
}

type docsCapture struct {
	captured *string
}

func (d *docsCapture) InferType(context.Context, string, int, int, string) (string, error) {
	return "", errors.New("no types")
}

func (d *docsCapture) LookupDocs(_ context.Context, name string) (string, error) {
	*d.captured = name
	return "", bridge.ErrNotFound
}

func (d *docsCapture) Close() error { return nil }
