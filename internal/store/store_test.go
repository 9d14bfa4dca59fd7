package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnet-dev/garnet/internal/index"
	"github.com/garnet-dev/garnet/internal/pipeline"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func buildIndex(t *testing.T, files map[string]string) *index.Index {
	t.Helper()
	var sources []pipeline.Source
	for path, content := range files {
		sources = append(sources, pipeline.Source{Path: path, Content: []byte(content), Version: 1})
	}
	ix, err := pipeline.New(nil, 1).Build(context.Background(), sources)
	require.NoError(t, err)
	return ix
}

func TestMetadata_RoundTrip(t *testing.T) {
	s := openStore(t)

	v, err := s.GetMetadata("root")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMetadata("root", "/srv/app"))
	require.NoError(t, s.SetMetadata("root", "/srv/app2"))

	v, err = s.GetMetadata("root")
	require.NoError(t, err)
	assert.Equal(t, "/srv/app2", v)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := openStore(t)
	ix := buildIndex(t, map[string]string{
		"lib/greeter.rb": "class Greeter\n  def greet(name)\n    \"hi \" + name\n  end\nend\n",
		"app.rb":         "require_relative \"lib/greeter\"\n\ncount = 1\nGreeter\n",
	})
	require.NoError(t, s.Save(ix))

	loaded, maxID, err := s.Load()
	require.NoError(t, err)

	assert.Equal(t, len(ix.Files), len(loaded.Files))
	assert.Equal(t, ix.SymbolCount(), loaded.SymbolCount())
	assert.Equal(t, ix.ReferenceCount(), loaded.ReferenceCount())

	// Symbol identity survives by ID, and the reserved floor covers all of
	// them so new symbols never collide.
	for name, syms := range ix.Names {
		loadedSyms := loaded.Names[name]
		require.Len(t, loadedSyms, len(syms), "name %s", name)
		for i := range syms {
			assert.Equal(t, syms[i].ID, loadedSyms[i].ID)
			assert.Equal(t, syms[i].Kind, loadedSyms[i].Kind)
			assert.Equal(t, syms[i].Signature, loadedSyms[i].Signature)
			assert.Equal(t, syms[i].Span, loadedSyms[i].Span)
			assert.LessOrEqual(t, syms[i].ID, maxID)
		}
	}

	// References resolve to symbols inside the loaded snapshot.
	known := make(map[*index.Symbol]bool)
	for _, f := range loaded.Files {
		for _, s := range f.Symbols {
			known[s] = true
		}
	}
	for _, f := range loaded.Files {
		for _, ref := range f.Refs {
			for _, target := range ref.Targets {
				assert.True(t, known[target])
			}
		}
	}

	// Scope chains are reconnected: a method symbol's scope climbs to the
	// file root.
	greet := loaded.Names["greet"]
	require.Len(t, greet, 1)
	sc := greet[0].Scope
	require.NotNil(t, sc)
	for sc.Parent != nil {
		sc = sc.Parent
	}
	assert.Equal(t, index.ScopeSource, sc.Kind)
}

func TestSave_ReplacesPreviousSnapshot(t *testing.T) {
	s := openStore(t)

	first := buildIndex(t, map[string]string{"a.rb": "def f\nend\n"})
	require.NoError(t, s.Save(first))

	second := buildIndex(t, map[string]string{"b.rb": "def g\nend\n"})
	require.NoError(t, s.Save(second))

	loaded, _, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded.Files["a.rb"])
	require.NotNil(t, loaded.Files["b.rb"])
	assert.Empty(t, loaded.Names["f"])
	assert.Len(t, loaded.Names["g"], 1)
}

func TestFileHashes_ReflectSavedSnapshot(t *testing.T) {
	s := openStore(t)
	ix := buildIndex(t, map[string]string{"a.rb": "x = 1\n"})
	require.NoError(t, s.Save(ix))

	hashes, err := s.FileHashes()
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	assert.Equal(t, ix.Files["a.rb"].Hash, hashes["a.rb"])
}

func TestLoad_EmptyDatabase(t *testing.T) {
	s := openStore(t)

	loaded, maxID, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded.Files)
	assert.Zero(t, maxID)
}
