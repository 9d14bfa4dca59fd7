package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ProducesTree(t *testing.T) {
	tree, err := New().Parse(context.Background(), "a.rb", []byte("def f\nend\n"), 1)
	require.NoError(t, err)

	assert.Equal(t, "a.rb", tree.Path)
	assert.Equal(t, int64(1), tree.Version)
	assert.NotEmpty(t, tree.Hash)
	assert.Equal(t, "program", tree.Root().Type())
	assert.False(t, tree.HasErrors())
}

func TestParse_RecoversFromBrokenInput(t *testing.T) {
	tree, err := New().Parse(context.Background(), "a.rb", []byte("def broken(\n"), 1)
	require.NoError(t, err)

	// Error recovery still yields a usable tree.
	assert.True(t, tree.HasErrors())
	assert.NotNil(t, tree.Root())
}

func TestParse_EmptyFile(t *testing.T) {
	tree, err := New().Parse(context.Background(), "empty.rb", nil, 1)
	require.NoError(t, err)
	assert.False(t, tree.HasErrors())
}

func TestHashContent_StableAndDistinct(t *testing.T) {
	a := HashContent([]byte("x = 1\n"))
	b := HashContent([]byte("x = 1\n"))
	c := HashContent([]byte("x = 2\n"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestText_ReturnsNodeSource(t *testing.T) {
	content := []byte("value = 42\n")
	tree, err := New().Parse(context.Background(), "a.rb", content, 1)
	require.NoError(t, err)

	assert.Equal(t, "value = 42", tree.Text(tree.Root().NamedChild(0)))
}
