package diagnostics

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnet-dev/garnet/internal/parser"
)

func parse(t *testing.T, content string) *parser.SyntaxTree {
	t.Helper()
	tree, err := parser.New().Parse(context.Background(), "test.rb", []byte(content), 1)
	require.NoError(t, err)
	return tree
}

func TestFromTree_CleanFileHasNoDiagnostics(t *testing.T) {
	tree := parse(t, `
class Greeter
  def greet
    "hello"
  end
end
`)
	assert.Empty(t, FromTree(tree))
}

func TestFromTree_ReportsMissingEnd(t *testing.T) {
	tree := parse(t, "def broken\n  1 + 1\n")

	diags := FromTree(tree)
	require.NotEmpty(t, diags)
	assert.Equal(t, SeverityError, diags[0].Severity)
	assert.Contains(t, diags[0].Message, "missing")
}

func TestFromTree_ReportsUnexpectedInput(t *testing.T) {
	tree := parse(t, "class Foo\n  def bar\n  end\n)\nend\n")

	diags := FromTree(tree)
	require.NotEmpty(t, diags)
	for _, d := range diags {
		assert.Equal(t, SeverityError, d.Severity)
		assert.NotEmpty(t, d.Message)
	}
}

func TestFromTree_MessagesStayValidUTF8(t *testing.T) {
	// A long multi-byte snippet inside the error node must truncate on a
	// rune boundary, not mid-byte.
	tree := parse(t, "x = ("+strings.Repeat("λ", 30)+"\n")

	diags := FromTree(tree)
	require.NotEmpty(t, diags)
	for _, d := range diags {
		assert.True(t, utf8.ValidString(d.Message), "message %q must be valid UTF-8", d.Message)
	}
}

func TestFromTree_Deterministic(t *testing.T) {
	content := "def broken(\n"
	a := FromTree(parse(t, content))
	b := FromTree(parse(t, content))
	assert.Equal(t, a, b)
}

func TestFromTree_SpansAreOrdered(t *testing.T) {
	tree := parse(t, "def broken\n")

	for _, d := range FromTree(tree) {
		less := d.Span.StartLine < d.Span.EndLine ||
			(d.Span.StartLine == d.Span.EndLine && d.Span.StartCol <= d.Span.EndCol)
		assert.True(t, less, "span start must not follow its end: %+v", d.Span)
	}
}
