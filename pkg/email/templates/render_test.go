package templates_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mockmailer/pkg/email/templates"
)

func TestParagraphs(t *testing.T) {
	t.Parallel()

	out, err := templates.Render(context.Background(), templates.Paragraphs("a <title>", "first", "x < y & z"))
	require.NoError(t, err)

	assert.Contains(t, out, "<title>a &lt;title&gt;</title>")
	assert.Contains(t, out, "<p>first</p>")
	assert.Contains(t, out, "<p>x &lt; y &amp; z</p>")
}

func TestRender_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := templates.Render(context.Background(), templates.Paragraphs("t", "body"))
	require.NoError(t, err)
	b, err := templates.Render(context.Background(), templates.Paragraphs("t", "body"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
