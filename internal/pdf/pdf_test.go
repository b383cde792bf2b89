package pdf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	data, err := Render("Dear Grandma,\n\nthank you for the cookies.\n\nLove, Max")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF-1.4"))
	assert.Contains(t, string(data), "%%EOF")
	assert.Contains(t, string(data), "/Count 1")
}

func TestRenderLatin1(t *testing.T) {
	data, err := Render("Grüße aus Köln — à bientôt, señora!")
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRenderLongAccentedWord(t *testing.T) {
	// A word spanning several lines must not be cut mid-rune.
	data, err := Render("a" + strings.Repeat("ä", 40))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestRenderUnsupportedText(t *testing.T) {
	_, err := Render("Приветствую тебя")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedText)
}

func TestRenderPaginates(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("line of letter text that fills the page\n")
	}
	data, err := Render(b.String())
	require.NoError(t, err)
	assert.Contains(t, string(data), "/Count 5")
}

func TestRenderEscapesDelimiters(t *testing.T) {
	data, err := Render("call me (soon) \\ ok?")
	require.NoError(t, err)
	assert.Contains(t, string(data), `\(soon\)`)
}

func TestWrap(t *testing.T) {
	t.Run("keeps short lines", func(t *testing.T) {
		assert.Equal(t, []string{"hello world"}, wrap("hello world", 20))
	})

	t.Run("breaks at word boundary", func(t *testing.T) {
		assert.Equal(t, []string{"hello", "world"}, wrap("hello world", 7))
	})

	t.Run("hard-splits long words", func(t *testing.T) {
		lines := wrap("abcdefghij", 4)
		assert.Equal(t, []string{"abcd", "efgh", "ij"}, lines)
	})

	t.Run("hard-splits on rune boundaries", func(t *testing.T) {
		lines := wrap("äöüäöü", 4)
		assert.Equal(t, []string{"äöüä", "öü"}, lines)
	})

	t.Run("counts columns in runes", func(t *testing.T) {
		assert.Equal(t, []string{"grüße köln"}, wrap("grüße köln", 10))
	})

	t.Run("preserves blank lines", func(t *testing.T) {
		assert.Equal(t, []string{"a", "", "b"}, wrap("a\n\nb", 10))
	})
}
