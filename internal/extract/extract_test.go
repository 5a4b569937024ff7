package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestArticleTextJoinsParagraphsInOrder(t *testing.T) {
	t.Parallel()

	html := `<html><head><title>ignored</title></head><body>
<nav><p>  Menu  </p></nav>
<article>
  <p>First paragraph.</p>
  <p>   </p>
  <div><p>Second <b>bold</b> paragraph.</p></div>
  <span>not a paragraph</span>
</article>
</body></html>`

	text, err := ArticleText(html, DefaultLimit)
	require.NoError(t, err)
	require.Equal(t, "Menu\n\nFirst paragraph.\n\nSecond bold paragraph.", text)
}

func TestArticleTextEmptyPage(t *testing.T) {
	t.Parallel()

	text, err := ArticleText(`<html><body><div>no paragraphs</div></body></html>`, DefaultLimit)
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestArticleTextTruncates(t *testing.T) {
	t.Parallel()

	html := "<p>" + strings.Repeat("a", 20) + "</p>"
	text, err := ArticleText(html, 10)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("a", 10)+TruncationMarker, text)
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "exact", Truncate("exact", 5))
	require.Equal(t, "héll...", Truncate("héllo wörld", 4))

	long := strings.Repeat("x", DefaultLimit+1)
	got := Truncate(long, 0)
	require.Len(t, []rune(got), DefaultLimit+len(TruncationMarker))
}
