package format

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSelectsFormatter(t *testing.T) {
	f, err := New("", Options{})
	require.NoError(t, err)
	require.IsType(t, Plain{}, f)

	f, err = New("HTML", Options{})
	require.NoError(t, err)
	require.IsType(t, &HTML{}, f)

	f, err = New("markdown", Options{Style: "notty", Width: 40})
	require.NoError(t, err)
	require.IsType(t, &Terminal{}, f)

	_, err = New("rtf", Options{})
	require.Error(t, err)
}

func TestPlainIsIdentity(t *testing.T) {
	require.Equal(t, "  **a** \n", Plain{}.Format("  **a** \n"))
}

func TestHTMLRendersAndSanitizes(t *testing.T) {
	h := NewHTML()
	out := h.Format("**bold** <script>alert(1)</script>")
	require.Contains(t, out, "<strong>bold</strong>")
	require.NotContains(t, out, "<script>")

	out = h.Format("| a | b |\n|---|---|\n| 1 | 2 |\n")
	require.Contains(t, out, "<table>")
}

func TestTerminalHandlesPartialMarkdown(t *testing.T) {
	tr, err := NewTerminal("notty", 40)
	require.NoError(t, err)

	out := tr.Format("Here is code:\n```go\nfunc main() {")
	require.Contains(t, out, "func main()")

	out = tr.Format("# Title")
	require.True(t, strings.Contains(out, "Title"))
}
