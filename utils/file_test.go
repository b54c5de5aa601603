package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedDocument(t *testing.T) {
	for _, name := range []string{"a.md", "b.MARKDOWN", "c.txt", "d.html", "e.HTM"} {
		assert.True(t, IsSupportedDocument(name), name)
	}
	for _, name := range []string{"a.pdf", "b.docx", "noext"} {
		assert.False(t, IsSupportedDocument(name), name)
	}
}

func TestReadDocument(t *testing.T) {
	text, err := ReadDocument(strings.NewReader("# Title\n\nbody"), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", text)

	html := "<html><body><h2>Claims</h2><p>The <b>exp</b> claim.</p></body></html>"
	text, err = ReadDocument(strings.NewReader(html), "page.html")
	require.NoError(t, err)
	assert.Equal(t, "## Claims\nThe **exp** claim.", text)
}

func TestReadDocumentFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	text, err := ReadDocumentFile(path)
	require.NoError(t, err)
	assert.Equal(t, "plain text", text)

	_, err = ReadDocumentFile(filepath.Join(dir, "slides.pdf"))
	assert.ErrorContains(t, err, "unsupported file type")

	_, err = ReadDocumentFile(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}

func TestSaveWithTimestamp(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")

	path, err := SaveWithTimestamp(strings.NewReader("content"), "../My Notes.MD", dir)
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	name := filepath.Base(path)
	assert.True(t, strings.HasPrefix(name, "My_Notes_"), name)
	assert.True(t, strings.HasSuffix(name, ".md"), name)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(raw))
}
