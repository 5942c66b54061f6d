package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"ragchat/internal/domain"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestWalkDefaults(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "notes.txt", "a")
	writeFile(t, root, "docs/guide.MD", "b")
	writeFile(t, root, "docs/paper.pdf", "%PDF")
	writeFile(t, root, "image.png", "x")
	writeFile(t, root, ".git/HEAD.txt", "ref")
	writeFile(t, root, "docs/.cache/tmp.txt", "c")

	files, err := NewWalker(nil, nil).Walk(root)
	require.NoError(t, err)

	var rel []string
	for _, f := range files {
		rel = append(rel, f.RelPath)
	}
	assert.Equal(t, []string{"docs/guide.MD", "docs/paper.pdf", "notes.txt"}, rel)
	assert.Equal(t, domain.FormatText, files[0].Format)
	assert.Equal(t, domain.FormatPDF, files[1].Format)
}

func TestWalkSingleFile(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "one.pdf", "%PDF")

	files, err := NewWalker(nil, nil).Walk(filepath.Join(root, "one.pdf"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "one.pdf", files[0].RelPath)

	writeFile(t, root, "two.docx", "")
	_, err = NewWalker(nil, nil).Walk(filepath.Join(root, "two.docx"))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestWalkExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep/a.txt", "a")
	writeFile(t, root, "drop/b.txt", "b")

	files, err := NewWalker(nil, []string{"drop/"}).Walk(root)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "keep/a.txt", files[0].RelPath)
}
