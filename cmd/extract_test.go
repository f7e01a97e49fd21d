package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentMIME(t *testing.T) {
	assert.Equal(t, "application/pdf", documentMIME("contracts/a.pdf"))
	assert.Equal(t, "application/pdf", documentMIME("A.PDF"))
	assert.Equal(t, "image/jpeg", documentMIME("scan.jpg"))
	assert.Equal(t, "image/jpeg", documentMIME("scan.jpeg"))
	assert.Equal(t, "image/png", documentMIME("scan.png"))
	assert.Equal(t, "", documentMIME("notes.txt"))
	assert.Equal(t, "", documentMIME("noext"))
}

func TestCollectDocumentsSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contract.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	// A direct file argument is passed through even without a known extension.
	files, err := collectDocuments(path)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}

func TestCollectDocumentsDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	for _, name := range []string{"a.pdf", "b.png", "skip.txt", filepath.Join("sub", "c.jpg")} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	files, err := collectDocuments(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "b.png"),
		filepath.Join(dir, "sub", "c.jpg"),
	}, files)
}

func TestCollectDocumentsMissingPath(t *testing.T) {
	_, err := collectDocuments(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
