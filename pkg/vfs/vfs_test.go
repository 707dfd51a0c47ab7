package vfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExt(t *testing.T) {
	assert.Equal(t, "szs", VirtualFile{Path: "a/b/Stage.SZS"}.Ext())
	assert.Equal(t, "", VirtualFile{Path: "a/b/README"}.Ext())
}

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, "files/stage.bti.png", ReplaceExt("files/stage.bti", "bti.png"))
	assert.Equal(t, "files/stage", ReplaceExt("files/stage.szs", ""))
	assert.Equal(t, "files/stage.arc", ReplaceExt("files/stage", "arc"))
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	f := VirtualFile{Path: filepath.Join(dir, "nested", "x.bin"), Bytes: []byte{1, 2, 3}}
	require.NoError(t, f.Write())

	got, err := Read(f.Path)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}
