package szs

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falk/cube-go/pkg/rarc"
	"github.com/falk/cube-go/pkg/yaz0"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "course")
	for name, contents := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
	}
	return root
}

func TestPackExtract(t *testing.T) {
	tree := map[string]string{
		"course.bmd":        "model model model model",
		"map/collision.kcl": "kcl kcl kcl kcl kcl kcl",
		"map/message.bmg":   "MESGbmg1",
	}
	dir := writeTree(t, tree)

	for _, compress := range []bool{false, true} {
		data, err := Pack(dir, compress, yaz0.MaxQuality)
		require.NoError(t, err)
		assert.Equal(t, compress, yaz0.IsCompressed(data))
		if !compress {
			assert.Equal(t, rarc.Magic, string(data[:4]))
		}

		files, err := Extract(data)
		require.NoError(t, err)

		got := make(map[string]string, len(files))
		for _, f := range files {
			got[f.Path] = string(f.Bytes)
		}
		assert.Equal(t, tree, got)
	}
}

func TestExtractOrder(t *testing.T) {
	dir := writeTree(t, map[string]string{"b": "2", "a": "1", "d/c": "3"})
	data, err := Pack(dir, true, 1)
	require.NoError(t, err)

	files, err := Extract(data)
	require.NoError(t, err)
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	assert.True(t, sort.StringsAreSorted(paths), "%v", paths)
	assert.Equal(t, []string{"a", "b", "d/c"}, paths)
}

func TestExtractErrors(t *testing.T) {
	_, err := Extract([]byte("Yaz0\x00\x00\x00\x10"))
	assert.ErrorIs(t, err, yaz0.ErrCorrupt)

	_, err = Extract([]byte("not an archive at all, just some bytes padding it out"))
	var pe *rarc.ParseError
	assert.ErrorAs(t, err, &pe)

	_, err = Pack(filepath.Join(t.TempDir(), "missing"), false, 0)
	assert.Error(t, err)
}
