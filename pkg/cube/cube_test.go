package cube

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falk/cube-go/pkg/bmg"
	"github.com/falk/cube-go/pkg/rarc"
	"github.com/falk/cube-go/pkg/szs"
	"github.com/falk/cube-go/pkg/vfs"
	"github.com/falk/cube-go/pkg/yaz0"
	"github.com/falk/cube-go/pkg/zstd"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testExtractOptions() ExtractOptions {
	opts := DefaultExtractOptions()
	opts.Logger = quiet
	return opts
}

func testPackOptions() PackOptions {
	opts := DefaultPackOptions()
	opts.Yaz0Quality = 1
	opts.Logger = quiet
	return opts
}

func sampleBMG(t *testing.T, texts ...string) []byte {
	t.Helper()
	a := bmg.New(bmg.CP1252)
	for _, text := range texts {
		require.NoError(t, a.AddMessage(bmg.Message{Text: text}))
	}
	return a.Write()
}

// sampleBTI is an 8x4 I8 texture filled with one intensity.
func sampleBTI(v byte) []byte {
	h := make([]byte, 0x20)
	h[0x0] = 0x01
	binary.BigEndian.PutUint16(h[0x2:], 8)
	binary.BigEndian.PutUint16(h[0x4:], 4)
	binary.BigEndian.PutUint32(h[0x1C:], 0x20)
	for i := 0; i < 32; i++ {
		h = append(h, v)
	}
	return h
}

func sampleArchive(t *testing.T, files fstest.MapFS, compress bool) []byte {
	t.Helper()
	data, err := rarc.EncodeFS(files, "root")
	require.NoError(t, err)
	if compress {
		data = yaz0.Compress(data, 1)
	}
	return data
}

type discFile struct {
	dir, name string
	data      []byte
}

// buildDisc lays out a disc with root files followed by one level of
// directories, in the order given.
func buildDisc(t *testing.T, files []discFile) []byte {
	t.Helper()
	type entry struct{ word0, word1, word2 uint32 }
	var entries []entry
	var names []byte
	var blobs [][]byte
	var fileIdx []int

	addName := func(n string) uint32 {
		off := uint32(len(names))
		names = append(append(names, n...), 0)
		return off
	}

	entries = append(entries, entry{word0: 1 << 24})
	dirStart := map[string]int{}
	for _, f := range files {
		if f.dir != "" {
			if _, ok := dirStart[f.dir]; !ok {
				dirStart[f.dir] = len(entries)
				entries = append(entries, entry{word0: 1<<24 | addName(f.dir)})
			}
		}
		fileIdx = append(fileIdx, len(entries))
		entries = append(entries, entry{word0: addName(f.name), word2: uint32(len(f.data))})
		blobs = append(blobs, f.data)
		if f.dir != "" {
			entries[dirStart[f.dir]].word2 = uint32(len(entries))
		}
	}
	entries[0].word2 = uint32(len(entries))

	const fstOffset = 0x500
	fstSize := len(entries)*12 + len(names)
	offset := fstOffset + (fstSize+31)&^31
	for i, idx := range fileIdx {
		entries[idx].word1 = uint32(offset)
		offset += (len(blobs[i]) + 31) &^ 31
	}

	disc := make([]byte, offset)
	copy(disc, "GTST01")
	binary.BigEndian.PutUint32(disc[0x1C:], 0xC2339F3D)
	copy(disc[0x20:], "Cube Test")
	binary.BigEndian.PutUint32(disc[0x424:], fstOffset)
	binary.BigEndian.PutUint32(disc[0x428:], uint32(fstSize))
	off := fstOffset
	for _, e := range entries {
		binary.BigEndian.PutUint32(disc[off:], e.word0)
		binary.BigEndian.PutUint32(disc[off+4:], e.word1)
		binary.BigEndian.PutUint32(disc[off+8:], e.word2)
		off += 12
	}
	copy(disc[off:], names)
	for i, idx := range fileIdx {
		copy(disc[entries[idx].word1:], blobs[i])
	}
	return disc
}

func paths(files []vfs.VirtualFile) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = filepath.ToSlash(f.Path)
	}
	return out
}

func contents(files []vfs.VirtualFile) map[string][]byte {
	out := make(map[string][]byte, len(files))
	for _, f := range files {
		out[filepath.ToSlash(f.Path)] = f.Bytes
	}
	return out
}

func decodeMessages(t *testing.T, data []byte) []string {
	t.Helper()
	var doc bmg.Document
	require.NoError(t, json.Unmarshal(data, &doc))
	texts := make([]string, len(doc.Messages))
	for i, m := range doc.Messages {
		texts[i] = m.Text
	}
	return texts
}

func TestExtractArchive(t *testing.T) {
	arc := sampleArchive(t, fstest.MapFS{
		"msg.bmg":        {Data: sampleBMG(t, "hello", "world")},
		"tex.bti":        {Data: sampleBTI(0x80)},
		"sub/readme.txt": {Data: []byte("text")},
	}, true)

	opts := testExtractOptions()
	opts.BTI = true
	files, err := Extract(vfs.VirtualFile{Path: "data/stage.szs", Bytes: arc}, opts)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		"data/stage/msg.bmg.json",
		"data/stage/tex.bti.png",
		"data/stage/sub/readme.txt",
	}, paths(files))

	got := contents(files)
	assert.Equal(t, []string{"hello", "world"}, decodeMessages(t, got["data/stage/msg.bmg.json"]))
	assert.Equal(t, []byte("\x89PNG"), got["data/stage/tex.bti.png"][:4])
	assert.Equal(t, []byte("text"), got["data/stage/sub/readme.txt"])
}

func TestExtractConvertersDisabled(t *testing.T) {
	arc := sampleArchive(t, fstest.MapFS{
		"msg.bmg": {Data: sampleBMG(t, "hi")},
		"tex.bti": {Data: sampleBTI(0x10)},
	}, false)

	opts := testExtractOptions()
	opts.BMG = false
	files, err := Extract(vfs.VirtualFile{Path: "stage.arc", Bytes: arc}, opts)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stage/msg.bmg", "stage/tex.bti"}, paths(files))
}

func TestExtractPreserveExtension(t *testing.T) {
	arc := sampleArchive(t, fstest.MapFS{"a.txt": {Data: []byte("a")}}, true)

	opts := testExtractOptions()
	opts.SZSPreserveExtension = true
	files, err := Extract(vfs.VirtualFile{Path: "stage.szs", Bytes: arc}, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"stage.szs/a.txt"}, paths(files))
}

func TestExtractSkipsBrokenEntries(t *testing.T) {
	arc := sampleArchive(t, fstest.MapFS{
		"broken.bmg": {Data: []byte("not a message archive")},
		"good.bmg":   {Data: sampleBMG(t, "ok")},
	}, false)

	files, err := Extract(vfs.VirtualFile{Path: "stage.arc", Bytes: arc}, testExtractOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"stage/good.bmg.json"}, paths(files))
}

func TestExtractPassthrough(t *testing.T) {
	f := vfs.VirtualFile{Path: "readme.txt", Bytes: []byte("x")}
	files, err := Extract(f, testExtractOptions())
	require.NoError(t, err)
	assert.Equal(t, []vfs.VirtualFile{f}, files)

	_, err = Extract(vfs.VirtualFile{Path: "bad.szs", Bytes: []byte("garbage")}, testExtractOptions())
	assert.Error(t, err)
}

func TestExtractZstd(t *testing.T) {
	wrapped := zstd.Compress(sampleBMG(t, "packed"), zstd.DefaultLevel)
	files, err := Extract(vfs.VirtualFile{Path: "msg.bmg.zst", Bytes: wrapped}, testExtractOptions())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "msg.bmg.json", files[0].Path)
	assert.Equal(t, []string{"packed"}, decodeMessages(t, files[0].Bytes))
}

type countingProgress struct {
	total, done, finished atomic.Int32
}

func (p *countingProgress) Start(total int) { p.total.Store(int32(total)) }
func (p *countingProgress) Increment()      { p.done.Add(1) }
func (p *countingProgress) Finish()         { p.finished.Add(1) }

func TestExtractDisc(t *testing.T) {
	disc := buildDisc(t, []discFile{
		{name: "opening.bnr", data: []byte("banner")},
		{name: "common.arc", data: sampleArchive(t, fstest.MapFS{"a.txt": {Data: []byte("a")}}, false)},
		{name: "broken.szs", data: []byte("Yaz0")},
		{dir: "msg", name: "menu.bmg", data: sampleBMG(t, "start")},
		{dir: "msg", name: "b.dat", data: []byte("bb")},
	})

	progress := &countingProgress{}
	opts := testExtractOptions()
	opts.Workers = 2
	opts.Progress = progress
	files, err := Extract(vfs.VirtualFile{Path: "game.iso", Bytes: disc}, opts)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"opening.bnr",
		"common/a.txt",
		"msg/menu.bmg.json",
		"msg/b.dat",
	}, paths(files))
	assert.Equal(t, int32(5), progress.total.Load())
	assert.Equal(t, int32(5), progress.done.Load())
	assert.Equal(t, int32(1), progress.finished.Load())
}

func TestExtractToDisk(t *testing.T) {
	dir := t.TempDir()
	arcPath := filepath.Join(dir, "stage.szs")
	require.NoError(t, os.WriteFile(arcPath, sampleArchive(t, fstest.MapFS{
		"a.txt":     {Data: []byte("a")},
		"sub/b.txt": {Data: []byte("b")},
	}, true), 0o644))
	msgPath := filepath.Join(dir, "menu.bmg")
	require.NoError(t, os.WriteFile(msgPath, sampleBMG(t, "one"), 0o644))
	isoPath := filepath.Join(dir, "game.iso")
	require.NoError(t, os.WriteFile(isoPath, buildDisc(t, []discFile{
		{name: "x.bin", data: []byte("x")},
		{dir: "d", name: "y.bin", data: []byte("y")},
	}), 0o644))

	t.Run("archive next to input", func(t *testing.T) {
		require.NoError(t, ExtractToDisk([]string{arcPath}, "", testExtractOptions()))
		assert.FileExists(t, filepath.Join(dir, "stage", "a.txt"))
		assert.FileExists(t, filepath.Join(dir, "stage", "sub", "b.txt"))
	})

	t.Run("archive into out folder", func(t *testing.T) {
		out := filepath.Join(dir, "out")
		require.NoError(t, ExtractToDisk([]string{arcPath}, out, testExtractOptions()))
		assert.FileExists(t, filepath.Join(out, "a.txt"))
		assert.FileExists(t, filepath.Join(out, "sub", "b.txt"))
	})

	t.Run("single output", func(t *testing.T) {
		require.NoError(t, ExtractToDisk([]string{msgPath}, "", testExtractOptions()))
		assert.FileExists(t, filepath.Join(dir, "menu.bmg.json"))

		out := filepath.Join(dir, "renamed.json")
		require.NoError(t, ExtractToDisk([]string{msgPath}, out, testExtractOptions()))
		assert.FileExists(t, out)
	})

	t.Run("disc gets its own folder", func(t *testing.T) {
		require.NoError(t, ExtractToDisk([]string{isoPath}, "", testExtractOptions()))
		assert.FileExists(t, filepath.Join(dir, "game", "x.bin"))
		assert.FileExists(t, filepath.Join(dir, "game", "d", "y.bin"))
	})

	t.Run("several inputs", func(t *testing.T) {
		out := filepath.Join(dir, "many")
		require.NoError(t, ExtractToDisk([]string{arcPath, msgPath}, out, testExtractOptions()))
		assert.FileExists(t, filepath.Join(out, "stage", "a.txt"))
		assert.FileExists(t, filepath.Join(out, "menu.bmg.json"))
	})

	t.Run("missing input", func(t *testing.T) {
		err := ExtractToDisk([]string{filepath.Join(dir, "nope.szs")}, "", testExtractOptions())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestExtractToDiskNoOutput(t *testing.T) {
	dir := t.TempDir()
	arcPath := filepath.Join(dir, "empty.arc")
	require.NoError(t, os.WriteFile(arcPath, sampleArchive(t, fstest.MapFS{}, false), 0o644))

	err := ExtractToDisk([]string{arcPath}, "", testExtractOptions())
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestExtractToDiskRejectsEscapingNames(t *testing.T) {
	dir := t.TempDir()
	b := rarc.NewBuilder("x")
	b.BeginDir()
	b.AddFile("../../escaped.txt", []byte("x"))
	b.EndDir(0, -1)
	data, err := b.Bytes()
	require.NoError(t, err)

	arcPath := filepath.Join(dir, "work", "sub", "x.arc")
	require.NoError(t, os.MkdirAll(filepath.Dir(arcPath), 0o755))
	require.NoError(t, os.WriteFile(arcPath, data, 0o644))

	err = ExtractToDisk([]string{arcPath}, "", testExtractOptions())
	var pe *rarc.ParseError
	assert.True(t, errors.As(err, &pe), "got %v", err)
	assert.NoFileExists(t, filepath.Join(dir, "work", "escaped.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "escaped.txt"))
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		f := vfs.VirtualFile{Path: filepath.Join(root, filepath.FromSlash(name)), Bytes: []byte(data)}
		require.NoError(t, f.Write())
	}
}

const menuJSON = `{
	// exported by cube
	"metadata": {"encoding": "CP1252", "bmg_file_id": 0, "default_color": 0},
	"messages": [
		{"message": "start", "index": null, "attributes": ""},
		{"message": "quit", "index": null, "attributes": ""},
	]
}`

func TestPackDirectory(t *testing.T) {
	dir := t.TempDir()
	stage := filepath.Join(dir, "stage")
	writeTree(t, stage, map[string]string{
		"menu.bmg.json":  menuJSON,
		"a.txt":          "a",
		"nested/b.txt":   "b",
		"nested/tex.png": "not packed",
	})

	opts := testPackOptions()
	opts.DeleteOriginals = true
	require.NoError(t, Pack(stage, "", opts))
	assert.NoDirExists(t, stage)

	packed, err := os.ReadFile(filepath.Join(dir, "stage.szs"))
	require.NoError(t, err)
	assert.True(t, yaz0.IsCompressed(packed))

	files, err := szs.Extract(packed)
	require.NoError(t, err)
	got := contents(files)
	names := make([]string, 0, len(got))
	for name := range got {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a.txt", "menu.bmg", "nested/b.txt", "nested/tex.png"}, names)

	archive, err := bmg.Read(got["menu.bmg"])
	require.NoError(t, err)
	msgs, err := archive.Messages()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "quit", msgs[1].Text)
}

func TestPackDirectoryOptions(t *testing.T) {
	dir := t.TempDir()
	stage := filepath.Join(dir, "stage")
	writeTree(t, stage, map[string]string{"a.txt": "a"})

	opts := testPackOptions()
	opts.Yaz0Compress = false
	require.NoError(t, Pack(stage, "", opts))
	packed, err := os.ReadFile(filepath.Join(dir, "stage.arc"))
	require.NoError(t, err)
	assert.Equal(t, "RARC", string(packed[:4]))

	opts = testPackOptions()
	opts.ArcExtension = "carc"
	require.NoError(t, Pack(stage, "", opts))
	packed, err = os.ReadFile(filepath.Join(dir, "stage.carc"))
	require.NoError(t, err)
	assert.True(t, yaz0.IsCompressed(packed))

	out := filepath.Join(dir, "build", "custom.arc")
	require.NoError(t, Pack(stage, out, testPackOptions()))
	packed, err = os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "RARC", string(packed[:4]), "arc output is never compressed")
}

func TestPackJSON(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "menu.bmg.json")
	writeTree(t, dir, map[string]string{"menu.bmg.json": menuJSON})

	require.NoError(t, Pack(src, "", testPackOptions()))
	assert.FileExists(t, src)

	data, err := os.ReadFile(filepath.Join(dir, "menu.bmg"))
	require.NoError(t, err)
	assert.Equal(t, bmg.Magic, string(data[:8]))
}

func TestPackZstd(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"menu.json": menuJSON})

	opts := testPackOptions()
	opts.Zstd = true
	require.NoError(t, Pack(filepath.Join(dir, "menu.json"), "", opts))

	wrapped, err := os.ReadFile(filepath.Join(dir, "menu.bmg.zst"))
	require.NoError(t, err)
	files, err := Extract(vfs.VirtualFile{Path: "menu.bmg.zst", Bytes: wrapped}, testExtractOptions())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, []string{"start", "quit"}, decodeMessages(t, files[0].Bytes))
}

func TestPackSkipsUnknown(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"notes.txt": "x", "tex.png": "x"})

	require.NoError(t, Pack(filepath.Join(dir, "notes.txt"), "", testPackOptions()))
	require.NoError(t, Pack(filepath.Join(dir, "tex.png"), "", testPackOptions()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPackErrors(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"bad.json": "{", "a.txt": "a"})

	assert.Error(t, Pack(filepath.Join(dir, "bad.json"), "", testPackOptions()))
	assert.ErrorIs(t, Pack(filepath.Join(dir, "a.txt"), filepath.Join(dir, "a.arc"), testPackOptions()), rarc.ErrNotADirectory)
	assert.ErrorIs(t, Pack(filepath.Join(dir, "missing"), "", testPackOptions()), os.ErrNotExist)
}

func TestRunOrdered(t *testing.T) {
	out, err := runOrdered(100, 4, nil, func(i int) (int, error) { return i * i, nil })
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}

	out, err = runOrdered(0, 0, nil, func(i int) (int, error) { return i, nil })
	require.NoError(t, err)
	assert.Empty(t, out)

	boom := errors.New("boom")
	_, err = runOrdered(10, 3, nil, func(i int) (int, error) {
		if i == 7 {
			return 0, boom
		}
		return i, nil
	})
	assert.ErrorIs(t, err, boom)
}
