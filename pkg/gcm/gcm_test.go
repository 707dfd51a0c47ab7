package gcm

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	name     string
	data     string
	children []node
}

// buildDisc lays out a disc with the FST at 0x500 and file data after it.
func buildDisc(t *testing.T, root []node) []byte {
	t.Helper()
	var entries [][3]uint32
	var names []byte
	var blobs [][]byte
	var fileEntries []int

	var add func(n node, parent int)
	add = func(n node, parent int) {
		idx := len(entries)
		nameOff := uint32(len(names))
		names = append(append(names, n.name...), 0)
		if n.children == nil {
			entries = append(entries, [3]uint32{nameOff, 0, uint32(len(n.data))})
			blobs = append(blobs, []byte(n.data))
			fileEntries = append(fileEntries, idx)
			return
		}
		entries = append(entries, [3]uint32{1<<24 | nameOff, uint32(parent), 0})
		for _, c := range n.children {
			add(c, idx)
		}
		entries[idx][2] = uint32(len(entries))
	}
	entries = append(entries, [3]uint32{1 << 24, 0, 0})
	for _, n := range root {
		add(n, 0)
	}
	entries[0][2] = uint32(len(entries))

	const fstOffset = 0x500
	fstSize := len(entries)*fstEntrySize + len(names)
	dataOffset := fstOffset + (fstSize+31)&^31
	for i, idx := range fileEntries {
		entries[idx][1] = uint32(dataOffset)
		dataOffset += (len(blobs[i]) + 3) &^ 3
	}

	disc := make([]byte, dataOffset)
	copy(disc, "GALE01")
	binary.BigEndian.PutUint32(disc[magicOffset:], Magic)
	copy(disc[titleOffset:], "Test Disc")
	binary.BigEndian.PutUint32(disc[fstOffsetOffset:], fstOffset)
	binary.BigEndian.PutUint32(disc[fstSizeOffset:], uint32(fstSize))
	off := fstOffset
	for _, e := range entries {
		for _, v := range e {
			binary.BigEndian.PutUint32(disc[off:], v)
			off += 4
		}
	}
	copy(disc[off:], names)
	for i, idx := range fileEntries {
		copy(disc[entries[idx][1]:], blobs[i])
	}
	return disc
}

func sampleDisc(t *testing.T) []byte {
	return buildDisc(t, []node{
		{name: "opening.bnr", data: "banner"},
		{name: "audio", children: []node{
			{name: "bgm.hps", data: "music"},
			{name: "empty", children: []node{}},
		}},
		{name: "common.szs", data: "Yaz0...."},
		{name: "stage", children: []node{
			{name: "a.dat", data: "A"},
			{name: "sub", children: []node{{name: "deep.bin", data: ""}}},
			{name: "b.dat", data: "BB"},
		}},
	})
}

func TestOpen(t *testing.T) {
	data := sampleDisc(t)
	d, err := Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	assert.Equal(t, "GALE", d.Header.GameID)
	assert.Equal(t, "01", d.Header.MakerCode)
	assert.Equal(t, "Test Disc", d.Header.Title)
	assert.Equal(t, uint32(0x500), d.Header.FSTOffset)

	paths := make([]string, len(d.Files()))
	for i, e := range d.Files() {
		paths[i] = e.Path
	}
	// Files of each directory precede its subdirectories.
	assert.Equal(t, []string{
		"opening.bnr",
		"common.szs",
		"audio/bgm.hps",
		"stage/a.dat",
		"stage/b.dat",
		"stage/sub/deep.bin",
	}, paths)
}

func TestReadAll(t *testing.T) {
	data := sampleDisc(t)
	d, err := Open(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	files, err := d.ReadAll()
	require.NoError(t, err)
	got := make(map[string]string, len(files))
	for _, f := range files {
		got[f.Path] = string(f.Bytes)
	}
	assert.Equal(t, map[string]string{
		"opening.bnr":        "banner",
		"common.szs":         "Yaz0....",
		"audio/bgm.hps":      "music",
		"stage/a.dat":        "A",
		"stage/b.dat":        "BB",
		"stage/sub/deep.bin": "",
	}, got)
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(bytes.NewReader(make([]byte, 0x100)), 0x100)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, err = Open(bytes.NewReader(make([]byte, 0x1000)), 0x1000)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	data := sampleDisc(t)
	bad := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(bad[fstOffsetOffset:], uint32(len(bad)))
	_, err = Open(bytes.NewReader(bad), int64(len(bad)))
	assert.ErrorIs(t, err, ErrCorruptFST)

	// Directory whose next index points backwards.
	bad = append([]byte(nil), data...)
	binary.BigEndian.PutUint32(bad[0x500+2*fstEntrySize+8:], 1)
	_, err = Open(bytes.NewReader(bad), int64(len(bad)))
	assert.ErrorIs(t, err, ErrCorruptFST)

	for _, name := range []string{"../x", "a/b", "..", ""} {
		bad = buildDisc(t, []node{{name: "ok.bin", data: "ok"}, {name: name, data: "x"}})
		_, err = Open(bytes.NewReader(bad), int64(len(bad)))
		assert.ErrorIs(t, err, ErrCorruptFST, "%q", name)
	}
	bad = buildDisc(t, []node{{name: "..", children: []node{{name: "x", data: "x"}}}})
	_, err = Open(bytes.NewReader(bad), int64(len(bad)))
	assert.ErrorIs(t, err, ErrCorruptFST)
}
