package bundle

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/cloq-dev/cloq/interfaces"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rawEntry struct {
	hdr  tar.Header
	data string
}

func craftPayload(t *testing.T, entries ...rawEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := e.hdr
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.data))
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		require.NoError(t, tw.WriteHeader(&hdr))
		if e.data != "" {
			_, err := tw.Write([]byte(e.data))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func file(name, data string) rawEntry {
	return rawEntry{hdr: tar.Header{Typeflag: tar.TypeReg, Name: name}, data: data}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(root, p)
		if d.IsDir() {
			if rel != "." {
				out[filepath.ToSlash(rel)+"/"] = ""
			}
			return nil
		}
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestPackUnpackRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":         "hello",
		"b/c.txt":       "world",
		"b/d/deep.bin":  string([]byte{0, 1, 2, 255}),
		"empty-file.md": "",
	})
	require.NoError(t, os.Mkdir(filepath.Join(src, "empty-dir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "run.sh"), []byte("#!/bin/sh\necho hi\n"), 0o755))

	payload, err := Pack(src)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, Unpack(payload, dest))

	assert.Equal(t, readTree(t, src), readTree(t, dest))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(dest, "run.sh"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

		info, err = os.Stat(filepath.Join(dest, "a.txt"))
		require.NoError(t, err)
		assert.Zero(t, info.Mode().Perm()&0o111)
	}
}

func TestPackDeterministic(t *testing.T) {
	files := map[string]string{"a.txt": "hello", "b/c.txt": "world", "z/y/x": "deep"}

	first := t.TempDir()
	writeTree(t, first, files)
	second := t.TempDir()
	writeTree(t, second, files)

	old := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(second, "a.txt"), old, old))

	p1, err := Pack(first)
	require.NoError(t, err)
	p2, err := Pack(second)
	require.NoError(t, err)
	p3, err := Pack(first)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.Equal(t, p1, p3)
}

func TestPackEntriesOrdered(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"b/c.txt": "world", "a.txt": "hello"})

	payload, err := Pack(src)
	require.NoError(t, err)

	entries, err := List(payload)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Path: "a.txt", Size: 5, Mode: 0o644}, entries[0])
	assert.Equal(t, "b", entries[1].Path)
	assert.True(t, entries[1].Dir)
	assert.Equal(t, "b/c.txt", entries[2].Path)
}

func TestPackSingleFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tool.py")
	require.NoError(t, os.WriteFile(src, []byte("print(1)"), 0o644))

	payload, err := Pack(src)
	require.NoError(t, err)

	dest := t.TempDir()
	require.NoError(t, Unpack(payload, dest))
	assert.Equal(t, map[string]string{"tool.py": "print(1)"}, readTree(t, dest))
}

func TestPackRejectsSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "hello"})
	require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(src, "link")))

	_, err := Pack(src)
	assert.ErrorIs(t, err, interfaces.ErrInvalidBundle)
}

func TestPackMissingSource(t *testing.T) {
	_, err := Pack(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidBundle)
}

func TestUnpackRejectsUnsafeEntries(t *testing.T) {
	tests := []struct {
		name    string
		entries []rawEntry
	}{
		{
			name:    "parent traversal",
			entries: []rawEntry{file("ok.txt", "fine"), file("../../etc/passwd", "pwned")},
		},
		{
			name:    "inner traversal",
			entries: []rawEntry{file("a/../../escape", "x")},
		},
		{
			name:    "absolute path",
			entries: []rawEntry{file("/etc/passwd", "x")},
		},
		{
			name: "symlink",
			entries: []rawEntry{
				{hdr: tar.Header{Typeflag: tar.TypeSymlink, Name: "link", Linkname: "/etc"}},
			},
		},
		{
			name: "hard link",
			entries: []rawEntry{
				file("a", "x"),
				{hdr: tar.Header{Typeflag: tar.TypeLink, Name: "b", Linkname: "a"}},
			},
		},
		{
			name: "device",
			entries: []rawEntry{
				{hdr: tar.Header{Typeflag: tar.TypeChar, Name: "dev"}},
			},
		},
		{
			name:    "duplicate",
			entries: []rawEntry{file("a.txt", "one"), file("a.txt", "two")},
		},
		{
			name:    "nested under file",
			entries: []rawEntry{file("a", "x"), file("a/b", "y")},
		},
		{
			name:    "file declared after its children",
			entries: []rawEntry{file("a/b", "y"), file("a", "x")},
		},
		{
			name:    "backslash",
			entries: []rawEntry{file(`..\evil`, "x")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := craftPayload(t, tt.entries...)

			dest := filepath.Join(t.TempDir(), "out")
			err := Unpack(payload, dest)
			assert.ErrorIs(t, err, interfaces.ErrInvalidBundle)

			_, statErr := os.Stat(dest)
			assert.True(t, os.IsNotExist(statErr), "destination must not be created")
		})
	}
}

func TestUnpackTraversalLeavesExistingDestUntouched(t *testing.T) {
	dest := t.TempDir()
	payload := craftPayload(t, file("first.txt", "x"), file("../../etc/passwd", "pwned"))

	err := Unpack(payload, dest)
	require.ErrorIs(t, err, interfaces.ErrInvalidBundle)
	assert.Empty(t, readTree(t, dest))
}

func TestUnpackRejectsGarbage(t *testing.T) {
	err := Unpack([]byte("definitely not gzip"), t.TempDir())
	assert.ErrorIs(t, err, interfaces.ErrInvalidBundle)

	payload := craftPayload(t, file("a.txt", "hello world"))
	err = Unpack(payload[:len(payload)/2], t.TempDir())
	assert.ErrorIs(t, err, interfaces.ErrInvalidBundle)
}

func TestUnpackRollsBackOnConflict(t *testing.T) {
	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"z.txt": "pre-existing"})

	payload := craftPayload(t,
		file("a.txt", "new"),
		rawEntry{hdr: tar.Header{Typeflag: tar.TypeDir, Name: "dir/"}},
		file("dir/b.txt", "new"),
		file("z.txt", "overwrite attempt"),
	)

	err := Unpack(payload, dest)
	require.Error(t, err)

	assert.Equal(t, map[string]string{"z.txt": "pre-existing"}, readTree(t, dest))
}

func TestUnpackRollbackRemovesCreatedAncestors(t *testing.T) {
	base := t.TempDir()
	dest := filepath.Join(base, "a", "b", "c")

	// Valid in the archive but rejected by the filesystem while writing.
	payload := craftPayload(t,
		file("first.txt", "written before the failure"),
		file(strings.Repeat("n", 300), "unwritable"),
	)

	err := Unpack(payload, dest)
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(base, "a"))
	assert.True(t, os.IsNotExist(statErr))
	assert.Empty(t, readTree(t, base))
}

func TestUnpackRollbackKeepsExistingAncestors(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "a"), 0o755))
	dest := filepath.Join(base, "a", "b")

	payload := craftPayload(t, file(strings.Repeat("n", 300), "unwritable"))
	require.Error(t, Unpack(payload, dest))

	assert.Equal(t, map[string]string{"a/": ""}, readTree(t, base))
}

func TestUnpackDoesNotFollowExistingSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}
	outside := t.TempDir()
	dest := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dest, "sub")))

	payload := craftPayload(t, file("sub/escape.txt", "x"))
	require.Error(t, Unpack(payload, dest))

	_, err := os.Stat(filepath.Join(outside, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestUnpackSizeLimit(t *testing.T) {
	old := MaxExpandedSize
	MaxExpandedSize = 4
	t.Cleanup(func() { MaxExpandedSize = old })

	payload := craftPayload(t, file("big", "0123456789"))
	err := Unpack(payload, filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidBundle)
}
