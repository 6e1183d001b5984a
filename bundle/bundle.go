// Package bundle converts a directory tree into a single deterministic
// payload (gzip-compressed tar) and back.
package bundle

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cloq-dev/cloq/interfaces"
	"github.com/klauspost/compress/gzip"
)

// MaxExpandedSize bounds the total decompressed size of file contents
// accepted by Unpack and List.
var MaxExpandedSize int64 = 8 << 30

// Entry describes one member of a bundle.
type Entry struct {
	Path string      // slash-separated, relative to the bundle root
	Size int64       // zero for directories
	Mode fs.FileMode // permission bits only
	Dir  bool
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", interfaces.ErrInvalidBundle, fmt.Sprintf(format, args...))
}

// Pack serializes the directory tree rooted at root, or a single regular
// file, into one gzip-compressed tar payload. Identical trees produce
// identical bytes: entries are lexically ordered and carry no timestamps
// or ownership. Symlinks and special files are rejected.
func Pack(root string) ([]byte, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, invalid("cannot read source: %v", err)
	}

	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(gz)

	switch {
	case info.Mode().IsRegular():
		if err := writeFile(tw, root, filepath.Base(root), info); err != nil {
			return nil, err
		}
	case info.IsDir():
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return invalid("cannot read %s: %v", p, err)
			}
			if p == root {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return invalid("%v", err)
			}
			name := filepath.ToSlash(rel)

			info, err := d.Info()
			if err != nil {
				return invalid("cannot stat %s: %v", name, err)
			}
			switch {
			case info.IsDir():
				return tw.WriteHeader(&tar.Header{
					Typeflag: tar.TypeDir,
					Name:     name + "/",
					Mode:     int64(info.Mode().Perm()),
				})
			case info.Mode().IsRegular():
				return writeFile(tw, p, name, info)
			default:
				return invalid("unsupported file type %s at %s", info.Mode().Type(), name)
			}
		})
		if err != nil {
			return nil, err
		}
	default:
		return nil, invalid("unsupported file type %s at %s", info.Mode().Type(), root)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFile(tw *tar.Writer, src, name string, info fs.FileInfo) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return invalid("cannot read %s: %v", name, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Mode:     int64(info.Mode().Perm()),
		Size:     int64(len(data)),
	}); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

// entryName validates a member name and returns its clean slash form.
// ok is false for the bundle root itself.
func entryName(raw string) (name string, ok bool, err error) {
	if raw == "" {
		return "", false, invalid("empty entry name")
	}
	if strings.ContainsRune(raw, '\\') || strings.ContainsRune(raw, 0) {
		return "", false, invalid("illegal character in entry %q", raw)
	}
	if path.IsAbs(raw) || filepath.IsAbs(raw) || filepath.VolumeName(raw) != "" {
		return "", false, invalid("absolute entry %q", raw)
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return "", false, invalid("entry %q escapes bundle root", raw)
		}
	}
	clean := path.Clean(raw)
	if clean == "." {
		return "", false, nil
	}
	return clean, true, nil
}

// scan walks the payload once and validates every entry without writing
// anything. visit, when non-nil, receives each accepted entry along with a
// reader positioned at its contents.
func scan(payload []byte, visit func(Entry, io.Reader) error) ([]Entry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, invalid("not a gzip stream: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	kinds := make(map[string]bool) // path -> isDir
	var entries []Entry
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, invalid("corrupt tar stream: %v", err)
		}

		name, ok, err := entryName(hdr.Name)
		if err != nil {
			return nil, err
		}

		var isDir bool
		switch hdr.Typeflag {
		case tar.TypeDir:
			isDir = true
		case tar.TypeReg:
		default:
			return nil, invalid("entry %q has unsupported type %q", hdr.Name, hdr.Typeflag)
		}

		if !ok {
			if !isDir {
				return nil, invalid("file entry at bundle root")
			}
			continue
		}

		if _, dup := kinds[name]; dup {
			return nil, invalid("duplicate entry %q", name)
		}
		for parent := path.Dir(name); parent != "."; parent = path.Dir(parent) {
			if parentIsDir, seen := kinds[parent]; seen && !parentIsDir {
				return nil, invalid("entry %q is nested under file %q", name, parent)
			}
		}
		kinds[name] = isDir

		e := Entry{
			Path: name,
			Mode: fs.FileMode(hdr.Mode).Perm(),
			Dir:  isDir,
		}
		if !isDir {
			e.Size = hdr.Size
			total += hdr.Size
			if hdr.Size < 0 || total > MaxExpandedSize {
				return nil, invalid("bundle expands beyond %d bytes", MaxExpandedSize)
			}
		}

		if visit != nil {
			if err := visit(e, tr); err != nil {
				return nil, err
			}
		} else if !isDir {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return nil, invalid("corrupt entry %q: %v", name, err)
			}
		}
		entries = append(entries, e)
	}

	// A file may also appear after entries nested beneath its path.
	for name := range kinds {
		for parent := path.Dir(name); parent != "."; parent = path.Dir(parent) {
			if parentIsDir, seen := kinds[parent]; seen && !parentIsDir {
				return nil, invalid("entry %q is nested under file %q", name, parent)
			}
		}
	}

	return entries, nil
}

// List validates payload and returns its entries in archive order.
func List(payload []byte) ([]Entry, error) {
	return scan(payload, nil)
}

// Unpack recreates the bundle under dest. The whole payload is validated
// before the first write; absolute paths, parent traversal, links, special
// files and duplicates fail with interfaces.ErrInvalidBundle and leave dest
// untouched. Existing files are never overwritten. If writing fails midway,
// everything created by this call is removed.
func Unpack(payload []byte, dest string) (err error) {
	if _, err := scan(payload, nil); err != nil {
		return err
	}

	createdTop, err := createDest(dest)
	if err != nil {
		return err
	}

	root, err := os.OpenRoot(dest)
	if err != nil {
		if createdTop != "" {
			os.RemoveAll(createdTop)
		}
		return fmt.Errorf("failed to open destination: %w", err)
	}
	defer root.Close()

	w := &writer{root: root}
	defer func() {
		if err != nil {
			w.rollback()
			if createdTop != "" {
				os.RemoveAll(createdTop)
			}
		}
	}()

	if _, err := scan(payload, w.write); err != nil {
		return err
	}
	return w.finish()
}

// createDest creates dest and any missing ancestors. It returns the
// outermost directory it created, or "" when dest already existed.
func createDest(dest string) (string, error) {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", fmt.Errorf("failed to resolve destination: %w", err)
	}

	top := ""
	for p := abs; ; p = filepath.Dir(p) {
		if _, err := os.Lstat(p); !errors.Is(err, fs.ErrNotExist) {
			break
		}
		top = p
		if filepath.Dir(p) == p {
			break
		}
	}
	if top == "" {
		return "", nil
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		os.RemoveAll(top)
		return "", fmt.Errorf("failed to create destination: %w", err)
	}
	return top, nil
}

type writer struct {
	root    *os.Root
	created []string // in creation order
	dirs    []Entry
}

func (w *writer) mkdirAll(name string) error {
	if name == "." {
		return nil
	}
	if err := w.mkdirAll(path.Dir(name)); err != nil {
		return err
	}
	native := filepath.FromSlash(name)
	err := w.root.Mkdir(native, 0o755)
	if err == nil {
		w.created = append(w.created, native)
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		info, statErr := w.root.Lstat(native)
		if statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("destination %s exists and is not a directory", name)
	}
	return fmt.Errorf("failed to create directory %s: %w", name, err)
}

func (w *writer) write(e Entry, r io.Reader) error {
	if e.Dir {
		if err := w.mkdirAll(e.Path); err != nil {
			return err
		}
		w.dirs = append(w.dirs, e)
		return nil
	}

	if err := w.mkdirAll(path.Dir(e.Path)); err != nil {
		return err
	}
	native := filepath.FromSlash(e.Path)
	f, err := w.root.OpenFile(native, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", e.Path, err)
	}
	w.created = append(w.created, native)

	_, err = io.Copy(f, io.LimitReader(r, e.Size))
	if err == nil {
		err = f.Chmod(e.Mode)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", e.Path, err)
	}
	return nil
}

// finish applies directory permissions deepest first so that read-only
// directories do not block writes into them.
func (w *writer) finish() error {
	for i := len(w.dirs) - 1; i >= 0; i-- {
		d := w.dirs[i]
		f, err := w.root.Open(filepath.FromSlash(d.Path))
		if err != nil {
			return fmt.Errorf("failed to open directory %s: %w", d.Path, err)
		}
		err = f.Chmod(d.Mode)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to set mode on %s: %w", d.Path, err)
		}
	}
	return nil
}

func (w *writer) rollback() {
	for i := len(w.created) - 1; i >= 0; i-- {
		w.root.Remove(w.created[i])
	}
}
