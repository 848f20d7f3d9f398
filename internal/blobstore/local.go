package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Local is a Directory rooted at a path on the local file system.
type Local struct {
	root string
}

// NewLocal returns a Local rooted at root, creating the directory if needed.
func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", root, err)
	}

	return &Local{root: root}, nil
}

// Kind implements Directory.
func (l *Local) Kind() string {
	return "local"
}

// Root returns the directory root.
func (l *Local) Root() string {
	return l.root
}

// Path resolves name to a path below the root.
func (l *Local) Path(name string) (string, error) {
	p := filepath.FromSlash(name)
	if name == "" || !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return filepath.Join(l.root, p), nil
}

// Open implements Directory.
func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := l.Path(name)
	if err != nil {
		return nil, err
	}

	return os.Open(p)
}

// OpenRange implements RangeReader.
func (l *Local) OpenRange(_ context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	p, err := l.Path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}

	return &sectionFile{SectionReader: io.NewSectionReader(f, offset, length), file: f}, nil
}

// Create implements Directory. Parent directories are created as needed.
func (l *Local) Create(_ context.Context, name string) (io.WriteCloser, error) {
	p, err := l.Path(name)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
		return nil, err
	}

	return os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
}

// Size implements Directory.
func (l *Local) Size(_ context.Context, name string) (int64, error) {
	p, err := l.Path(name)
	if err != nil {
		return 0, err
	}

	info, err := os.Stat(p)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

// Delete implements Directory.
func (l *Local) Delete(_ context.Context, name string) error {
	p, err := l.Path(name)
	if err != nil {
		return err
	}

	return os.Remove(p)
}

// List implements Directory.
func (l *Local) List(_ context.Context, prefix string) ([]string, error) {
	var names []string

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}

		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to list %s: %w", l.root, err)
	}

	return names, nil
}

type sectionFile struct {
	*io.SectionReader
	file *os.File
}

func (s *sectionFile) Close() error {
	return s.file.Close()
}
