package cache

import (
	"errors"
	"io/fs"

	"github.com/spf13/afero"
)

// FS is the filesystem contract the disk tier depends on. Paths are passed
// through unchanged.
type FS interface {
	Exists(path string) bool
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	Rename(oldpath, newpath string) error
	// Remove deletes a file. A missing file is not an error.
	Remove(path string) error
	EnsureDir(path string) error
	// ReadDir returns the names of the regular files in a directory.
	ReadDir(path string) ([]string, error)
}

type aferoFS struct {
	fs afero.Fs
}

// NewFS adapts an afero filesystem.
func NewFS(fsys afero.Fs) FS {
	return &aferoFS{fs: fsys}
}

// OSFS returns an FS backed by the operating system.
func OSFS() FS {
	return NewFS(afero.NewOsFs())
}

func (a *aferoFS) Exists(path string) bool {
	ok, err := afero.Exists(a.fs, path)
	return err == nil && ok
}

func (a *aferoFS) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(a.fs, path)
}

func (a *aferoFS) WriteFile(path string, data []byte) error {
	return afero.WriteFile(a.fs, path, data, 0o644)
}

func (a *aferoFS) Rename(oldpath, newpath string) error {
	return a.fs.Rename(oldpath, newpath)
}

func (a *aferoFS) Remove(path string) error {
	if err := a.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (a *aferoFS) EnsureDir(path string) error {
	return a.fs.MkdirAll(path, 0o755)
}

func (a *aferoFS) ReadDir(path string) ([]string, error) {
	infos, err := afero.ReadDir(a.fs, path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Mode().IsRegular() {
			names = append(names, info.Name())
		}
	}
	return names, nil
}

// osBacked reports whether f reads and writes the real filesystem, which
// is required for directory watching.
func osBacked(f FS) bool {
	a, ok := f.(*aferoFS)
	if !ok {
		return false
	}
	_, ok = a.fs.(*afero.OsFs)
	return ok
}
