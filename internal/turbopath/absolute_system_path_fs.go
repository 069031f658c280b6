package turbopath

import (
	"io/ioutil"
	"os"
	"path/filepath"
)

// UntypedJoin appends a plain string path segment to this AbsoluteSystemPath.
// Unlike Join, it does not require the caller to have already produced a
// RelativeSystemPath, which is convenient for call sites that only have a
// hash or filename to append.
func (p AbsoluteSystemPath) UntypedJoin(args ...string) AbsoluteSystemPath {
	return AbsoluteSystemPath(filepath.Join(p.ToString(), filepath.Join(args...)))
}

// Dir returns the directory containing this path.
func (p AbsoluteSystemPath) Dir() AbsoluteSystemPath {
	return AbsoluteSystemPath(filepath.Dir(p.ToString()))
}

// MkdirAll is the AbsoluteSystemPath wrapper for os.MkdirAll.
func (p AbsoluteSystemPath) MkdirAll(mode os.FileMode) error {
	return os.MkdirAll(p.ToString(), mode)
}

// EnsureDir creates the directory containing this path, if it does not
// already exist.
func (p AbsoluteSystemPath) EnsureDir() error {
	return os.MkdirAll(p.Dir().ToString(), 0775)
}

// Open is the AbsoluteSystemPath wrapper for os.Open.
func (p AbsoluteSystemPath) Open() (*os.File, error) {
	return os.Open(p.ToString())
}

// Create is the AbsoluteSystemPath wrapper for os.Create.
func (p AbsoluteSystemPath) Create() (*os.File, error) {
	return os.Create(p.ToString())
}

// FileExists returns true if the file at this path exists.
func (p AbsoluteSystemPath) FileExists() bool {
	_, err := os.Lstat(p.ToString())
	return err == nil
}

// Lstat is the AbsoluteSystemPath wrapper for os.Lstat.
func (p AbsoluteSystemPath) Lstat() (os.FileInfo, error) {
	return os.Lstat(p.ToString())
}

// Stat is the AbsoluteSystemPath wrapper for os.Stat.
func (p AbsoluteSystemPath) Stat() (os.FileInfo, error) {
	return os.Stat(p.ToString())
}

// Readlink is the AbsoluteSystemPath wrapper for os.Readlink.
func (p AbsoluteSystemPath) Readlink() (string, error) {
	return os.Readlink(p.ToString())
}

// Symlink creates a symlink at this path pointing at target.
func (p AbsoluteSystemPath) Symlink(target string) error {
	return os.Symlink(target, p.ToString())
}

// Remove removes the file or empty directory at this path.
func (p AbsoluteSystemPath) Remove() error {
	return os.Remove(p.ToString())
}

// RemoveAll removes the path and any children it contains.
func (p AbsoluteSystemPath) RemoveAll() error {
	return os.RemoveAll(p.ToString())
}

// ReadFile reads the contents of the file at this path.
func (p AbsoluteSystemPath) ReadFile() ([]byte, error) {
	return ioutil.ReadFile(p.ToString())
}

// WriteFile writes contents to the file at this path.
func (p AbsoluteSystemPath) WriteFile(contents []byte, mode os.FileMode) error {
	return ioutil.WriteFile(p.ToString(), contents, mode)
}
