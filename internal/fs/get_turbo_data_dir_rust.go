//go:build rust
// +build rust

package fs

import (
	"github.com/turbocache/turbo/internal/ffi"
	"github.com/turbocache/turbo/internal/turbopath"
)

// GetTurboDataDir returns a directory outside of the repo
// where turbo can store data files related to turbo.
func GetTurboDataDir() turbopath.AbsoluteSystemPath {
	dir := ffi.GetTurboDataDir()
	return turbopath.AbsoluteSystemPathFromUpstream(dir)
}
