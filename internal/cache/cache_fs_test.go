package cache

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/turbocache/turbo/internal/analytics"
	"github.com/turbocache/turbo/internal/turbopath"
	"gotest.tools/v3/assert"
)

type dummyRecorder struct{}

func (dr *dummyRecorder) LogEvent(payload analytics.EventPayload) {}

func TestPut(t *testing.T) {
	// Set up a test source and cache directory
	// The "source" directory simulates a package
	//
	// <src>/
	//   b
	//   child/
	//     a
	//     link -> ../b
	//
	// Ensure we end up with a matching directory under a
	// "cache" directory:
	//
	// <dst>/the-hash.tar.zst

	src := turbopath.AbsoluteSystemPath(t.TempDir())
	childDir := src.UntypedJoin("child")
	err := childDir.MkdirAll(0775)
	assert.NilError(t, err, "Mkdir")
	aPath := childDir.UntypedJoin("a")
	aFile, err := aPath.Create()
	assert.NilError(t, err, "Create")
	_, err = aFile.WriteString("hello")
	assert.NilError(t, err, "WriteString")
	assert.NilError(t, aFile.Close(), "Close")

	bPath := src.UntypedJoin("b")
	bFile, err := bPath.Create()
	assert.NilError(t, err, "Create")
	_, err = bFile.WriteString("bFile")
	assert.NilError(t, err, "WriteString")
	assert.NilError(t, bFile.Close(), "Close")

	srcLinkPath := childDir.UntypedJoin("link")
	linkTarget := filepath.FromSlash("../b")
	assert.NilError(t, srcLinkPath.Symlink(linkTarget), "Symlink")

	files := []turbopath.AnchoredSystemPath{
		turbopath.AnchoredUnixPath("child").ToSystemPath(),
		turbopath.AnchoredUnixPath("child/a").ToSystemPath(),
		turbopath.AnchoredUnixPath("b").ToSystemPath(),
		turbopath.AnchoredUnixPath("child/link").ToSystemPath(),
	}

	dst := turbopath.AbsoluteSystemPath(t.TempDir())
	dr := &dummyRecorder{}

	cache := &fsCache{
		cacheDirectory: dst,
		recorder:       dr,
	}

	hash := "the-hash"
	duration := 0
	err = cache.Put(src, hash, duration, files)
	assert.NilError(t, err, "Put")

	// Verify the artifact was written and can be fetched back out.
	restoreTarget := turbopath.AbsoluteSystemPath(t.TempDir())
	status, restoredFiles, gotDuration, err := cache.Fetch(restoreTarget, hash, nil)
	assert.NilError(t, err, "Fetch")
	assert.Equal(t, status.Local, true)
	assert.Equal(t, gotDuration, duration)
	assert.Equal(t, len(restoredFiles) > 0, true)

	dstAPath := restoreTarget.UntypedJoin("child", "a")
	assertFileMatches(t, aPath.ToString(), dstAPath.ToString())

	dstBPath := restoreTarget.UntypedJoin("b")
	assertFileMatches(t, bPath.ToString(), dstBPath.ToString())

	dstLinkPath := restoreTarget.UntypedJoin("child", "link")
	target, err := dstLinkPath.Readlink()
	assert.NilError(t, err, "Readlink")
	if target != linkTarget {
		t.Errorf("Readlink got %v, want %v", target, linkTarget)
	}
}

func assertFileMatches(t *testing.T, orig string, copy string) {
	t.Helper()
	origBytes, err := ioutil.ReadFile(orig)
	assert.NilError(t, err, "ReadFile")
	copyBytes, err := ioutil.ReadFile(copy)
	assert.NilError(t, err, "ReadFile")
	assert.DeepEqual(t, origBytes, copyBytes)
	origStat, err := os.Lstat(orig)
	assert.NilError(t, err, "Lstat")
	copyStat, err := os.Lstat(copy)
	assert.NilError(t, err, "Lstat")
	assert.Equal(t, origStat.Mode(), copyStat.Mode())
}

func TestFetchMiss(t *testing.T) {
	dst := turbopath.AbsoluteSystemPath(t.TempDir())
	cache := &fsCache{
		cacheDirectory: dst,
		recorder:       &dummyRecorder{},
	}

	outputDir := turbopath.AbsoluteSystemPath(t.TempDir())
	status, files, _, err := cache.Fetch(outputDir, "missing-hash", nil)
	assert.NilError(t, err, "Fetch")
	assert.Equal(t, status.Hit(), false)
	assert.Equal(t, len(files), 0)
}
