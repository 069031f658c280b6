package cache

import (
	"archive/tar"
	"bytes"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/DataDog/zstd"
	"github.com/turbocache/turbo/internal/analytics"
	"github.com/turbocache/turbo/internal/turbopath"
	"github.com/turbocache/turbo/internal/util"
	"gotest.tools/v3/assert"
)

type errorResp struct {
	err error
	t   *testing.T
}

func (sr *errorResp) PutArtifact(hash string, body []byte, duration int, tag string) error {
	return sr.err
}

func (sr *errorResp) FetchArtifact(hash string) (*http.Response, error) {
	return nil, sr.err
}

func (sr *errorResp) ArtifactExists(hash string) (*http.Response, error) {
	return nil, sr.err
}

func (sr *errorResp) GetTeamID() string {
	return ""
}

func TestRemoteCachingDisabled(t *testing.T) {
	clientErr := &util.CacheDisabledError{
		Status:  util.CachingStatusDisabled,
		Message: "Remote Caching has been disabled for this team. A team owner can enable it here: $URL",
	}
	client := &errorResp{err: clientErr}
	root := turbopath.AbsoluteSystemPath(t.TempDir())
	cache := newHTTPCache(Opts{}, client, analytics.NullRecorder, root)
	cd := &util.CacheDisabledError{}
	_, _, _, err := cache.Fetch(root, "some-hash", []string{"unused", "outputs"})
	if !errors.As(err, &cd) {
		t.Errorf("cache.Fetch err got %v, want a CacheDisabled error", err)
	}
	if cd.Status != util.CachingStatusDisabled {
		t.Errorf("CacheDisabled.Status got %v, want %v", cd.Status, util.CachingStatusDisabled)
	}
}

func makeValidTar(t *testing.T) *bytes.Buffer {
	// <repoRoot>
	//   my-pkg/
	//     some-file
	//     link-to-extra-file -> ../extra-file
	//   extra-file

	t.Helper()
	buf := &bytes.Buffer{}
	zw := zstd.NewWriter(buf)
	defer func() {
		if err := zw.Close(); err != nil {
			t.Fatalf("failed to close zstd: %v", err)
		}
	}()
	tw := tar.NewWriter(zw)
	defer func() {
		if err := tw.Close(); err != nil {
			t.Fatalf("failed to close tar: %v", err)
		}
	}()

	h := &tar.Header{Name: "my-pkg/", Mode: int64(0755), Typeflag: tar.TypeDir}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	contents := []byte("some-file-contents")
	h = &tar.Header{Name: "my-pkg/some-file", Mode: int64(0644), Typeflag: tar.TypeReg, Size: int64(len(contents))}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	if _, err := tw.Write(contents); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	h = &tar.Header{Name: "my-pkg/link-to-extra-file", Mode: int64(0644), Typeflag: tar.TypeSymlink, Linkname: "../extra-file"}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	contents = []byte("extra-file-contents")
	h = &tar.Header{Name: "extra-file", Mode: int64(0644), Typeflag: tar.TypeReg, Size: int64(len(contents))}
	if err := tw.WriteHeader(h); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	if _, err := tw.Write(contents); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	return buf
}

func TestRestoreTar(t *testing.T) {
	root := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())

	tarball := makeValidTar(t)

	expectedFiles := []turbopath.AnchoredSystemPath{
		turbopath.AnchoredUnixPath("extra-file").ToSystemPath(),
		turbopath.AnchoredUnixPath("my-pkg").ToSystemPath(),
		turbopath.AnchoredUnixPath("my-pkg/some-file").ToSystemPath(),
		turbopath.AnchoredUnixPath("my-pkg/link-to-extra-file").ToSystemPath(),
	}
	files, err := restoreTar(root, tarball)
	assert.NilError(t, err, "restoreTar")

	expectedSet := make(util.Set)
	for _, file := range expectedFiles {
		expectedSet.Add(file.ToString())
	}
	gotSet := make(util.Set)
	for _, file := range files {
		gotSet.Add(file.ToString())
	}
	extraFiles := gotSet.Difference(expectedSet)
	if extraFiles.Len() > 0 {
		t.Errorf("got extra files: %v", extraFiles.UnsafeListOfStrings())
	}

	extraFile := root.UntypedJoin("extra-file")
	contents, err := extraFile.ReadFile()
	assert.NilError(t, err, "ReadFile")
	assert.DeepEqual(t, contents, []byte("extra-file-contents"))

	someFile := root.UntypedJoin("my-pkg", "some-file")
	contents, err = someFile.ReadFile()
	assert.NilError(t, err, "ReadFile")
	assert.DeepEqual(t, contents, []byte("some-file-contents"))
}

func Test_httpCache_Put(t *testing.T) {
	root := turbopath.AbsoluteSystemPathFromUpstream(t.TempDir())
	_ = root.UntypedJoin("one").WriteFile(nil, 0644)
	_ = root.UntypedJoin("two").WriteFile(nil, 0644)

	clientErr := errors.New("PutArtifact")
	client := &errorResp{err: clientErr, t: t}

	cache := newHTTPCache(Opts{}, client, analytics.NullRecorder, root)

	assert.ErrorIs(
		t,
		cache.Put(root, "000", 10, []turbopath.AnchoredSystemPath{"one", "two"}),
		clientErr,
		"Succeeds at writing, cache item is successfully passed through.",
	)

	assert.ErrorIs(
		t,
		cache.Put(root, "000", 10, []turbopath.AnchoredSystemPath{"one", "two", "missing"}),
		os.ErrNotExist,
		"Errors with missing file.",
	)
}
