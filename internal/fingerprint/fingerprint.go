// Package fingerprint computes a task's Fingerprint (spec.md §4.5,
// §3 "Fingerprint"): the single value the cache keys off of. It composes,
// in frozen schema order: the task definition's own fields, the content
// hashes of the files the task's `inputs` resolve to, the resolved
// environment variables the task declared via `env`, the external
// dependency hash contributed by the lockfile, and the fingerprints of
// every upstream (dependency) task.
//
// File content hashing is grounded on internal/hashing/package_deps_hash.go's
// git-object-id approach (git ls-tree for the checked-in state, git status
// + git hash-object to cover the working tree): that function is consumed
// here unchanged, not reimplemented. Everything downstream of "file path ->
// content hash" is new — composing those hashes with the rest of a task's
// identity through internal/schemahash rather than internal/taskhash's
// ad-hoc string-concat hashing.
package fingerprint

import (
	"sort"

	"github.com/turbocache/turbo/internal/env"
	"github.com/turbocache/turbo/internal/hashing"
	"github.com/turbocache/turbo/internal/schemahash"
	"github.com/turbocache/turbo/internal/turbojson"
	"github.com/turbocache/turbo/internal/turbopath"
)

// Fingerprint is the fully composed identity of one task invocation. It does
// not depend on map iteration order; upstream fingerprints are hashed in the
// order the caller gives them. It is opaque outside this package beyond its string
// form — two Fingerprints are interchangeable with the cache only when
// their String() values match exactly.
type Fingerprint struct {
	hash uint64
}

// String renders the fingerprint as the fixed-width lowercase hex the
// cache uses as a file/tarball name stem.
func (f Fingerprint) String() string {
	return schemahash.FormatHex(f.hash)
}

// Equal reports whether two fingerprints represent the same task identity.
func (f Fingerprint) Equal(other Fingerprint) bool { return f.hash == other.hash }

// Input is everything Calculate needs for one task. FileHashes is keyed by
// anchored unix path, the same key internal/hashing.GetPackageFileHashes
// returns, so callers that already have it from a prior inputs walk can
// pass it straight through without re-hashing.
type Input struct {
	TaskID               string
	Definition           turbojson.TaskDefinition
	FileHashes           map[turbopath.AnchoredUnixPath]string
	ResolvedEnv          env.EnvironmentVariableMap
	ExternalDepsHash     string
	UpstreamFingerprints []Fingerprint // already ordered by the caller (e.g. sorted by upstream TaskID)
}

// writerInput adapts Input to schemahash.Hashable so the composition order
// is declared exactly once, in one place, instead of being re-derived by
// every caller that wants to hash a task.
type writerInput struct{ in Input }

func (w writerInput) WriteSchema(sw *schemahash.Writer) {
	sw.String(w.in.TaskID)
	sw.Nested(sub(w.in.Definition))
	sw.Nested(sub(fileHashesHashable(w.in.FileHashes)))
	sw.Nested(sub(envHashable(w.in.ResolvedEnv)))
	sw.String(w.in.ExternalDepsHash)
	sw.Uint64(uint64(len(w.in.UpstreamFingerprints)))
	for _, up := range w.in.UpstreamFingerprints {
		sw.Uint64(up.hash)
	}
}

// sub renders a Hashable into its own Writer so it can be embedded via
// Writer.Nested, which only accepts an already-written sub-schema.
func sub(h schemahash.Hashable) *schemahash.Writer {
	w := schemahash.NewWriter()
	h.WriteSchema(w)
	return w
}

type fileHashesHashable map[turbopath.AnchoredUnixPath]string

func (m fileHashesHashable) WriteSchema(sw *schemahash.Writer) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k.ToString())
	}
	sort.Strings(keys)
	sw.Uint64(uint64(len(keys)))
	for _, k := range keys {
		sw.String(k)
		sw.String(m[turbopath.AnchoredUnixPath(k)])
	}
}

type envHashable env.EnvironmentVariableMap

func (m envHashable) WriteSchema(sw *schemahash.Writer) {
	sw.StringMap(m)
}

// Calculate composes in into a single Fingerprint. Upstream fingerprints
// must already be in a caller-chosen deterministic order (e.g. sorted by
// TaskID) — spec.md §8's "fingerprint determinism" property only requires
// permutation-invariance for genuinely unordered inputs (env, inputs,
// dependsOn, outputs), and the set of upstream tasks for a given TaskId is
// fixed by the task graph, not by run-to-run nondeterminism, so preserving
// the caller's order here is correct and cheaper than re-sorting.
func Calculate(in Input) Fingerprint {
	return Fingerprint{hash: schemahash.Hash(writerInput{in})}
}

// HashFiles resolves inputPatterns (or "all files respecting .gitignore"
// when empty, per spec.md §3) against packagePath using the same
// git-object-id mechanism internal/hashing.GetPackageFileHashes already
// implements, so a Fingerprint's file-content component is byte-for-byte
// identical to what the teacher's hashing package would produce for the
// same inputs.
func HashFiles(rootPath turbopath.AbsoluteSystemPath, packagePath turbopath.AnchoredSystemPath, inputPatterns []string) (map[turbopath.AnchoredUnixPath]string, error) {
	return hashing.GetPackageFileHashes(rootPath, packagePath, inputPatterns)
}
