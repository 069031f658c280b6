// Package schemahash implements the structural hasher described by the
// engine's fingerprint design: every hashable type writes its fields, in a
// frozen schema order, as `tag || length || bytes` into a byte stream that
// is then reduced with xxHash64. Unordered collections (maps, sets) are
// serialized as their entries sorted by key so that insertion order never
// affects the result.
//
// This intentionally does not use a wire format such as Cap'n Proto: doing
// so would require generated message bindings, and the schema this package
// implements is simple enough that a hand-written writer is both correct
// and easy to audit field-by-field against the frozen order comment on each
// Hashable implementation.
package schemahash

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Tag identifies the wire type of a field so that two schemas can never
// collide by accident (a string field and a list field with the same
// ordinal position still hash differently).
type Tag byte

// Field tags. The numeric values are part of the frozen wire contract and
// must never be renumbered once a schema ships.
const (
	TagString Tag = iota + 1
	TagBytes
	TagStringList
	TagStringMap
	TagUint64
	TagBool
	TagNested
)

// Writer accumulates a schema-ordered byte stream for one hashable value.
// Callers MUST write fields in the exact order documented on the type's
// Hashable.WriteSchema method; the hasher does not sort fields, only the
// contents of unordered collections within a field.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty schema writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 256)}
}

func (w *Writer) writeTag(t Tag) {
	w.buf = append(w.buf, byte(t))
}

func (w *Writer) writeLen(n int) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(n))
	w.buf = append(w.buf, tmp[:]...)
}

// String writes a single length-prefixed string field.
func (w *Writer) String(s string) *Writer {
	w.writeTag(TagString)
	w.writeLen(len(s))
	w.buf = append(w.buf, s...)
	return w
}

// Bytes writes a single length-prefixed byte-slice field.
func (w *Writer) Bytes(b []byte) *Writer {
	w.writeTag(TagBytes)
	w.writeLen(len(b))
	w.buf = append(w.buf, b...)
	return w
}

// Uint64 writes a fixed-width unsigned integer field.
func (w *Writer) Uint64(v uint64) *Writer {
	w.writeTag(TagUint64)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

// Bool writes a boolean field.
func (w *Writer) Bool(v bool) *Writer {
	w.writeTag(TagBool)
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
	return w
}

// StringList writes a list of strings. sortFirst controls whether the list
// is treated as an unordered set (sorted ascending before hashing) or as
// user-ordered data that must be hashed in the order given — spec.md §4.5
// requires pass-through args to preserve order while nearly everything else
// (inputs, env names, dependsOn) is sorted.
func (w *Writer) StringList(items []string, sortFirst bool) *Writer {
	w.writeTag(TagStringList)
	ordered := items
	if sortFirst {
		ordered = append([]string(nil), items...)
		sort.Strings(ordered)
	}
	w.writeLen(len(ordered))
	for _, s := range ordered {
		w.writeLen(len(s))
		w.buf = append(w.buf, s...)
	}
	return w
}

// StringMap writes a map of string->string, always sorted by key: maps have
// no inherent order and spec.md §4.1(b) requires insertion-order
// insensitivity for every unordered container.
func (w *Writer) StringMap(m map[string]string) *Writer {
	w.writeTag(TagStringMap)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.writeLen(len(keys))
	for _, k := range keys {
		v := m[k]
		w.writeLen(len(k))
		w.buf = append(w.buf, k...)
		w.writeLen(len(v))
		w.buf = append(w.buf, v...)
	}
	return w
}

// Nested embeds the schema bytes of a child Hashable inline, tagged so it
// cannot be confused with a raw byte field.
func (w *Writer) Nested(child *Writer) *Writer {
	w.writeTag(TagNested)
	w.writeLen(len(child.buf))
	w.buf = append(w.buf, child.buf...)
	return w
}

// Sum reduces the accumulated schema bytes to a 64-bit digest.
func (w *Writer) Sum() uint64 {
	return xxhash.Sum64(w.buf)
}

// Hashable is implemented by every type with a frozen schema. WriteSchema
// must write fields to w in the same order every time it is called for
// values of the same type; changing that order changes every fingerprint
// ever produced for the type and must be treated as a breaking change.
type Hashable interface {
	WriteSchema(w *Writer)
}

// Hash writes h's schema into a fresh Writer and reduces it to a 64-bit
// digest.
func Hash(h Hashable) uint64 {
	w := NewWriter()
	h.WriteSchema(w)
	return w.Sum()
}

// HashString reduces a single string via the xxHash64 function directly;
// used for content hashes (file bytes, blob-style hashes) that are not
// themselves structured schema values.
func HashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// HashBytes reduces an arbitrary byte slice.
func HashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// SortedMapHash hashes an arbitrary string-keyed map of hashables by sorting
// keys and composing each entry's schema in turn. This mirrors the
// "index-sort-by-key" trick used for per-file content-hash maps: building
// parallel key/index arrays would be a micro-optimization irrelevant at Go's
// call-by-map-iteration cost, so this sorts the key slice directly.
func SortedMapHash(entries map[string]uint64) uint64 {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w := NewWriter()
	w.writeLen(len(keys))
	for _, k := range keys {
		w.String(k)
		w.Uint64(entries[k])
	}
	return w.Sum()
}

// FormatHex renders a 64-bit digest as the lowercase 16-hex-digit fingerprint
// form spec.md §3 requires.
func FormatHex(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}
