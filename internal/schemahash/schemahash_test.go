package schemahash

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	Name    string
	Inputs  []string
	Env     map[string]string
	PassArg []string
}

// WriteSchema documents the frozen field order for fakeTask: Name, Inputs
// (sorted — unordered input set), Env (sorted by key), PassArg (user order
// preserved).
func (f fakeTask) WriteSchema(w *Writer) {
	w.String(f.Name)
	w.StringList(f.Inputs, true)
	w.StringMap(f.Env)
	w.StringList(f.PassArg, false)
}

func TestHashDeterministic(t *testing.T) {
	a := fakeTask{Name: "build", Inputs: []string{"b", "a", "c"}, Env: map[string]string{"X": "1", "A": "2"}, PassArg: []string{"--flag"}}
	b := fakeTask{Name: "build", Inputs: []string{"a", "b", "c"}, Env: map[string]string{"A": "2", "X": "1"}, PassArg: []string{"--flag"}}
	require.Equal(t, Hash(a), Hash(b), "permuting unordered collections must not change the hash")
}

func TestHashSensitiveToPassArgOrder(t *testing.T) {
	a := fakeTask{Name: "build", PassArg: []string{"--a", "--b"}}
	b := fakeTask{Name: "build", PassArg: []string{"--b", "--a"}}
	require.NotEqual(t, Hash(a), Hash(b), "pass-through args preserve user order and must hash differently when reordered")
}

func TestHashSensitiveToEveryField(t *testing.T) {
	base := fakeTask{Name: "build", Inputs: []string{"a"}, Env: map[string]string{"A": "1"}, PassArg: []string{"x"}}
	variants := []fakeTask{
		{Name: "test", Inputs: base.Inputs, Env: base.Env, PassArg: base.PassArg},
		{Name: base.Name, Inputs: []string{"b"}, Env: base.Env, PassArg: base.PassArg},
		{Name: base.Name, Inputs: base.Inputs, Env: map[string]string{"A": "2"}, PassArg: base.PassArg},
		{Name: base.Name, Inputs: base.Inputs, Env: base.Env, PassArg: []string{"y"}},
	}
	baseHash := Hash(base)
	for i, v := range variants {
		require.NotEqual(t, baseHash, Hash(v), "variant %d should change the hash", i)
	}
}

func TestHashInsensitiveToMapPermutation(t *testing.T) {
	entries := map[string]uint64{}
	keys := []string{"zeta", "alpha", "mu", "beta"}
	for i, k := range keys {
		entries[k] = uint64(i)
	}
	h1 := SortedMapHash(entries)

	// Rebuild via a freshly-randomized insertion order (maps already iterate
	// pseudo-randomly in Go, but make the intent explicit).
	shuffled := append([]string(nil), keys...)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	entries2 := map[string]uint64{}
	for _, k := range shuffled {
		for i, kk := range keys {
			if kk == k {
				entries2[k] = uint64(i)
			}
		}
	}
	h2 := SortedMapHash(entries2)
	require.Equal(t, h1, h2)
}

func TestFormatHexWidth(t *testing.T) {
	require.Len(t, FormatHex(0), 16)
	require.Equal(t, "0000000000000000", FormatHex(0))
	require.Len(t, FormatHex(^uint64(0)), 16)
}
