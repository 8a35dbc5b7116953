package btree

import (
	"testing"

	"github.com/arkatz-dev/dualkv/common"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeLeafPage(t *testing.T) {
	p := &Page{
		ID:     7,
		Leaf:   true,
		Keys:   [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")},
		Values: [][]byte{[]byte("1"), []byte(""), []byte("333")},
	}

	buf, err := Encode(p, DefaultPageSize)
	require.NoError(t, err)
	require.Len(t, buf, DefaultPageSize)

	got, err := Decode(p.ID, buf)
	require.NoError(t, err)
	require.True(t, got.Leaf)
	require.Equal(t, p.Keys, got.Keys)
	require.Equal(t, p.Values, got.Values)
}

func TestEncodeDecodeInternalPage(t *testing.T) {
	p := &Page{
		ID:       3,
		Leaf:     false,
		Keys:     [][]byte{[]byte("m"), []byte("t")},
		Children: []uint32{10, 20, 30},
	}

	buf, err := Encode(p, DefaultPageSize)
	require.NoError(t, err)

	got, err := Decode(p.ID, buf)
	require.NoError(t, err)
	require.False(t, got.Leaf)
	require.Equal(t, p.Keys, got.Keys)
	require.Equal(t, p.Children, got.Children)
}

func TestEncodeEmptyLeafPage(t *testing.T) {
	p := NewLeafPage(0)
	buf, err := Encode(p, DefaultPageSize)
	require.NoError(t, err)

	got, err := Decode(p.ID, buf)
	require.NoError(t, err)
	require.True(t, got.Leaf)
	require.Empty(t, got.Keys)
}

func TestEncodeOverflowErrors(t *testing.T) {
	p := NewLeafPage(0)
	p.Keys = append(p.Keys, make([]byte, 2000))
	p.Values = append(p.Values, make([]byte, 2000))

	_, err := Encode(p, 512)
	require.ErrorIs(t, err, ErrPageOverflow)
}

func TestDecodeBadMagicIsCorruption(t *testing.T) {
	buf := make([]byte, DefaultPageSize)
	_, err := Decode(0, buf)
	require.Error(t, err)
	var corrupt *common.CorruptionError
	require.ErrorAs(t, err, &corrupt)
}

func TestSearchKeys(t *testing.T) {
	keys := [][]byte{[]byte("b"), []byte("d"), []byte("f")}

	idx, exact := searchKeys(keys, []byte("d"))
	require.True(t, exact)
	require.Equal(t, 1, idx)

	idx, exact = searchKeys(keys, []byte("a"))
	require.False(t, exact)
	require.Equal(t, 0, idx)

	idx, exact = searchKeys(keys, []byte("c"))
	require.False(t, exact)
	require.Equal(t, 1, idx)

	idx, exact = searchKeys(keys, []byte("z"))
	require.False(t, exact)
	require.Equal(t, 3, idx)
}

// TestLeafPageRoundTripProperty checks that any sorted, deduplicated,
// non-empty key/value set survives an Encode/Decode cycle intact.
func TestLeafPageRoundTripProperty(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("leaf page encode/decode round-trips", prop.ForAll(
		func(keys []string, values []string) bool {
			n := len(keys)
			if len(values) < n {
				n = len(values)
			}
			seen := make(map[string]bool, n)
			var ks, vs [][]byte
			for i := 0; i < n; i++ {
				if keys[i] == "" || seen[keys[i]] {
					continue
				}
				seen[keys[i]] = true
				ks = append(ks, []byte(keys[i]))
				vs = append(vs, []byte(values[i]))
			}
			// keep them in ascending key order, matching engine invariants
			for i := 1; i < len(ks); i++ {
				for j := i; j > 0 && string(ks[j]) < string(ks[j-1]); j-- {
					ks[j], ks[j-1] = ks[j-1], ks[j]
					vs[j], vs[j-1] = vs[j-1], vs[j]
				}
			}

			p := &Page{ID: 1, Leaf: true, Keys: ks, Values: vs}
			buf, err := Encode(p, 1<<20) // generous size: property targets codec correctness, not overflow
			if err != nil {
				return false
			}
			got, err := Decode(p.ID, buf)
			if err != nil {
				return false
			}
			if len(got.Keys) != len(ks) {
				return false
			}
			for i := range ks {
				if string(got.Keys[i]) != string(ks[i]) || string(got.Values[i]) != string(vs[i]) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(6, gen.AlphaString()),
		gen.SliceOfN(6, gen.AlphaString()),
	))

	properties.TestingRun(t)
}
