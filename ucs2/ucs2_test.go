package ucs2_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kosfs/kosfs/fserr"
	"github.com/kosfs/kosfs/ucs2"
)

func TestRoundTripBMP(t *testing.T) {
	units, err := ucs2.ToUCS2("héllo wörld")
	require.NoError(t, err)
	require.Equal(t, "héllo wörld", ucs2.FromUCS2(units))
}

func TestRejectsFourByteUTF8(t *testing.T) {
	_, err := ucs2.ToUCS2("x\U0001F600y") // grinning face emoji, 4-byte UTF-8.
	require.ErrorIs(t, err, fserr.IllegalByteSequence)
}

func TestToLowerASCII(t *testing.T) {
	units, err := ucs2.ToUCS2("MiXeD")
	require.NoError(t, err)
	units = ucs2.ToLowerUnits(units)
	require.Equal(t, "mixed", ucs2.FromUCS2(units))
}

func TestSplitParent(t *testing.T) {
	cases := []struct{ path, parent, base string }{
		{"/a/b/c", "/a/b", "c"},
		{"/a", "", "a"},
		{"/", "", ""},
		{"/a/", "", "a"},
	}
	for _, c := range cases {
		parent, base := ucs2.SplitParent(c.path)
		require.Equal(t, c.parent, parent, c.path)
		require.Equal(t, c.base, base, c.path)
	}
}

func TestSplitComponents(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, ucs2.SplitComponents("/a//b/c/"))
}
