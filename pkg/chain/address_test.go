package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddressChecksums(t *testing.T) {
	cases := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range cases {
		got, err := NormalizeAddress(want)
		require.NoError(t, err)
		require.Equal(t, want, got)

		lowered, err := NormalizeAddress("0x" + lower(want[2:]))
		require.NoError(t, err)
		require.Equal(t, want, lowered)
	}
}

func TestNormalizeAddressRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeA",
		"0xZZAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	} {
		_, err := NormalizeAddress(in)
		require.Error(t, err, in)
	}
}

func TestNormalizeTxHash(t *testing.T) {
	hash := "0x" + "AB" + "00000000000000000000000000000000000000000000000000000000000000"
	got, err := NormalizeTxHash(hash)
	require.NoError(t, err)
	require.Equal(t, "0xab00000000000000000000000000000000000000000000000000000000000000", got)

	_, err = NormalizeTxHash("0x1234")
	require.Error(t, err)
}

func TestSameAddress(t *testing.T) {
	require.True(t, SameAddress("0xABCDEF", " 0xabcdef"))
	require.False(t, SameAddress("0xabc", "0xabd"))
}

func lower(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + ('a' - 'A')
		}
	}
	return string(out)
}
