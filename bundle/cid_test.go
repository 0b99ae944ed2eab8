package bundle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"govagent/proposal"
)

func TestResolveCID_UTF8(t *testing.T) {
	root := &proposal.RootCID{Kind: proposal.RootCIDUTF8, Text: "bafybeigdyrztm3xample"}
	resolved, ok := ResolveCID(root)
	require.True(t, ok)
	require.Equal(t, "bafybeigdyrztm3xample", resolved)
}

func TestResolveCID_HexReconstructsCIDv1(t *testing.T) {
	// version=1, codec=0x70 (dag-pb), multihash sha2-256 (0x12), len=32, 32-byte digest.
	digest := make([]byte, 32)
	for i := range digest {
		digest[i] = byte(i)
	}
	raw := append([]byte{0x01, 0x70, 0x12, 0x20}, digest...)
	root := &proposal.RootCID{Kind: proposal.RootCIDHex, Hex: "0x" + hexString(raw)}

	resolved, ok := ResolveCID(root)
	require.True(t, ok)
	require.True(t, len(resolved) > 1 && resolved[0] == 'b')
}

func TestResolveCID_HexUnresolvable(t *testing.T) {
	root := &proposal.RootCID{Kind: proposal.RootCIDHex, Hex: "0xdeadbeef"}
	_, ok := ResolveCID(root)
	require.False(t, ok)
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = digits[v>>4]
		out[i*2+1] = digits[v&0x0f]
	}
	return string(out)
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	_, err := safeJoin("/tmp/bundle-root", "../../etc/passwd")
	require.Error(t, err)

	_, err = safeJoin("/tmp/bundle-root", "subdir/file.txt")
	require.NoError(t, err)
}
