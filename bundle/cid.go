package bundle

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"govagent/proposal"
)

var base32Lower = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// ResolveCID turns a decoded RootCID into the string form used in gateway
// URLs. Utf8 variants are used as-is. Hex variants are the Open Question
// resolution recorded in DESIGN.md: attempt to reconstruct a CIDv1
// multibase string from the raw bytes (version + codec varint + multihash),
// and report ok=false if the bytes don't parse as that structure, so the
// caller can emit a root_cid_unresolvable blocking finding instead of
// issuing a gateway request against garbage input.
func ResolveCID(root *proposal.RootCID) (string, bool) {
	if root == nil {
		return "", false
	}
	switch root.Kind {
	case proposal.RootCIDUTF8:
		return root.Text, root.Text != ""
	case proposal.RootCIDHex:
		raw, err := hexToBytes(root.Hex)
		if err != nil {
			return "", false
		}
		return cidv1FromBytes(raw)
	default:
		return "", false
	}
}

func hexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// cidv1FromBytes performs the light structural validation named in the
// Open Question resolution: version byte == 1, a codec varint, and a
// multihash (code varint + length varint + digest of that length). On
// success it base32-encodes the raw bytes with the "b" multibase prefix,
// which is the standard CIDv1 default string representation.
func cidv1FromBytes(raw []byte) (string, bool) {
	if len(raw) < 3 || raw[0] != 0x01 {
		return "", false
	}
	rest := raw[1:]
	_, n := binary.Uvarint(rest)
	if n <= 0 {
		return "", false
	}
	rest = rest[n:]
	_, n2 := binary.Uvarint(rest)
	if n2 <= 0 {
		return "", false
	}
	rest = rest[n2:]
	length, n3 := binary.Uvarint(rest)
	if n3 <= 0 {
		return "", false
	}
	digest := rest[n3:]
	if uint64(len(digest)) != length {
		return "", false
	}
	return "b" + base32Lower.EncodeToString(raw), true
}
