// Package decoder implements the Proposal Decoder: it matches a proposal's
// single target against the configured DappRegistry address, matches the
// calldata's function selector against the two recognized dapp actions, and
// ABI-decodes the arguments into a typed proposal.DecodedAction.
//
// Decoding is pure and deterministic; spec section 4.3 requires that any
// decode error become an Unsupported variant rather than a propagated
// failure, so Decode returns no error: every exit path yields an action, an
// Unsupported one when decoding fails.
package decoder

import (
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"govagent/proposal"
)

// registryABI is kept inline as a JSON literal to avoid a filesystem
// dependency for two well-known function signatures, the same approach the
// wider corpus uses for small, fixed contract surfaces.
const registryABI = `[
  {
    "name": "publishDapp",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "rootCid", "type": "bytes"},
      {"name": "name", "type": "string"},
      {"name": "version", "type": "string"},
      {"name": "description", "type": "string"}
    ],
    "outputs": []
  },
  {
    "name": "upgradeDapp",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "dappId", "type": "uint256"},
      {"name": "rootCid", "type": "bytes"},
      {"name": "name", "type": "string"},
      {"name": "version", "type": "string"},
      {"name": "description", "type": "string"}
    ],
    "outputs": []
  }
]`

var (
	parsedRegistryABI   abi.ABI
	selectorPublishDapp [4]byte
	selectorUpgradeDapp [4]byte
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(registryABI))
	if err != nil {
		panic(fmt.Sprintf("decoder: parse registry abi: %v", err))
	}
	parsedRegistryABI = parsed
	copy(selectorPublishDapp[:], crypto.Keccak256([]byte("publishDapp(bytes,string,string,string)"))[:4])
	copy(selectorUpgradeDapp[:], crypto.Keccak256([]byte("upgradeDapp(uint256,bytes,string,string,string)"))[:4])
}

// Decode implements the spec section 4.3 algorithm. targets/calldatas are
// the raw proposal arrays as emitted by ProposalCreated; dappRegistry is the
// configured DappRegistry contract address.
func Decode(targets []common.Address, calldatas [][]byte, dappRegistry common.Address) *proposal.DecodedAction {
	if len(targets) != 1 || len(calldatas) != 1 {
		return unsupported("multi_target")
	}
	if targets[0] != dappRegistry {
		return unsupported("unknown_target")
	}

	data := calldatas[0]
	if len(data) < 4 {
		return unsupported("decode_error: calldata shorter than a selector")
	}
	var selector [4]byte
	copy(selector[:], data[:4])

	switch selector {
	case selectorPublishDapp:
		return decodePublishDapp(data[4:])
	case selectorUpgradeDapp:
		return decodeUpgradeDapp(data[4:])
	default:
		return unsupported("unknown_selector")
	}
}

func decodePublishDapp(args []byte) *proposal.DecodedAction {
	method := parsedRegistryABI.Methods["publishDapp"]
	values, err := method.Inputs.Unpack(args)
	if err != nil {
		return unsupported(fmt.Sprintf("decode_error: %v", err))
	}
	rootCidBytes, ok := values[0].([]byte)
	if !ok {
		return unsupported("decode_error: rootCid not bytes")
	}
	name, _ := values[1].(string)
	version, _ := values[2].(string)
	description, _ := values[3].(string)

	return &proposal.DecodedAction{
		Kind:        proposal.ActionPublishDapp,
		RootCID:     classifyRootCID(rootCidBytes),
		Name:        name,
		Version:     version,
		Description: description,
	}
}

func decodeUpgradeDapp(args []byte) *proposal.DecodedAction {
	method := parsedRegistryABI.Methods["upgradeDapp"]
	values, err := method.Inputs.Unpack(args)
	if err != nil {
		return unsupported(fmt.Sprintf("decode_error: %v", err))
	}
	dappID, ok := values[0].(*big.Int)
	if !ok {
		return unsupported("decode_error: dappId not uint256")
	}
	rootCidBytes, ok := values[1].([]byte)
	if !ok {
		return unsupported("decode_error: rootCid not bytes")
	}
	name, _ := values[2].(string)
	version, _ := values[3].(string)
	description, _ := values[4].(string)

	return &proposal.DecodedAction{
		Kind:        proposal.ActionUpgradeDapp,
		DappID:      dappID,
		RootCID:     classifyRootCID(rootCidBytes),
		Name:        name,
		Version:     version,
		Description: description,
	}
}

func unsupported(reason string) *proposal.DecodedAction {
	return &proposal.DecodedAction{Kind: proposal.ActionUnsupported, Reason: reason}
}

// classifyRootCID implements spec section 4.3 step 5 and the Open Question
// resolution recorded in SPEC_FULL.md: attempt a UTF-8 decode, then a light
// syntactic CID-shape check; fall back to the raw hex form otherwise.
func classifyRootCID(raw []byte) *proposal.RootCID {
	if looksLikeUTF8CID(raw) {
		return &proposal.RootCID{Kind: proposal.RootCIDUTF8, Text: string(raw)}
	}
	return &proposal.RootCID{Kind: proposal.RootCIDHex, Hex: "0x" + common.Bytes2Hex(raw)}
}

var cidPrefixes = []string{"Qm", "bafy", "bafk", "bafz", "bafyb"}

// looksLikeUTF8CID is the light syntactic check named as an Open Question in
// spec section 9: valid UTF-8, printable, and starting with one of the
// common CIDv0/CIDv1 multibase prefixes.
func looksLikeUTF8CID(raw []byte) bool {
	if len(raw) == 0 || !utf8.Valid(raw) {
		return false
	}
	s := string(raw)
	hasPrefix := false
	for _, prefix := range cidPrefixes {
		if strings.HasPrefix(s, prefix) {
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
