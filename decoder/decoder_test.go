package decoder

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"govagent/proposal"
)

var dappRegistry = common.HexToAddress("0x2222222222222222222222222222222222222222")

func encodePublishDapp(t *testing.T, rootCID []byte, name, version, description string) []byte {
	t.Helper()
	method := parsedRegistryABI.Methods["publishDapp"]
	packed, err := method.Inputs.Pack(rootCID, name, version, description)
	require.NoError(t, err)
	return append(append([]byte{}, selectorPublishDapp[:]...), packed...)
}

func encodeUpgradeDapp(t *testing.T, dappID *big.Int, rootCID []byte, name, version, description string) []byte {
	t.Helper()
	method := parsedRegistryABI.Methods["upgradeDapp"]
	packed, err := method.Inputs.Pack(dappID, rootCID, name, version, description)
	require.NoError(t, err)
	return append(append([]byte{}, selectorUpgradeDapp[:]...), packed...)
}

// Scenario 1: publishDapp happy path with a UTF-8 CID-shaped root_cid.
func TestDecode_PublishDappHappyPath(t *testing.T) {
	calldata := encodePublishDapp(t, []byte("bafybeigdyrztm3xample"), "demo-dapp", "1.0.0", "a demo dapp")

	action := Decode([]common.Address{dappRegistry}, [][]byte{calldata}, dappRegistry)

	require.Equal(t, proposal.ActionPublishDapp, action.Kind)
	require.NotNil(t, action.RootCID)
	require.Equal(t, proposal.RootCIDUTF8, action.RootCID.Kind)
	require.Equal(t, "bafybeigdyrztm3xample", action.RootCID.Text)
	require.Equal(t, "demo-dapp", action.Name)
}

// Scenario 2: upgradeDapp with a root_cid that is not UTF-8/CID-shaped falls
// back to the hex representation.
func TestDecode_UpgradeDappHexFallback(t *testing.T) {
	raw := common.FromHex("0x01701220aabbccddeeff00112233445566778899aabbccddeeff001122334455")
	calldata := encodeUpgradeDapp(t, big.NewInt(42), raw, "demo-dapp", "2.0.0", "an upgrade")

	action := Decode([]common.Address{dappRegistry}, [][]byte{calldata}, dappRegistry)

	require.Equal(t, proposal.ActionUpgradeDapp, action.Kind)
	require.NotNil(t, action.DappID)
	require.Equal(t, int64(42), action.DappID.Int64())
	require.NotNil(t, action.RootCID)
	require.Equal(t, proposal.RootCIDHex, action.RootCID.Kind)
	require.Equal(t, "0x"+common.Bytes2Hex(raw), action.RootCID.Hex)
}

// Scenario 3: a proposal with more than one target is never matched against
// the registry and is reported as an unsupported multi_target action.
func TestDecode_MultiTargetAbstains(t *testing.T) {
	calldata := encodePublishDapp(t, []byte("bafybeigdyrztm3xample"), "demo-dapp", "1.0.0", "a demo dapp")

	action := Decode(
		[]common.Address{dappRegistry, dappRegistry},
		[][]byte{calldata, calldata},
		dappRegistry,
	)

	require.Equal(t, proposal.ActionUnsupported, action.Kind)
	require.Equal(t, "multi_target", action.Reason)
}

func TestDecode_UnknownTarget(t *testing.T) {
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	calldata := encodePublishDapp(t, []byte("bafybeigdyrztm3xample"), "demo-dapp", "1.0.0", "a demo dapp")

	action := Decode([]common.Address{other}, [][]byte{calldata}, dappRegistry)

	require.Equal(t, proposal.ActionUnsupported, action.Kind)
	require.Equal(t, "unknown_target", action.Reason)
}

func TestDecode_UnknownSelector(t *testing.T) {
	fakeABI, err := abi.JSON(strings.NewReader(`[{"name":"noop","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]}]`))
	require.NoError(t, err)
	packed, err := fakeABI.Pack("noop")
	require.NoError(t, err)

	action := Decode([]common.Address{dappRegistry}, [][]byte{packed}, dappRegistry)

	require.Equal(t, proposal.ActionUnsupported, action.Kind)
	require.Equal(t, "unknown_selector", action.Reason)
}
