package crypto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ErrSignerNotConfigured is returned by SignTx when the signer holds no key
// material, e.g. because the keystore failed to unlock.
var ErrSignerNotConfigured = errors.New("crypto: signer not configured")

// Signer is the capability exposed by the signer provider: an address and a
// single transaction-signing operation. One process holds exactly one
// signer; there is no ambient global.
type Signer interface {
	Address() common.Address
	SignTx(tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
}

// KeystoreSigner is the v1 signer backend: a single decrypted private key
// held only in memory, loaded once at process start from an Ethereum v3
// keystore file.
type KeystoreSigner struct {
	key     *PrivateKey
	address common.Address
}

// NewKeystoreSigner decrypts the keystore file at path with passphrase and
// holds the resulting key in memory for the lifetime of the process.
func NewKeystoreSigner(path, passphrase string) (*KeystoreSigner, error) {
	key, err := LoadFromKeystore(path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: unlock keystore: %w", err)
	}
	return &KeystoreSigner{key: key, address: key.PubKey().Address()}, nil
}

// Address returns the signer's EVM address.
func (s *KeystoreSigner) Address() common.Address {
	if s == nil {
		return common.Address{}
	}
	return s.address
}

// SignTx signs tx for the given chain ID using EIP-155 replay protection.
func (s *KeystoreSigner) SignTx(tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error) {
	if s == nil || s.key == nil {
		return nil, ErrSignerNotConfigured
	}
	signer := gethtypes.LatestSignerForChainID(chainID)
	return gethtypes.SignTx(tx, signer, s.key.PrivateKey)
}
