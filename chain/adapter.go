package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ProposalCreatedLog is the decoded form of one ProposalCreated event,
// spec section 6.
type ProposalCreatedLog struct {
	ProposalID  *big.Int
	Proposer    common.Address
	Targets     []common.Address
	Values      []*big.Int
	Signatures  []string
	Calldatas   [][]byte
	VoteStart   uint64
	VoteEnd     uint64
	Description string

	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
}

// Receipt is the subset of a transaction receipt the vote executor needs.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
}

// Adapter is the Chain Adapter capability from spec section 4.2: fetch logs
// in block ranges, read proposal state, read hasVoted, send a raw signed
// transaction, and await its receipt.
type Adapter interface {
	// GovernorAddress returns the governor contract address transactions are
	// sent to.
	GovernorAddress() common.Address

	// CurrentBlock returns the latest block number known to the node.
	CurrentBlock(ctx context.Context) (uint64, error)

	// PollLogs returns ProposalCreated events in the closed range [from, to].
	PollLogs(ctx context.Context, from, to uint64) ([]ProposalCreatedLog, error)

	// GetState reads the governor's current state for a proposal.
	GetState(ctx context.Context, proposalID *big.Int) (ProposalState, error)

	// HasVoted reports whether voter has already cast a vote on proposalID.
	HasVoted(ctx context.Context, proposalID *big.Int, voter common.Address) (bool, error)

	// VoteDeadline returns the block number at which voting closes.
	VoteDeadline(ctx context.Context, proposalID *big.Int) (uint64, error)

	// BlockHash returns the canonical hash of a mined block, used to detect
	// reorgs against a previously persisted record.
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)

	// SendRawTx broadcasts a signed transaction and returns its hash.
	SendRawTx(ctx context.Context, tx *gethtypes.Transaction) (common.Hash, error)

	// WaitReceipt blocks (bounded by timeout) until the transaction is
	// mined, returning its receipt.
	WaitReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*Receipt, error)

	// ChainID returns the network's chain id, used when signing transactions.
	ChainID(ctx context.Context) (*big.Int, error)

	// SuggestGasPrice and SuggestGasTipCap feed the vote executor's gas
	// preflight check.
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// PendingNonceAt returns the next nonce to use for the signer address.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// Close releases any underlying connection.
	Close()
}
