package vote

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"govagent/chain"
	"govagent/decision"
	"govagent/proposal"
	"govagent/storage"
)

type fakeAdapter struct {
	governor      common.Address
	state         chain.ProposalState
	hasVoted      bool
	hasVotedCalls int
	currentBlk    uint64
	gasPrice      *big.Int
	priorityFee   *big.Int
	chainID       *big.Int
	nonce         uint64
	sentTxHash    common.Hash
	receipt       *chain.Receipt
	sendErr       error
}

func (f *fakeAdapter) GovernorAddress() common.Address { return f.governor }
func (f *fakeAdapter) CurrentBlock(ctx context.Context) (uint64, error) { return f.currentBlk, nil }
func (f *fakeAdapter) PollLogs(ctx context.Context, from, to uint64) ([]chain.ProposalCreatedLog, error) {
	return nil, nil
}
func (f *fakeAdapter) GetState(ctx context.Context, proposalID *big.Int) (chain.ProposalState, error) {
	return f.state, nil
}
func (f *fakeAdapter) HasVoted(ctx context.Context, proposalID *big.Int, voter common.Address) (bool, error) {
	f.hasVotedCalls++
	return f.hasVoted, nil
}
func (f *fakeAdapter) VoteDeadline(ctx context.Context, proposalID *big.Int) (uint64, error) {
	return 0, nil
}
func (f *fakeAdapter) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	return common.Hash{}, nil
}
func (f *fakeAdapter) SendRawTx(ctx context.Context, tx *gethtypes.Transaction) (common.Hash, error) {
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	return f.sentTxHash, nil
}
func (f *fakeAdapter) WaitReceipt(ctx context.Context, txHash common.Hash, timeout time.Duration) (*chain.Receipt, error) {
	return f.receipt, nil
}
func (f *fakeAdapter) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }
func (f *fakeAdapter) SuggestGasPrice(ctx context.Context) (*big.Int, error) { return f.gasPrice, nil }
func (f *fakeAdapter) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return f.priorityFee, nil
}
func (f *fakeAdapter) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}
func (f *fakeAdapter) Close() {}

var _ chain.Adapter = (*fakeAdapter)(nil)

type fakeSigner struct {
	addr common.Address
}

func (s fakeSigner) Address() common.Address { return s.addr }
func (s fakeSigner) SignTx(tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error) {
	return tx, nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func baseRecord(t *testing.T) *proposal.Record {
	id, err := proposal.IDFromDecimal("42")
	require.NoError(t, err)
	return proposal.NewRecord(id, 100, "0xblockhash", "0xtxhash", "0xproposer",
		[]string{"0xtarget"}, []string{"0"}, []string{"0x"}, "desc", 90, 1000, time.Now())
}

func TestExecute_AutoVoteDisabledSkipsDryRun(t *testing.T) {
	record := baseRecord(t)
	record.Decision = &proposal.DecisionRecord{RecommendedVote: decision.VoteFor}
	record.Status = proposal.StatusDecided

	executor := &Executor{
		Adapter: &fakeAdapter{},
		Signer:  fakeSigner{},
		Store:   newTestStore(t),
		Config:  DefaultConfig(),
	}

	result, err := executor.Execute(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, result.Outcome)
	require.Equal(t, "auto_vote_disabled", result.Reason)
	require.Nil(t, record.VoteTx)
	require.Equal(t, proposal.StatusSkipped, record.Status)
}

func TestExecute_AlreadyVotedIsIdempotent(t *testing.T) {
	record := baseRecord(t)
	record.Decision = &proposal.DecisionRecord{RecommendedVote: decision.VoteFor}
	record.Status = proposal.StatusDecided
	record.VoteTx = &proposal.VoteTx{Hash: "0xalreadysubmitted", Support: 1}

	adapter := &fakeAdapter{hasVoted: true}
	cfg := DefaultConfig()
	cfg.AutoVote = true

	executor := &Executor{
		Adapter: adapter,
		Signer:  fakeSigner{},
		Store:   newTestStore(t),
		Config:  cfg,
	}

	result, err := executor.Execute(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, OutcomeVoted, result.Outcome)
	require.Equal(t, proposal.StatusVoted, record.Status)
	require.Equal(t, "0xalreadysubmitted", record.VoteTx.Hash)
}

func TestExecute_SubmitsVoteWhenAllPreflightChecksPass(t *testing.T) {
	record := baseRecord(t)
	record.VoteEnd = 1000
	record.Decision = &proposal.DecisionRecord{RecommendedVote: decision.VoteFor}
	record.Status = proposal.StatusDecided

	adapter := &fakeAdapter{
		state:       chain.StateActive,
		hasVoted:    false,
		currentBlk:  500,
		gasPrice:    big.NewInt(10_000_000_000),
		priorityFee: big.NewInt(1_000_000_000),
		chainID:     big.NewInt(1),
		nonce:       7,
		sentTxHash:  common.HexToHash("0xabc"),
		receipt:     &chain.Receipt{Status: 1, BlockNumber: 501},
	}
	cfg := DefaultConfig()
	cfg.AutoVote = true
	cfg.MaxGasPriceGwei = 50
	cfg.MaxPriorityFeeGwei = 5

	executor := &Executor{
		Adapter: adapter,
		Signer:  fakeSigner{addr: common.HexToAddress("0xsigner")},
		Store:   newTestStore(t),
		Config:  cfg,
	}

	result, err := executor.Execute(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, OutcomeVoted, result.Outcome)
	require.Equal(t, proposal.StatusVoted, record.Status)
	require.NotNil(t, record.VoteTx)
	require.Equal(t, "success", record.VoteTx.ReceiptStatus)
	require.NotNil(t, record.VoteTx.MinedAt)
}

func TestExecute_InsufficientVoteBlocksRemainingSkips(t *testing.T) {
	record := baseRecord(t)
	record.VoteEnd = 510
	record.Decision = &proposal.DecisionRecord{RecommendedVote: decision.VoteFor}
	record.Status = proposal.StatusDecided

	adapter := &fakeAdapter{state: chain.StateActive, currentBlk: 500}
	cfg := DefaultConfig()
	cfg.AutoVote = true

	executor := &Executor{
		Adapter: adapter,
		Signer:  fakeSigner{},
		Store:   newTestStore(t),
		Config:  cfg,
	}

	result, err := executor.Execute(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, result.Outcome)
	require.Equal(t, "insufficient_vote_blocks_remaining", result.Reason)
}

func TestExecute_AlreadyVotedOnChainWithoutPriorVoteTxGetsSentinel(t *testing.T) {
	record := baseRecord(t)
	record.Decision = &proposal.DecisionRecord{RecommendedVote: decision.VoteFor}
	record.Status = proposal.StatusDecided

	adapter := &fakeAdapter{state: chain.StateActive, hasVoted: true}
	cfg := DefaultConfig()
	cfg.AutoVote = true

	executor := &Executor{
		Adapter: adapter,
		Signer:  fakeSigner{},
		Store:   newTestStore(t),
		Config:  cfg,
	}

	result, err := executor.Execute(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, OutcomeVoted, result.Outcome)
	require.Equal(t, proposal.StatusVoted, record.Status)
	require.NotNil(t, record.VoteTx)
	require.Equal(t, externalVoteTxHash, record.VoteTx.Hash)
	require.Equal(t, uint8(chain.SupportFor), record.VoteTx.Support)
}

func TestExecute_CachedHasVotedSkipsRepeatChainQuery(t *testing.T) {
	record := baseRecord(t)
	record.Decision = &proposal.DecisionRecord{RecommendedVote: decision.VoteFor}
	record.Status = proposal.StatusDecided

	adapter := &fakeAdapter{state: chain.StateActive, hasVoted: true}
	cfg := DefaultConfig()
	cfg.AutoVote = true
	store := newTestStore(t)

	executor := &Executor{
		Adapter: adapter,
		Signer:  fakeSigner{},
		Store:   store,
		Config:  cfg,
	}

	_, err := executor.Execute(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.hasVotedCalls)

	second := baseRecord(t)
	second.Decision = &proposal.DecisionRecord{RecommendedVote: decision.VoteFor}
	second.Status = proposal.StatusDecided

	_, err = executor.Execute(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, 1, adapter.hasVotedCalls, "second call should be served from the has_voted cache")
}

func TestExecute_AbstainDecisionNeverReachesTxBuilding(t *testing.T) {
	record := baseRecord(t)
	record.Decision = &proposal.DecisionRecord{RecommendedVote: decision.VoteAbstain}
	record.Status = proposal.StatusDecided

	adapter := &fakeAdapter{}
	cfg := DefaultConfig()
	cfg.AutoVote = true

	executor := &Executor{
		Adapter: adapter,
		Signer:  fakeSigner{},
		Store:   newTestStore(t),
		Config:  cfg,
	}

	result, err := executor.Execute(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, result.Outcome)
	require.Equal(t, "decision_not_actionable", result.Reason)
	require.Nil(t, record.VoteTx)
}
