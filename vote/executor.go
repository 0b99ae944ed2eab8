// Package vote implements the Vote Executor: the preflight checklist and
// castVoteWithReason submission path from spec section 4.7.
package vote

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"govagent/agent/errkind"
	"govagent/chain"
	"govagent/crypto"
	"govagent/decision"
	"govagent/proposal"
	"govagent/storage"
)

// Config holds the operator-tunable preflight limits from spec section 4.7
// and the CLI/environment surface in spec section 6.
type Config struct {
	AutoVote               bool
	MinVoteBlocksRemaining uint64
	MaxGasPriceGwei        uint64
	MaxPriorityFeeGwei     uint64
	GasLimit               uint64
	ReceiptTimeout         time.Duration
}

// DefaultConfig returns min_vote_blocks_remaining = 30, a gas limit of
// 300000 and a two-minute receipt timeout. The gas-price and priority-fee
// ceilings stay 0 (no ceiling check) and are set by the caller from
// configuration.
func DefaultConfig() Config {
	return Config{
		MinVoteBlocksRemaining: 30,
		GasLimit:               300_000,
		ReceiptTimeout:         2 * time.Minute,
	}
}

// externalVoteTxHash marks a VoteTx observed as already-cast on-chain by
// some other path (a prior executor instance, a manual vote) rather than
// submitted through submit. It satisfies the "vote_tx non-null once voted"
// invariant without fabricating a transaction that never existed.
const externalVoteTxHash = "external"

// Outcome tags what the executor did with a proposal this tick.
type Outcome string

const (
	OutcomeVoted   Outcome = "voted"
	OutcomeSkipped Outcome = "skipped"
	OutcomeNoop    Outcome = "noop"
	OutcomeFailed  Outcome = "failed"
)

// Result reports what happened and why, so the caller (agent scheduler) can
// drive Notifier alerts without re-deriving the reason.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Executor runs the full preflight checklist and, on pass, builds, signs,
// sends, and confirms a castVoteWithReason transaction.
type Executor struct {
	Adapter chain.Adapter
	Signer  crypto.Signer
	Store   *storage.Store
	Config  Config
	Now     func() time.Time
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Execute drives one proposal through the Vote Executor's preflight and
// submission path, per spec section 4.7. record is mutated and persisted
// in place; the returned Result describes the outcome for the caller.
func (e *Executor) Execute(ctx context.Context, record *proposal.Record) (Result, error) {
	if record.Decision == nil {
		return Result{Outcome: OutcomeNoop, Reason: "no_decision"}, nil
	}

	if record.VoteTx != nil && record.VoteTx.Hash != "" {
		return e.reconcileIdempotent(ctx, record)
	}

	if !e.Config.AutoVote {
		return e.skip(record, "auto_vote_disabled")
	}
	if e.Signer == nil {
		return Result{}, errkind.New(errkind.SignerError, fmt.Errorf("vote: signer not configured"))
	}
	if record.Decision.RequiresHumanOverride || (record.Decision.RecommendedVote != decision.VoteFor && record.Decision.RecommendedVote != decision.VoteAgainst) {
		return e.skip(record, "decision_not_actionable")
	}

	proposalIDBig := record.ProposalID.Uint256().ToBig()

	state, err := e.Adapter.GetState(ctx, proposalIDBig)
	if err != nil {
		return Result{}, errkind.New(errkind.ChainError, err)
	}
	if state != chain.StateActive {
		return e.skip(record, fmt.Sprintf("proposal_state_%s", state))
	}

	voter := e.Signer.Address()
	hasVoted, err := e.hasVoted(ctx, record.ProposalID, proposalIDBig, voter)
	if err != nil {
		return Result{}, errkind.New(errkind.ChainError, err)
	}
	if hasVoted {
		e.markVotedExternally(record)
		if saveErr := e.Store.SaveProposal(record); saveErr != nil {
			return Result{}, saveErr
		}
		return Result{Outcome: OutcomeVoted, Reason: "already_voted_onchain"}, nil
	}

	currentBlock, err := e.Adapter.CurrentBlock(ctx)
	if err != nil {
		return Result{}, errkind.New(errkind.ChainError, err)
	}
	if record.VoteEnd <= currentBlock || record.VoteEnd-currentBlock < e.Config.MinVoteBlocksRemaining {
		return e.skip(record, "insufficient_vote_blocks_remaining")
	}

	gasPrice, err := e.Adapter.SuggestGasPrice(ctx)
	if err != nil {
		return Result{}, errkind.New(errkind.ChainError, err)
	}
	priorityFee, err := e.Adapter.SuggestGasTipCap(ctx)
	if err != nil {
		return Result{}, errkind.New(errkind.ChainError, err)
	}
	if exceedsGweiCeiling(gasPrice, e.Config.MaxGasPriceGwei) {
		return e.skip(record, "gas_price_ceiling_exceeded")
	}
	if exceedsGweiCeiling(priorityFee, e.Config.MaxPriorityFeeGwei) {
		return e.skip(record, "priority_fee_ceiling_exceeded")
	}

	support := chain.SupportFor
	if record.Decision.RecommendedVote == decision.VoteAgainst {
		support = chain.SupportAgainst
	}
	reason := firstReason(record.Decision.Reasons)

	txHash, err := e.submit(ctx, record, proposalIDBig, support, reason, gasPrice, priorityFee)
	if err != nil {
		return Result{}, err
	}

	receipt, waitErr := e.Adapter.WaitReceipt(ctx, txHash, e.Config.ReceiptTimeout)
	if waitErr != nil {
		// The tx hash is already persisted; a subsequent tick resumes via
		// reconcileIdempotent rather than resubmitting.
		return Result{Outcome: OutcomeFailed, Reason: "receipt_wait_failed"}, errkind.New(errkind.ChainError, waitErr)
	}

	record.VoteTx.ReceiptStatus = receiptStatusString(receipt.Status)
	minedAt := e.now()
	record.VoteTx.MinedAt = &minedAt
	record.Status = proposal.StatusVoted
	record.UpdatedAt = e.now()
	if err := e.Store.SaveProposal(record); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeVoted, Reason: "submitted"}, nil
}

// submit builds, signs, sends, and persists the vote_tx hash BEFORE
// awaiting a receipt, per spec section 4.7.
func (e *Executor) submit(ctx context.Context, record *proposal.Record, proposalID *big.Int, support chain.Support, reason string, gasPrice, priorityFee *big.Int) (common.Hash, error) {
	calldata, err := chain.PackCastVoteWithReason(proposalID, support, reason)
	if err != nil {
		return common.Hash{}, errkind.New(errkind.SignerError, fmt.Errorf("vote: pack calldata: %w", err))
	}

	chainID, err := e.Adapter.ChainID(ctx)
	if err != nil {
		return common.Hash{}, errkind.New(errkind.ChainError, err)
	}
	nonce, err := e.Adapter.PendingNonceAt(ctx, e.Signer.Address())
	if err != nil {
		return common.Hash{}, errkind.New(errkind.ChainError, err)
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: priorityFee,
		GasFeeCap: gasPrice,
		Gas:       e.Config.GasLimit,
		To:        addrPtr(e.Adapter.GovernorAddress()),
		Data:      calldata,
	})

	signed, err := e.Signer.SignTx(tx, chainID)
	if err != nil {
		return common.Hash{}, errkind.New(errkind.SignerError, err)
	}

	txHash, err := e.Adapter.SendRawTx(ctx, signed)
	if err != nil {
		return common.Hash{}, errkind.New(errkind.ChainError, err)
	}

	record.VoteTx = &proposal.VoteTx{
		Hash:        txHash.Hex(),
		Support:     uint8(support),
		Reason:      reason,
		SubmittedAt: e.now(),
	}
	record.UpdatedAt = e.now()
	if err := e.Store.SaveProposal(record); err != nil {
		return common.Hash{}, err
	}
	return txHash, nil
}

// reconcileIdempotent handles a proposal that already carries a persisted
// vote_tx.hash: it re-checks has_voted and, if true, marks the proposal
// voted without resubmitting, per spec section 4.7's idempotency rule.
func (e *Executor) reconcileIdempotent(ctx context.Context, record *proposal.Record) (Result, error) {
	if record.Status == proposal.StatusVoted {
		return Result{Outcome: OutcomeNoop, Reason: "already_voted"}, nil
	}
	if e.Signer == nil {
		return Result{Outcome: OutcomeNoop, Reason: "signer_unavailable_for_reconcile"}, nil
	}
	proposalIDBig := record.ProposalID.Uint256().ToBig()
	hasVoted, err := e.hasVoted(ctx, record.ProposalID, proposalIDBig, e.Signer.Address())
	if err != nil {
		return Result{}, errkind.New(errkind.ChainError, err)
	}
	if !hasVoted {
		return Result{Outcome: OutcomeNoop, Reason: "vote_tx_pending"}, nil
	}
	// record.VoteTx is always non-nil here: Execute only routes to
	// reconcileIdempotent when VoteTx.Hash is already set.
	record.Status = proposal.StatusVoted
	record.UpdatedAt = e.now()
	if err := e.Store.SaveProposal(record); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeVoted, Reason: "already_voted_onchain"}, nil
}

// hasVoted answers has_voted for id, consulting the Store's cache before
// falling back to a chain query. A cached true is trusted permanently —
// has_voted is monotonic, a proposal never un-votes — but a cached false
// (or no cache entry) always falls through to a live RPC, since voting can
// happen between ticks. A confirmed true is written back to the cache so
// later ticks (including reconcileIdempotent) skip the RPC entirely.
func (e *Executor) hasVoted(ctx context.Context, id proposal.ID, proposalIDBig *big.Int, voter common.Address) (bool, error) {
	if cached, ok, err := e.Store.CachedHasVoted(id); err == nil && ok && cached {
		return true, nil
	}
	voted, err := e.Adapter.HasVoted(ctx, proposalIDBig, voter)
	if err != nil {
		return false, err
	}
	if voted {
		_ = e.Store.CacheHasVoted(id, true)
	}
	return voted, nil
}

// markVotedExternally transitions record to voted with a sentinel VoteTx,
// for the case has_voted is true but this executor never submitted or
// persisted a transaction for it.
func (e *Executor) markVotedExternally(record *proposal.Record) {
	if record.VoteTx == nil {
		support := chain.SupportAbstain
		switch record.Decision.RecommendedVote {
		case decision.VoteFor:
			support = chain.SupportFor
		case decision.VoteAgainst:
			support = chain.SupportAgainst
		}
		record.VoteTx = &proposal.VoteTx{
			Hash:          externalVoteTxHash,
			Support:       uint8(support),
			Reason:        "observed already voted on-chain; not submitted by this executor",
			SubmittedAt:   e.now(),
			ReceiptStatus: "success",
		}
	}
	record.Status = proposal.StatusVoted
	record.UpdatedAt = e.now()
}

func (e *Executor) skip(record *proposal.Record, reason string) (Result, error) {
	record.Status = proposal.StatusSkipped
	record.FailureKind = string(errkind.PreflightError)
	record.FailureNote = reason
	record.UpdatedAt = e.now()
	if err := e.Store.SaveProposal(record); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeSkipped, Reason: reason}, nil
}

func exceedsGweiCeiling(amountWei *big.Int, ceilingGwei uint64) bool {
	if ceilingGwei == 0 || amountWei == nil {
		return false
	}
	ceilingWei := new(big.Int).Mul(big.NewInt(int64(ceilingGwei)), big.NewInt(1_000_000_000))
	return amountWei.Cmp(ceilingWei) > 0
}

func firstReason(reasons []string) string {
	if len(reasons) == 0 {
		return ""
	}
	return reasons[0]
}

func receiptStatusString(status uint64) string {
	if status == 1 {
		return "success"
	}
	return "failed"
}

func addrPtr(a common.Address) *common.Address {
	return &a
}
