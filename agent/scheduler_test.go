package agent

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"govagent/chain"
	"govagent/decision"
	"govagent/proposal"
	"govagent/storage"
)

func newTestScheduler(t *testing.T, adapter *fakeAdapter) *Scheduler {
	t.Helper()
	core := newTestCore(t, adapter)
	return &Scheduler{Core: core, Store: core.Store, PollInterval: time.Millisecond, ChunkSize: 100}
}

func TestTick_DiscoversAndAdvancesCursor(t *testing.T) {
	adapter := &fakeAdapter{
		head: 200,
		logs: []chain.ProposalCreatedLog{{
			ProposalID:  big.NewInt(11),
			Proposer:    common.HexToAddress("0xproposer"),
			Targets:     []common.Address{common.HexToAddress("0xnotregistry")},
			Values:      []*big.Int{big.NewInt(0)},
			Calldatas:   [][]byte{{0x00}},
			VoteStart:   1,
			VoteEnd:     100,
			Description: "proposal 11",
			BlockNumber: 50,
			BlockHash:   common.HexToHash("0xblock50"),
			TxHash:      common.HexToHash("0xtx11"),
		}},
	}
	sched := newTestScheduler(t, adapter)

	require.NoError(t, sched.Tick(context.Background()))

	cursor, err := sched.Store.LoadCursor()
	require.NoError(t, err)
	require.Equal(t, adapter.head-sched.Core.SafeConfirmations, cursor.LastScannedBlock)

	ids, err := sched.Store.ListProposalIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	record, err := sched.Store.LoadProposal(ids[0])
	require.NoError(t, err)
	// advanceDiscovered runs within the same tick: an unrecognized target
	// resolves straight to decided/abstain.
	require.Equal(t, proposal.StatusDecided, record.Status)
	require.Equal(t, decision.VoteAbstain, record.Decision.RecommendedVote)
}

func TestTick_IsIdempotentAcrossRepeatedCalls(t *testing.T) {
	adapter := &fakeAdapter{head: 100}
	sched := newTestScheduler(t, adapter)

	require.NoError(t, sched.Tick(context.Background()))
	first, err := sched.Store.LoadCursor()
	require.NoError(t, err)

	require.NoError(t, sched.Tick(context.Background()))
	second, err := sched.Store.LoadCursor()
	require.NoError(t, err)

	require.Equal(t, first.LastScannedBlock, second.LastScannedBlock)
}

func TestRunOnce_ExecutesExactlyOneTick(t *testing.T) {
	adapter := &fakeAdapter{head: 50}
	sched := newTestScheduler(t, adapter)

	require.NoError(t, sched.RunOnce(context.Background()))

	cursor, err := sched.Store.LoadCursor()
	require.NoError(t, err)
	require.Equal(t, adapter.head-sched.Core.SafeConfirmations, cursor.LastScannedBlock)
}

func TestReviewOnce_DrivesKnownProposalToTerminalState(t *testing.T) {
	adapter := &fakeAdapter{}
	sched := newTestScheduler(t, adapter)
	id, err := proposal.IDFromDecimal("21")
	require.NoError(t, err)
	record := proposal.NewRecord(id, 10, "0xb", "0xt", "0xp",
		[]string{"0xnotregistry"}, []string{"0"}, []string{"0x"}, "desc", 1, 100, time.Now())
	require.NoError(t, sched.Store.SaveProposal(record))

	require.NoError(t, sched.ReviewOnce(context.Background(), id))

	reloaded, err := sched.Store.LoadProposal(id)
	require.NoError(t, err)
	require.Equal(t, proposal.StatusSkipped, reloaded.Status)
}

func TestReviewOnce_RejectsUnknownProposal(t *testing.T) {
	sched := newTestScheduler(t, &fakeAdapter{})
	id, err := proposal.IDFromDecimal("999")
	require.NoError(t, err)

	err = sched.ReviewOnce(context.Background(), id)
	require.Error(t, err)
}

func TestBackfill_SkipsAlreadyTerminalRecords(t *testing.T) {
	adapter := &fakeAdapter{head: 300}
	sched := newTestScheduler(t, adapter)
	id, err := proposal.IDFromDecimal("31")
	require.NoError(t, err)
	record := proposal.NewRecord(id, 10, "0xb", "0xt", "0xp", nil, nil, nil, "desc", 1, 100, time.Now())
	record.Status = proposal.StatusSkipped
	record.UpdatedAt = time.Now()
	require.NoError(t, sched.Store.SaveProposal(record))

	require.NoError(t, sched.Backfill(context.Background(), 0))

	reloaded, err := sched.Store.LoadProposal(id)
	require.NoError(t, err)
	require.Equal(t, proposal.StatusSkipped, reloaded.Status)
}

func TestBackfill_ResetsCursorAndRescans(t *testing.T) {
	adapter := &fakeAdapter{
		head: 500,
		logs: []chain.ProposalCreatedLog{{
			ProposalID:  big.NewInt(41),
			Proposer:    common.HexToAddress("0xproposer"),
			Targets:     []common.Address{common.HexToAddress("0xnotregistry")},
			Values:      []*big.Int{big.NewInt(0)},
			Calldatas:   [][]byte{{0x00}},
			VoteStart:   1,
			VoteEnd:     100,
			Description: "proposal 41",
			BlockNumber: 10,
			BlockHash:   common.HexToHash("0xblock10"),
			TxHash:      common.HexToHash("0xtx41"),
		}},
	}
	sched := newTestScheduler(t, adapter)
	require.NoError(t, sched.Store.SaveCursor(storage.Cursor{LastScannedBlock: 400}))

	require.NoError(t, sched.Backfill(context.Background(), 0))

	ids, err := sched.Store.ListProposalIDs()
	require.NoError(t, err)
	require.Len(t, ids, 1)
}
