package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"govagent/proposal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCursorRoundTripAndMonotonic(t *testing.T) {
	store := openTestStore(t)

	cursor, err := store.LoadCursor()
	require.NoError(t, err)
	require.Equal(t, uint64(0), cursor.LastScannedBlock)

	require.NoError(t, store.SaveCursor(Cursor{LastScannedBlock: 100}))
	cursor, err = store.LoadCursor()
	require.NoError(t, err)
	require.Equal(t, uint64(100), cursor.LastScannedBlock)

	err = store.SaveCursor(Cursor{LastScannedBlock: 50})
	require.Error(t, err)

	require.NoError(t, store.SaveCursor(Cursor{LastScannedBlock: 150}))
}

func TestProposalRoundTripAndForwardOnly(t *testing.T) {
	store := openTestStore(t)
	id := proposal.IDFromUint64(1)
	now := time.Now().UTC()

	record := proposal.NewRecord(id, 10, "0xblockhash", "0xtxhash", "0xproposer", []string{"0xtarget"}, []string{"0"}, []string{"0x"}, "desc", 1, 100, now)
	require.NoError(t, store.SaveProposal(record))

	loaded, err := store.LoadProposal(id)
	require.NoError(t, err)
	require.Equal(t, proposal.StatusDiscovered, loaded.Status)

	loaded.Status = proposal.StatusDecoded
	require.NoError(t, store.SaveProposal(loaded))

	regressed, err := store.LoadProposal(id)
	require.NoError(t, err)
	regressed.Status = proposal.StatusDiscovered
	err = store.SaveProposal(regressed)
	require.Error(t, err)
}

func TestSaveReorgDemotionBypassesForwardCheck(t *testing.T) {
	store := openTestStore(t)
	id := proposal.IDFromUint64(2)
	now := time.Now().UTC()

	record := proposal.NewRecord(id, 10, "0xblockhash", "0xtxhash", "0xproposer", nil, nil, nil, "desc", 1, 100, now)
	record.Status = proposal.StatusDecoded
	require.NoError(t, store.SaveProposal(record))

	demoted, err := store.LoadProposal(id)
	require.NoError(t, err)
	demoted.Status = proposal.StatusDiscovered
	demoted.BlockHash = "0xnewhash"
	require.NoError(t, store.SaveReorgDemotion(demoted))

	reloaded, err := store.LoadProposal(id)
	require.NoError(t, err)
	require.Equal(t, proposal.StatusDiscovered, reloaded.Status)
	require.Equal(t, "0xnewhash", reloaded.BlockHash)
}

func TestIsTerminal(t *testing.T) {
	store := openTestStore(t)
	id := proposal.IDFromUint64(2)

	terminal, err := store.IsTerminal(id)
	require.NoError(t, err)
	require.False(t, terminal)

	record := proposal.NewRecord(id, 10, "0xblockhash", "0xtxhash", "0xproposer", nil, nil, nil, "desc", 1, 100, time.Now().UTC())
	record.Status = proposal.StatusSkipped
	require.NoError(t, store.SaveProposal(record))

	terminal, err = store.IsTerminal(id)
	require.NoError(t, err)
	require.True(t, terminal)
}

func TestSeenPromptHashDedup(t *testing.T) {
	store := openTestStore(t)
	id := proposal.IDFromUint64(3)

	seen, err := store.SeenPromptHash(id, "hash-a")
	require.NoError(t, err)
	require.False(t, seen)

	seen, err = store.SeenPromptHash(id, "hash-a")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = store.SeenPromptHash(id, "hash-b")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestCachedHasVoted(t *testing.T) {
	store := openTestStore(t)
	id := proposal.IDFromUint64(4)

	_, ok, err := store.CachedHasVoted(id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.CacheHasVoted(id, true))
	voted, ok, err := store.CachedHasVoted(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, voted)
}
