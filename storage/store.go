// Package storage implements the append-or-overwrite JSON document store
// from spec section 6: a block cursor, one file per proposal, and an audit
// directory tree, all written via temp-file-then-rename for crash safety.
// A secondary bbolt index is layered on top purely for cheap existence
// checks (prompt-hash dedup, a local has_voted cache) that would otherwise
// require re-reading every proposal file on the hot path.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.etcd.io/bbolt"

	"govagent/agent/errkind"
	"govagent/proposal"
)

// Store is the JSON document store rooted at dataDir.
type Store struct {
	root string
	mu   sync.Mutex
	db   *bbolt.DB
}

const (
	bucketDedup    = "prompt_hash_dedup"
	bucketVoted    = "has_voted_cache"
	cursorFileName = "cursor.json"
)

// Cursor is the persisted block-scanning cursor.
type Cursor struct {
	LastScannedBlock uint64 `json:"last_scanned_block"`
}

// Open creates the directory tree under root (if absent) and opens the
// secondary bbolt index at root/index.bbolt.
func Open(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errkind.New(errkind.ConfigError, fmt.Errorf("storage: data_dir required"))
	}
	for _, sub := range []string{"", "proposals", "audit"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, errkind.New(errkind.StorageError, fmt.Errorf("storage: create %s: %w", sub, err))
		}
	}
	db, err := bbolt.Open(filepath.Join(root, "index.bbolt"), 0o600, nil)
	if err != nil {
		return nil, errkind.New(errkind.StorageError, fmt.Errorf("storage: open index: %w", err))
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketDedup)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(bucketVoted))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errkind.New(errkind.StorageError, fmt.Errorf("storage: init index buckets: %w", err))
	}
	return &Store{root: root, db: db}, nil
}

// Root returns the directory this store was opened against, for tooling and
// tests that need to inspect the on-disk layout directly.
func (s *Store) Root() string {
	return s.root
}

// Close releases the secondary index file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// writeAtomic writes data to path via a sibling temp file, fsync, then
// rename, the pattern every write in this package shares.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		cleanup()
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// LoadCursor reads the persisted block cursor, returning a zero cursor if
// none has been written yet.
func (s *Store) LoadCursor() (Cursor, error) {
	path := filepath.Join(s.root, cursorFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, errkind.New(errkind.StorageError, fmt.Errorf("storage: read cursor: %w", err))
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return Cursor{}, errkind.New(errkind.StorageError, fmt.Errorf("storage: parse cursor: %w", err))
	}
	return cursor, nil
}

// SaveCursor persists the block cursor. Callers must ensure
// LastScannedBlock is non-decreasing (spec's cursor invariant); this method
// enforces it defensively against a regression.
func (s *Store) SaveCursor(cursor Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.LoadCursor()
	if err == nil && cursor.LastScannedBlock < existing.LastScannedBlock {
		return errkind.New(errkind.StorageError, fmt.Errorf("storage: cursor regression %d < %d", cursor.LastScannedBlock, existing.LastScannedBlock))
	}
	data, err := json.MarshalIndent(cursor, "", "  ")
	if err != nil {
		return errkind.New(errkind.StorageError, fmt.Errorf("storage: marshal cursor: %w", err))
	}
	if err := writeAtomic(filepath.Join(s.root, cursorFileName), data); err != nil {
		return errkind.New(errkind.StorageError, err)
	}
	return nil
}

func (s *Store) proposalPath(id proposal.ID) string {
	return filepath.Join(s.root, "proposals", id.String()+".json")
}

// LoadProposal reads a persisted proposal record, returning (nil, nil) if
// no record exists yet for id.
func (s *Store) LoadProposal(id proposal.ID) (*proposal.Record, error) {
	data, err := os.ReadFile(s.proposalPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.New(errkind.StorageError, fmt.Errorf("storage: read proposal %s: %w", id.String(), err))
	}
	var record proposal.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errkind.New(errkind.StorageError, fmt.Errorf("storage: parse proposal %s: %w", id.String(), err))
	}
	return &record, nil
}

// SaveProposal writes a proposal record, enforcing that status only moves
// forward per spec section 8's monotonic-progress invariant.
func (s *Store) SaveProposal(record *proposal.Record) error {
	if record == nil {
		return errkind.New(errkind.StorageError, fmt.Errorf("storage: nil proposal record"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.LoadProposal(record.ProposalID)
	if err != nil {
		return err
	}
	if existing != nil && !record.Status.IsForwardOf(existing.Status) {
		return errkind.New(errkind.StorageError, fmt.Errorf(
			"storage: proposal %s status regression %s -> %s", record.ProposalID.String(), existing.Status, record.Status))
	}

	return s.writeProposal(record)
}

// SaveReorgDemotion persists record after a detected reorg has reset it back
// to discovered, per spec section 4.2. This is the one sanctioned exception
// to the forward-only invariant SaveProposal enforces: the caller (Core.
// ReconcileReorgs) has already verified the persisted block hash no longer
// matches canonical chain state, so demoting to discovered is a correction,
// not a regression bug.
func (s *Store) SaveReorgDemotion(record *proposal.Record) error {
	if record == nil {
		return errkind.New(errkind.StorageError, fmt.Errorf("storage: nil proposal record"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeProposal(record)
}

func (s *Store) writeProposal(record *proposal.Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return errkind.New(errkind.StorageError, fmt.Errorf("storage: marshal proposal %s: %w", record.ProposalID.String(), err))
	}
	if err := writeAtomic(s.proposalPath(record.ProposalID), data); err != nil {
		return errkind.New(errkind.StorageError, err)
	}
	return nil
}

// ListProposalIDs returns every proposal id with a persisted record, in no
// particular order. Used by the scheduler to enumerate non-terminal
// records each tick without keeping a separate in-memory index.
func (s *Store) ListProposalIDs() ([]proposal.ID, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "proposals"))
	if err != nil {
		return nil, errkind.New(errkind.StorageError, fmt.Errorf("storage: list proposals: %w", err))
	}
	ids := make([]proposal.ID, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		decimal := strings.TrimSuffix(entry.Name(), ".json")
		id, err := proposal.IDFromDecimal(decimal)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IsTerminal reports whether a persisted record for id has already reached
// a terminal status, used by the scheduler to make backfill idempotent.
func (s *Store) IsTerminal(id proposal.ID) (bool, error) {
	record, err := s.LoadProposal(id)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	return record.Status.IsTerminal(), nil
}

// SaveAudit persists one LLM audit record under audit/<id>/<timestamp>-<provider>.json.
func (s *Store) SaveAudit(id proposal.ID, timestamp, provider string, data []byte) error {
	dir := filepath.Join(s.root, "audit", id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.New(errkind.StorageError, fmt.Errorf("storage: create audit dir: %w", err))
	}
	name := fmt.Sprintf("%s-%s.json", timestamp, sanitizeProvider(provider))
	if err := writeAtomic(filepath.Join(dir, name), data); err != nil {
		return errkind.New(errkind.StorageError, err)
	}
	return nil
}

func sanitizeProvider(provider string) string {
	replacer := strings.NewReplacer("/", "_", " ", "_", "\\", "_")
	return replacer.Replace(provider)
}

// SeenPromptHash reports whether promptHash was already recorded for id,
// and records it if not, atomically within one bbolt transaction — the
// secondary index's one job that the primary JSON store cannot do cheaply
// without a full directory scan.
func (s *Store) SeenPromptHash(id proposal.ID, promptHash string) (bool, error) {
	var seen bool
	key := []byte(id.String() + ":" + promptHash)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketDedup))
		if bucket.Get(key) != nil {
			seen = true
			return nil
		}
		return bucket.Put(key, []byte{1})
	})
	if err != nil {
		return false, errkind.New(errkind.StorageError, fmt.Errorf("storage: prompt hash dedup: %w", err))
	}
	return seen, nil
}

// CacheHasVoted stores a local snapshot of the on-chain has_voted result so
// repeated ticks within one process don't re-query the chain needlessly.
func (s *Store) CacheHasVoted(id proposal.ID, voted bool) error {
	value := []byte("0")
	if voted {
		value = []byte("1")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketVoted)).Put([]byte(id.String()), value)
	})
	if err != nil {
		return errkind.New(errkind.StorageError, fmt.Errorf("storage: cache has_voted: %w", err))
	}
	return nil
}

// CachedHasVoted returns the last cached has_voted value, and ok=false if
// nothing has been cached yet for id.
func (s *Store) CachedHasVoted(id proposal.ID) (voted bool, ok bool, err error) {
	txErr := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucketVoted)).Get([]byte(id.String()))
		if v == nil {
			return nil
		}
		ok = true
		voted = string(v) == "1"
		return nil
	})
	if txErr != nil {
		return false, false, errkind.New(errkind.StorageError, fmt.Errorf("storage: read has_voted cache: %w", txErr))
	}
	return voted, ok, nil
}
