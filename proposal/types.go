package proposal

import (
	"math/big"
	"time"
)

// Status is the per-proposal state machine position, spec section 4.1.
type Status string

const (
	StatusDiscovered     Status = "discovered"
	StatusDecoded        Status = "decoded"
	StatusFetched        Status = "fetched"
	StatusReviewed       Status = "reviewed"
	StatusDecided        Status = "decided"
	StatusVoted          Status = "voted"
	StatusSkipped        Status = "skipped"
	StatusFailedTransient Status = "failed_transient"
	StatusFailedTerminal Status = "failed_terminal"
)

// order gives the forward rank of each on-path status so callers can assert
// monotonic progress (spec's "status only transitions forward" invariant).
// Off-path statuses (failed_transient, failed_terminal) are not part of the
// forward order; they are parked and resumed or left terminal explicitly.
var order = map[Status]int{
	StatusDiscovered: 0,
	StatusDecoded:     1,
	StatusFetched:     2,
	StatusReviewed:    3,
	StatusDecided:     4,
	StatusVoted:       5,
	StatusSkipped:     5,
}

// IsForwardOf reports whether moving from to represents forward (or equal)
// progress along the on-path state graph. Off-path statuses always report
// true so retries and terminal failures are never rejected by this check.
func (s Status) IsForwardOf(from Status) bool {
	a, aok := order[from]
	b, bok := order[s]
	if !aok || !bok {
		return true
	}
	return b >= a
}

// IsTerminal reports whether the status will never be advanced by the
// scheduler again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusVoted, StatusSkipped, StatusFailedTerminal:
		return true
	default:
		return false
	}
}

// RootCIDKind tags which representation a decoded root CID took.
type RootCIDKind string

const (
	RootCIDUTF8 RootCIDKind = "utf8"
	RootCIDHex  RootCIDKind = "hex"
)

// RootCID is the tagged root_cid variant from spec section 3/4.3.
type RootCID struct {
	Kind RootCIDKind `json:"kind"`
	Text string      `json:"text,omitempty"` // populated when Kind == utf8
	Hex  string      `json:"hex,omitempty"`  // populated when Kind == hex, "0x"-prefixed
}

// ActionKind tags the decoded dapp action variant.
type ActionKind string

const (
	ActionPublishDapp ActionKind = "publish_dapp"
	ActionUpgradeDapp ActionKind = "upgrade_dapp"
	ActionUnsupported ActionKind = "unsupported"
)

// DecodedAction is the tagged variant produced by the Proposal Decoder,
// spec section 3/4.3.
type DecodedAction struct {
	Kind ActionKind `json:"kind"`

	// PublishDapp / UpgradeDapp fields.
	DappID      *big.Int `json:"dapp_id,omitempty"` // set for upgrade_dapp
	RootCID     *RootCID `json:"root_cid,omitempty"`
	Name        string   `json:"name,omitempty"`
	Version     string   `json:"version,omitempty"`
	Description string   `json:"description,omitempty"`

	// Unsupported fields.
	Reason string `json:"reason,omitempty"`
}

// Record is the Proposal Record from spec section 3, keyed by ProposalID.
type Record struct {
	ProposalID  ID       `json:"proposal_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	Proposer    string   `json:"proposer"`
	Targets     []string `json:"targets"`
	Values      []string `json:"values"`
	Calldatas   []string `json:"calldatas"` // hex-encoded
	Description string   `json:"description"`
	VoteStart   uint64   `json:"vote_start"`
	VoteEnd     uint64   `json:"vote_end"`

	DecodedAction *DecodedAction  `json:"decoded_action,omitempty"`
	BundlePath    string          `json:"bundle_path,omitempty"`
	Review        *ReviewSummary  `json:"review,omitempty"`
	Decision      *DecisionRecord `json:"decision,omitempty"`
	VoteTx        *VoteTx         `json:"vote_tx,omitempty"`

	Status       Status    `json:"status"`
	FailureKind  string    `json:"failure_kind,omitempty"`
	FailureNote  string    `json:"failure_note,omitempty"`
	RetryCount   int       `json:"retry_count"`
	FirstSeenAt  time.Time `json:"first_seen_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReviewSummary is the subset of the Review Report persisted on the record
// itself. Only the LLM audit records are stored separately, under
// audit/<id>/; the report's other findings are not persisted.
type ReviewSummary struct {
	RiskScore         float64   `json:"risk_score"`
	Summary           string    `json:"summary"`
	BlockingFindings  []string  `json:"blocking_findings,omitempty"`
	DeterministicRisk float64   `json:"deterministic_risk"`
	LLMRisk           float64   `json:"llm_risk"`
}

// DecisionRecord is the persisted form of the Decision Engine's output.
type DecisionRecord struct {
	RecommendedVote       string   `json:"recommended_vote"`
	Confidence            float64  `json:"confidence"`
	Reasons               []string `json:"reasons"`
	RequiresHumanOverride bool     `json:"requires_human_override"`
	ProfileUsed           string   `json:"profile_used"`
}

// VoteTx records the submitted transaction, never overwritten once its
// receipt is mined (spec's vote_tx invariant).
type VoteTx struct {
	Hash          string `json:"hash"`
	Support       uint8  `json:"support"`
	Reason        string `json:"reason"`
	SubmittedAt   time.Time `json:"submitted_at"`
	ReceiptStatus string `json:"receipt_status,omitempty"` // "", "pending", "success", "failed"
	MinedAt       *time.Time `json:"mined_at,omitempty"`
}

// NewRecord constructs a freshly discovered record.
func NewRecord(id ID, blockNumber uint64, blockHash, txHash, proposer string, targets, values, calldatas []string, description string, voteStart, voteEnd uint64, now time.Time) *Record {
	return &Record{
		ProposalID:  id,
		BlockNumber: blockNumber,
		BlockHash:   blockHash,
		TxHash:      txHash,
		Proposer:    proposer,
		Targets:     targets,
		Values:      values,
		Calldatas:   calldatas,
		Description: description,
		VoteStart:   voteStart,
		VoteEnd:     voteEnd,
		Status:      StatusDiscovered,
		FirstSeenAt: now,
		UpdatedAt:   now,
	}
}
