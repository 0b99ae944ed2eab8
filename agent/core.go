// Package agent is the Agent Core: the orchestrator that drives each
// proposal record through the state machine from spec section 4.1,
// wiring the Chain Adapter, Proposal Decoder, Bundle Fetcher, Review
// Engine, Decision Engine, Vote Executor, and Storage together. It is the
// sole place that calls more than one of those packages, per the design
// note in spec section 9 ("Agent Core is the sole orchestrator").
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"govagent/agent/errkind"
	"govagent/bundle"
	"govagent/chain"
	"govagent/decision"
	"govagent/decoder"
	"govagent/notifier"
	"govagent/observability/metrics"
	"govagent/proposal"
	"govagent/review"
	"govagent/storage"
	"govagent/vote"
)

// maxFetchRetries bounds the decoded->fetched retry budget named in spec
// section 4.1 ("Bundle Fetcher failure ⇒ failed_transient with retry
// budget; exceeding budget ⇒ decided").
const maxFetchRetries = 5

// maxExcerptFiles/maxExcerptBytesPerFile bound how much of a bundle's
// source is included in the Stage B prompt, keeping the request inside a
// provider's context window per spec section 4.5.
const (
	maxExcerptFiles        = 12
	maxExcerptBytesPerFile = 8000
)

// recentBlockWindow bounds how far back the reorg check in spec section
// 4.2 looks on each tick, so a long-lived data directory doesn't turn every
// tick into an O(n) BlockHash RPC sweep over every non-terminal record.
const recentBlockWindow = 4096

// Core wires every pipeline component behind the single orchestrator spec
// section 9 calls for. It holds no business logic of its own beyond the
// state-machine transition wiring; each stage's actual work lives in its
// own package.
type Core struct {
	Adapter         chain.Adapter
	DappRegistry    common.Address
	Store           *storage.Store
	Fetcher         *bundle.Fetcher
	ReviewEngine    review.Engine
	DecisionPolicy  decision.Policy
	VoteExecutor    *vote.Executor
	Notifier        notifier.Notifier
	Metrics         *metrics.Agent
	Logger          *slog.Logger
	SafeConfirmations uint64
	LogChunkSize      uint64
	Now             func() time.Time
}

func (c *Core) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Core) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Core) notify(ctx context.Context, event notifier.Event) {
	if c.Notifier == nil {
		return
	}
	c.Notifier.Notify(ctx, event)
}

// DiscoverLogs polls the Chain Adapter for ProposalCreated events in the
// closed range [from, to], persisting a fresh discovered record for every
// proposal id not already known to storage. Already-known ids are left
// untouched — discovery is purely additive.
func (c *Core) DiscoverLogs(ctx context.Context, from, to uint64) error {
	logs, err := c.Adapter.PollLogs(ctx, from, to)
	if err != nil {
		return err
	}
	for _, l := range logs {
		id := proposal.IDFromUint64(0)
		if l.ProposalID != nil {
			id = proposalIDFromBig(l.ProposalID)
		}
		existing, err := c.Store.LoadProposal(id)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		record := proposal.NewRecord(
			id, l.BlockNumber, l.BlockHash.Hex(), l.TxHash.Hex(), l.Proposer.Hex(),
			addressesToHex(l.Targets), bigsToDecimal(l.Values), calldatasToHex(l.Calldatas),
			l.Description, l.VoteStart, l.VoteEnd, c.now(),
		)
		if err := c.Store.SaveProposal(record); err != nil {
			return err
		}
		c.notify(ctx, notifier.Event{
			Kind:       notifier.EventProposalDetected,
			ProposalID: id.String(),
			Message:    fmt.Sprintf("proposal %s discovered at block %d", id.String(), l.BlockNumber),
		})
	}
	return nil
}

// ReconcileReorgs implements spec section 4.2's reorg-safety replay check:
// for every non-terminal record whose originating block is within the
// recent window, verify its persisted block hash still matches the
// canonical chain. A mismatch demotes the record to discovered so it is
// re-decoded from scratch; a block hash that cannot be read at the
// record's height marks the record failed_terminal with reason
// reorged_out. The governor is not queried for whether the proposal id
// still exists.
func (c *Core) ReconcileReorgs(ctx context.Context) error {
	head, err := c.Adapter.CurrentBlock(ctx)
	if err != nil {
		return err
	}
	ids, err := c.Store.ListProposalIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		record, err := c.Store.LoadProposal(id)
		if err != nil {
			return err
		}
		if record == nil || record.Status.IsTerminal() {
			continue
		}
		if head > recentBlockWindow && record.BlockNumber < head-recentBlockWindow {
			continue
		}
		canonical, err := c.Adapter.BlockHash(ctx, record.BlockNumber)
		if err != nil {
			// The chain layer already retried per its own policy; an
			// unreadable block at this height while the record is
			// non-terminal is itself the "proposal no longer reachable"
			// signal spec section 4.2 describes.
			record.Status = proposal.StatusFailedTerminal
			record.FailureKind = string(errkind.ChainError)
			record.FailureNote = "reorged_out"
			record.UpdatedAt = c.now()
			if saveErr := c.Store.SaveProposal(record); saveErr != nil {
				return saveErr
			}
			continue
		}
		if !strings.EqualFold(canonical.Hex(), record.BlockHash) {
			c.logger().Warn("reorg detected, demoting proposal", "proposal_id", id.String(), "block_number", record.BlockNumber)
			record.Status = proposal.StatusDiscovered
			record.DecodedAction = nil
			record.Review = nil
			record.Decision = nil
			record.BlockHash = canonical.Hex()
			record.UpdatedAt = c.now()
			if saveErr := c.Store.SaveReorgDemotion(record); saveErr != nil {
				return saveErr
			}
		}
	}
	return nil
}

// AdvanceProposal drives one non-terminal record exactly one step forward
// along the §4.1 state graph, persisting the mutation before returning.
func (c *Core) AdvanceProposal(ctx context.Context, record *proposal.Record) error {
	switch record.Status {
	case proposal.StatusDiscovered:
		return c.advanceDiscovered(ctx, record)
	case proposal.StatusDecoded, proposal.StatusFailedTransient:
		return c.advanceFetch(ctx, record)
	case proposal.StatusFetched:
		return c.advanceReview(ctx, record)
	case proposal.StatusReviewed:
		return c.advanceDecide(ctx, record)
	case proposal.StatusDecided:
		return c.advanceVote(ctx, record)
	default:
		return nil
	}
}

func (c *Core) advanceDiscovered(ctx context.Context, record *proposal.Record) error {
	targets := make([]common.Address, 0, len(record.Targets))
	for _, t := range record.Targets {
		targets = append(targets, common.HexToAddress(t))
	}
	calldatas := make([][]byte, 0, len(record.Calldatas))
	for _, cd := range record.Calldatas {
		calldatas = append(calldatas, common.FromHex(cd))
	}

	action := decoder.Decode(targets, calldatas, c.DappRegistry)
	record.DecodedAction = action
	record.UpdatedAt = c.now()
	if c.Metrics != nil {
		c.Metrics.DecodeOutcome(string(action.Kind))
	}

	if action.Kind == proposal.ActionUnsupported {
		record.Decision = &proposal.DecisionRecord{
			RecommendedVote:       decision.VoteAbstain,
			RequiresHumanOverride: true,
			Reasons:               []string{fmt.Sprintf("unsupported action: %s", action.Reason)},
			ProfileUsed:           c.DecisionPolicy.Profile,
		}
		record.Status = proposal.StatusDecided
		c.notify(ctx, notifier.Event{
			Kind:       notifier.EventDecodeFailed,
			ProposalID: record.ProposalID.String(),
			Message:    fmt.Sprintf("proposal %s not a recognized dapp action: %s", record.ProposalID.String(), action.Reason),
		})
		return c.Store.SaveProposal(record)
	}

	record.Status = proposal.StatusDecoded
	return c.Store.SaveProposal(record)
}

func (c *Core) advanceFetch(ctx context.Context, record *proposal.Record) error {
	cidStr, ok := bundle.ResolveCID(record.DecodedAction.RootCID)
	if !ok {
		return c.finalizeBlockingFetch(ctx, record, review.Finding{
			Severity: review.SeverityBlocking,
			Code:     "root_cid_unresolvable",
			Message:  "decoded root_cid could not be resolved to a dereferenceable CID",
		})
	}

	materialized, findings, err := c.Fetcher.Fetch(ctx, cidStr)
	if err != nil {
		record.RetryCount++
		record.UpdatedAt = c.now()
		if record.RetryCount >= maxFetchRetries {
			return c.finalizeBlockingFetch(ctx, record, review.Finding{
				Severity: review.SeverityBlocking,
				Code:     "bundle_unavailable",
				Message:  fmt.Sprintf("exhausted %d fetch attempts: %v", record.RetryCount, err),
			})
		}
		record.Status = proposal.StatusFailedTransient
		record.FailureKind = string(errkind.FetchError)
		record.FailureNote = err.Error()
		c.notify(ctx, notifier.Event{
			Kind:       notifier.EventFetchFailed,
			ProposalID: record.ProposalID.String(),
			Message:    fmt.Sprintf("bundle fetch attempt %d failed: %v", record.RetryCount, err),
		})
		return c.Store.SaveProposal(record)
	}
	if len(findings) > 0 {
		return c.finalizeBlockingFetch(ctx, record, findings...)
	}

	record.FailureKind = ""
	record.FailureNote = ""
	record.Status = proposal.StatusFetched
	record.UpdatedAt = c.now()
	record.BundlePath = materialized.Path
	return c.Store.SaveProposal(record)
}

// finalizeBlockingFetch implements the "exceeding budget ⇒ decided (abstain,
// blocking finding)" branch of spec section 4.1, shared by both the
// root-cid-unresolvable and retry-budget-exhausted paths.
func (c *Core) finalizeBlockingFetch(ctx context.Context, record *proposal.Record, findings ...review.Finding) error {
	reasons := make([]string, 0, len(findings))
	for _, f := range findings {
		reasons = append(reasons, fmt.Sprintf("%s: %s", f.Code, f.Message))
	}
	record.Decision = &proposal.DecisionRecord{
		RecommendedVote:       decision.VoteAbstain,
		RequiresHumanOverride: true,
		Reasons:               reasons,
		ProfileUsed:           c.DecisionPolicy.Profile,
	}
	record.Status = proposal.StatusDecided
	record.UpdatedAt = c.now()
	c.notify(ctx, notifier.Event{
		Kind:       notifier.EventFetchFailed,
		ProposalID: record.ProposalID.String(),
		Message:    "bundle could not be materialized; proposal routed to abstain",
	})
	return c.Store.SaveProposal(record)
}

func (c *Core) advanceReview(ctx context.Context, record *proposal.Record) error {
	excerpts := gatherExcerpts(record.BundlePath)
	report := c.ReviewEngine.Run(ctx, record.BundlePath, excerpts)

	blocking := report.BlockingFindings()
	blockingCodes := make([]string, 0, len(blocking))
	for _, f := range blocking {
		blockingCodes = append(blockingCodes, fmt.Sprintf("%s: %s", f.Code, f.Message))
	}
	record.Review = &proposal.ReviewSummary{
		RiskScore:         report.RiskScore,
		Summary:           report.Summary,
		BlockingFindings:  blockingCodes,
		DeterministicRisk: report.DeterministicRisk,
		LLMRisk:           report.LLMRisk,
	}
	record.Status = proposal.StatusReviewed
	record.UpdatedAt = c.now()

	for _, auditRecord := range report.LLMAudit {
		seen, seenErr := c.Store.SeenPromptHash(record.ProposalID, auditRecord.PromptHash)
		if seenErr != nil {
			c.logger().Warn("prompt hash dedup check failed", "proposal_id", record.ProposalID.String(), "err", seenErr)
		}
		if !seen {
			data, err := json.Marshal(auditRecord)
			if err == nil {
				ts := c.now().UTC().Format("20060102T150405.000000000Z")
				_ = c.Store.SaveAudit(record.ProposalID, fmt.Sprintf("%s-%s", ts, auditRecord.ID), auditRecord.Provider, data)
			}
		}
		outcome := "ok"
		if auditRecord.Error != "" {
			outcome = "error"
		}
		if c.Metrics != nil {
			c.Metrics.LLMCall(auditRecord.Provider, outcome, float64(auditRecord.LatencyMS)/1000.0)
		}
	}

	if len(blocking) > 0 {
		c.notify(ctx, notifier.Event{
			Kind:       notifier.EventHighRiskFinding,
			ProposalID: record.ProposalID.String(),
			Message:    fmt.Sprintf("review produced %d blocking finding(s)", len(blocking)),
		})
	}
	return c.Store.SaveProposal(record)
}

func (c *Core) advanceDecide(ctx context.Context, record *proposal.Record) error {
	report := reportFromSummary(*record.Review)
	d := decision.Decide(report, c.DecisionPolicy)
	record.Decision = &d
	record.Status = proposal.StatusDecided
	record.UpdatedAt = c.now()
	if c.Metrics != nil {
		c.Metrics.Decision(d.RecommendedVote)
	}
	return c.Store.SaveProposal(record)
}

func (c *Core) advanceVote(ctx context.Context, record *proposal.Record) error {
	result, err := c.VoteExecutor.Execute(ctx, record)
	if err != nil {
		c.notify(ctx, notifier.Event{
			Kind:       notifier.EventVoteFailed,
			ProposalID: record.ProposalID.String(),
			Message:    err.Error(),
		})
		return err
	}
	switch result.Outcome {
	case vote.OutcomeVoted:
		if c.Metrics != nil {
			c.Metrics.VoteCast(record.Decision.RecommendedVote, "voted")
		}
		c.notify(ctx, notifier.Event{
			Kind:       notifier.EventVoteSubmitted,
			ProposalID: record.ProposalID.String(),
			Message:    fmt.Sprintf("vote %s: %s", record.Decision.RecommendedVote, result.Reason),
		})
	case vote.OutcomeSkipped:
		kind := notifier.EventDryRunRecommendation
		if result.Reason != "auto_vote_disabled" {
			kind = notifier.EventVoteFailed
		}
		c.notify(ctx, notifier.Event{
			Kind:       kind,
			ProposalID: record.ProposalID.String(),
			Message:    fmt.Sprintf("skipped: %s (recommended %s)", result.Reason, record.Decision.RecommendedVote),
		})
	}
	return nil
}

// reportFromSummary reconstructs the minimal review.Report the decision
// engine needs from the persisted ReviewSummary: the risk score and a
// synthetic blocking finding per retained blocking-finding description.
// The record keeps only this summary; the audit trail under audit/<id>/
// holds the LLM audit records, and the report's other findings (with their
// severity/path) are not persisted.
func reportFromSummary(summary proposal.ReviewSummary) review.Report {
	findings := make([]review.Finding, 0, len(summary.BlockingFindings))
	for _, s := range summary.BlockingFindings {
		code, message := splitReason(s)
		findings = append(findings, review.Finding{
			Severity: review.SeverityBlocking,
			Code:     code,
			Message:  message,
		})
	}
	return review.Report{
		LLMFindings:       findings,
		Summary:           summary.Summary,
		RiskScore:         summary.RiskScore,
		DeterministicRisk: summary.DeterministicRisk,
		LLMRisk:           summary.LLMRisk,
	}
}

func splitReason(s string) (string, string) {
	parts := strings.SplitN(s, ": ", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "blocking", s
}

func gatherExcerpts(bundleRoot string) map[string]string {
	excerpts := make(map[string]string)
	if bundleRoot == "" {
		return excerpts
	}
	var candidates []string
	_ = filepath.Walk(bundleRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		if isSourceLike(path) {
			candidates = append(candidates, path)
		}
		return nil
	})
	sort.Strings(candidates)
	for _, path := range candidates {
		if len(excerpts) >= maxExcerptFiles {
			break
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if len(data) > maxExcerptBytesPerFile {
			data = data[:maxExcerptBytesPerFile]
		}
		rel, err := filepath.Rel(bundleRoot, path)
		if err != nil {
			rel = path
		}
		excerpts[rel] = string(data)
	}
	return excerpts
}

func isSourceLike(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".ts", ".jsx", ".tsx", ".json", ".sol", ".go", ".py", ".md", ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func proposalIDFromBig(v *big.Int) proposal.ID {
	id, err := proposal.IDFromDecimal(v.String())
	if err != nil {
		return proposal.IDFromUint64(0)
	}
	return id
}

func addressesToHex(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Hex())
	}
	return out
}

func bigsToDecimal(values []*big.Int) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == nil {
			out = append(out, "0")
			continue
		}
		out = append(out, v.String())
	}
	return out
}

func calldatasToHex(calldatas [][]byte) []string {
	out := make([]string, 0, len(calldatas))
	for _, c := range calldatas {
		out = append(out, common.Bytes2Hex(c))
	}
	return out
}

