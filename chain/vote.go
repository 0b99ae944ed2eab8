package chain

import "math/big"

// Support mirrors the Governor Bravo vote choice encoding named in spec
// section 4.7: 0=against, 1=for, 2=abstain. Abstain is never packed by this
// package's callers — the vote executor's preflight gate only reaches
// PackCastVoteWithReason for a for/against decision.
type Support uint8

const (
	SupportAgainst Support = 0
	SupportFor     Support = 1
	SupportAbstain Support = 2
)

// PackCastVoteWithReason ABI-encodes a castVoteWithReason call, spec
// section 6's sole governor write.
func PackCastVoteWithReason(proposalID *big.Int, support Support, reason string) ([]byte, error) {
	return parsedGovernorABI.Pack("castVoteWithReason", proposalID, uint8(support), reason)
}
