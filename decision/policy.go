// Package decision implements the Decision Engine: a pure mapping from a
// Review Report and a threshold Policy to a Decision, per spec section 4.6.
package decision

import "fmt"

// Policy holds the approve/reject threshold pair used to map a risk score
// onto a recommended vote.
type Policy struct {
	Profile          string
	ApproveThreshold float64
	RejectThreshold  float64
}

// builtinProfiles are the named threshold-pair aliases from spec section
// 4.6. Explicit numeric overrides on a Policy supersede these.
var builtinProfiles = map[string]Policy{
	"conservative": {Profile: "conservative", ApproveThreshold: 0.15, RejectThreshold: 0.50},
	"balanced":     {Profile: "balanced", ApproveThreshold: 0.30, RejectThreshold: 0.60},
	"aggressive":   {Profile: "aggressive", ApproveThreshold: 0.45, RejectThreshold: 0.70},
}

// ResolvePolicy looks up a built-in profile by name and applies any
// explicit threshold overrides on top of it. A zero override (0) is
// treated as "not set" since 0 is never a meaningful reject_threshold and
// a 0 approve_threshold would itself disable approval entirely were it
// not distinguishable from "unset" — callers that genuinely want an
// approve_threshold of 0 should use a profile whose alias already yields
// it rather than an override.
func ResolvePolicy(profile string, approveOverride, rejectOverride float64) (Policy, error) {
	base, ok := builtinProfiles[profile]
	if !ok {
		return Policy{}, fmt.Errorf("decision: unknown profile %q", profile)
	}
	if approveOverride != 0 {
		base.ApproveThreshold = approveOverride
	}
	if rejectOverride != 0 {
		base.RejectThreshold = rejectOverride
	}
	if base.RejectThreshold <= base.ApproveThreshold {
		return Policy{}, fmt.Errorf("decision: reject_threshold (%.2f) must be greater than approve_threshold (%.2f)", base.RejectThreshold, base.ApproveThreshold)
	}
	return base, nil
}
