// Package proposal holds the core data model shared by every pipeline
// stage: the proposal record, its decoded action, and the 256-bit proposal
// identifier.
package proposal

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
)

// ID is a 256-bit unsigned proposal identifier. It marshals to/from its
// decimal string form at any JSON boundary, per spec section 3.
type ID struct {
	v *uint256.Int
}

// NewID wraps a uint256 value as a proposal ID.
func NewID(v *uint256.Int) ID {
	if v == nil {
		return ID{v: uint256.NewInt(0)}
	}
	return ID{v: v.Clone()}
}

// IDFromDecimal parses a decimal string into a proposal ID.
func IDFromDecimal(s string) (ID, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return ID{}, fmt.Errorf("proposal: parse id %q: %w", s, err)
	}
	return ID{v: v}, nil
}

// IDFromUint64 wraps a uint64 as a proposal ID.
func IDFromUint64(v uint64) ID {
	return ID{v: uint256.NewInt(v)}
}

// String renders the canonical decimal form.
func (id ID) String() string {
	if id.v == nil {
		return "0"
	}
	return id.v.Dec()
}

// Uint256 exposes the underlying value for RPC calls that expect *uint256.Int
// or *big.Int (via .ToBig()).
func (id ID) Uint256() *uint256.Int {
	if id.v == nil {
		return uint256.NewInt(0)
	}
	return id.v.Clone()
}

// Equal reports whether two IDs carry the same value.
func (id ID) Equal(other ID) bool {
	return id.String() == other.String()
}

// MarshalJSON implements json.Marshaler, emitting the decimal string form.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON implements json.Unmarshaler, parsing the decimal string form.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := IDFromDecimal(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
