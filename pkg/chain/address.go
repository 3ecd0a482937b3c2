// Package chain holds the canonical forms used wherever ledger data crosses
// into or out of the projection store: lower-cased addresses, wei amounts and
// millisecond timestamps.
package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Canonical returns the single form an address is compared and stored in.
// Well-formed 20-byte hex addresses are normalized through go-ethereum (which
// also adds a missing 0x prefix); anything else is trimmed and lower-cased so
// that opaque identifiers still compare consistently.
func Canonical(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if common.IsHexAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}

// CanonicalAll canonicalizes every address and drops blanks and duplicates,
// keeping first-seen order.
func CanonicalAll(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		c := Canonical(a)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// SameAddress compares two addresses in canonical form.
func SameAddress(a, b string) bool {
	ca := Canonical(a)
	return ca != "" && ca == Canonical(b)
}

// IsAddress reports whether s is a well-formed hex account address.
func IsAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}

// ToAddress parses s into a go-ethereum address for ABI packing.
func ToAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// FromAddress is the canonical string form of a decoded address.
func FromAddress(a common.Address) string {
	return strings.ToLower(a.Hex())
}
