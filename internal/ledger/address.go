package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 20-byte account identifier. The zero value is the null
// identity and is never a valid transfer participant.
type Address [20]byte

// ZeroAddress is the null identity. Mint events use it as the source,
// burn events use it as the destination.
var ZeroAddress Address

// EscrowAddress is the system's own holding account. Auction proceeds and
// collateral custody live here between rounds. Reserved at genesis so tests
// and indexers can address it directly.
var EscrowAddress = deriveReserved("fraxd/escrow")

func deriveReserved(tag string) Address {
	var a Address
	sum := sha256.Sum256([]byte(tag))
	copy(a[:], sum[:20])
	return a
}

// IsZero reports whether the address is the null identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex returns the 0x-prefixed hex encoding.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// MarshalText encodes the address as 0x-prefixed hex for JSON payloads.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText decodes a 0x-prefixed or bare hex address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a 0x-prefixed or bare 40-char hex address.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != 40 {
		return a, fmt.Errorf("address must be 20 bytes of hex, got %d chars", len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("decode address: %w", err)
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress for test fixtures and constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}
