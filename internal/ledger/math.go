package ledger

import (
	"github.com/holiman/uint256"
)

// Checked arithmetic primitives. Every balance, allowance and supply
// mutation goes through these — a subtraction that would underflow or an
// addition that would wrap is a hard failure, never silent wraparound.

// checkedAdd returns a+b or ErrOverflow if the sum exceeds 2^256-1.
func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, carry := new(uint256.Int).AddOverflow(a, b)
	if carry {
		return nil, ErrOverflow
	}
	return sum, nil
}

// checkedSub returns a-b or err (the caller's domain error) if b > a.
func checkedSub(a, b *uint256.Int, err error) (*uint256.Int, error) {
	diff, borrow := new(uint256.Int).SubOverflow(a, b)
	if borrow {
		return nil, err
	}
	return diff, nil
}
