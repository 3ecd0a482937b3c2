package chain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// WeiDecimals is the number of decimal places between ether and wei.
const WeiDecimals = 18

// ErrNegativeAmount is returned when a monetary value below zero is converted.
var ErrNegativeAmount = errors.New("amount must not be negative")

// EtherToWei converts a decimal ether amount into the ledger's base unit.
// Amounts with more than 18 decimal places are rejected rather than rounded.
func EtherToWei(ether decimal.Decimal) (*big.Int, error) {
	if ether.IsNegative() {
		return nil, ErrNegativeAmount
	}
	wei := ether.Shift(WeiDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has sub-wei precision", ether.String())
	}
	return wei.BigInt(), nil
}

// ParseEther parses a decimal string such as "0.1" into wei.
func ParseEther(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse ether amount %q: %w", s, err)
	}
	return EtherToWei(d)
}

// FloatEtherToWei converts a float ether amount, as stored in projection
// records, into wei.
func FloatEtherToWei(ether float64) (*big.Int, error) {
	return EtherToWei(decimal.NewFromFloat(ether))
}

// WeiToEther converts wei back into a decimal ether amount.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -WeiDecimals)
}

// UnixMillis is the integer timestamp the contract stores for deadlines.
func UnixMillis(t time.Time) *big.Int {
	return big.NewInt(t.UnixMilli())
}

// TagIDs converts tag ids into the uint256[] shape the contract expects.
func TagIDs(ids []int) []*big.Int {
	out := make([]*big.Int, len(ids))
	for i, id := range ids {
		out[i] = big.NewInt(int64(id))
	}
	return out
}
