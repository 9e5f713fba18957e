package common

import (
	"math"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")

	satoshiPerCoin = decimal.NewFromInt(SatoshiPerCoin)
	maxSatoshi     = decimal.NewFromInt(math.MaxInt64)
)

// CoinToSatoshi converts a positive coin amount with at most eight decimal
// places into base units.
func CoinToSatoshi(amount decimal.Decimal) (uint64, error) {
	if !amount.IsPositive() {
		return 0, errors.Wrap(ErrInvalidAmount, "amount must be positive")
	}

	sat := amount.Mul(satoshiPerCoin)
	if !sat.Equal(sat.Truncate(0)) {
		return 0, errors.Wrap(ErrInvalidAmount, "more than 8 decimal places")
	}

	if sat.GreaterThan(maxSatoshi) {
		return 0, errors.Wrap(ErrInvalidAmount, "amount overflow")
	}
	return uint64(sat.IntPart()), nil
}

func ParseAmount(s string) (uint64, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.Wrap(ErrInvalidAmount, err.Error())
	}

	return CoinToSatoshi(amount)
}

func SatoshiToCoin(sat uint64) string {
	return decimal.NewFromInt(int64(sat)).Shift(-8).String()
}
