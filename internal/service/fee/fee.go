package fee

import (
	"fmt"

	"github.com/shopspring/decimal"

	"milestonefund/internal/model"
)

// BasisPointsDenominator 10000 个基点 = 100%
const BasisPointsDenominator = 10000

var denominator = decimal.NewFromInt(BasisPointsDenominator)

// Calculator 平台手续费计算，无副作用
type Calculator struct{}

func NewCalculator() Calculator {
	return Calculator{}
}

// Compute fee = floor(gross * bps / 10000)，net = gross - fee
func (Calculator) Compute(gross, feeBasisPoints int64) (fee, net int64, err error) {
	return Compute(gross, feeBasisPoints)
}

func Compute(gross, feeBasisPoints int64) (fee, net int64, err error) {
	if err := ValidateRate(feeBasisPoints); err != nil {
		return 0, 0, err
	}
	if gross < 0 {
		return 0, 0, fmt.Errorf("%w: gross %d", model.ErrInvalidAmount, gross)
	}
	// 用 decimal 避免 gross * bps 溢出 int64
	fee = decimal.NewFromInt(gross).
		Mul(decimal.NewFromInt(feeBasisPoints)).
		Div(denominator).
		Floor().
		IntPart()
	return fee, gross - fee, nil
}

// ValidateRate 费率必须在 0-1000 基点之间
func ValidateRate(feeBasisPoints int64) error {
	if feeBasisPoints < 0 || feeBasisPoints > model.MaxFeeBasisPoints {
		return fmt.Errorf("%w: %d basis points (allowed 0-%d)", model.ErrInvalidRate, feeBasisPoints, model.MaxFeeBasisPoints)
	}
	return nil
}
