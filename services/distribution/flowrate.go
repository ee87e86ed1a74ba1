package distribution

import (
	"math/big"
)

// SecondsPerMonth is the mean Gregorian month used to translate a
// monthly token amount into a per-second streaming rate.
const SecondsPerMonth = 2629746

var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// CalcFlowRate converts a point score into a wei-per-second flow rate:
// round(score × 1e18 / scaleFactor / secondsPerMonth). Integer math
// throughout; the intermediate exceeds int64 so it stays in big.Int.
func CalcFlowRate(score int64, scaleFactor int64) *big.Int {
	if score <= 0 || scaleFactor <= 0 {
		return big.NewInt(0)
	}

	numerator := new(big.Int).Mul(big.NewInt(score), weiPerToken)
	denominator := new(big.Int).Mul(big.NewInt(scaleFactor), big.NewInt(SecondsPerMonth))

	quotient, remainder := new(big.Int).QuoRem(numerator, denominator, new(big.Int))

	// round half up
	if new(big.Int).Lsh(remainder, 1).Cmp(denominator) >= 0 {
		quotient.Add(quotient, big.NewInt(1))
	}

	return quotient
}
