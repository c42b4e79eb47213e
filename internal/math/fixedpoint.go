// internal/math/fixedpoint.go
package math

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// ErrOverflow is returned when a result leaves the int64 domain.
	ErrOverflow = errors.New("fixed-point overflow")

	// ErrDivisionByZero is returned for a zero denominator.
	ErrDivisionByZero = errors.New("fixed-point division by zero")
)

const (
	// RateScale is the fixed-point scale for fee rates (8 decimals).
	RateScale int64 = 100_000_000

	// SecondsPerYear is the annualisation constant for time-prorated fees.
	SecondsPerYear int64 = 365 * 24 * 60 * 60

	// FactorScale scales fill factors: 10000 == fully filled.
	FactorScale int64 = 10_000

	// MaxDecimals bounds asset decimals so that 10^decimals fits an int64.
	MaxDecimals = 18
)

// RoundingMode selects how DivideInt128 treats a non-zero remainder.
type RoundingMode int

const (
	RoundDown     RoundingMode = iota // Truncate toward zero (default for accounting)
	RoundHalfEven                     // Banker's rounding
	RoundUp
)

// Int128 is a pooled big.Int for intermediate calculations
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// MultiplyInt128 performs a * b using int128 to prevent overflow.
// The caller owns the returned value and should release it with Release.
func MultiplyInt128(a, b int64) *big.Int {
	result := getInt128()
	result.Mul(big.NewInt(a), big.NewInt(b))
	return result
}

// Release returns an intermediate obtained from MultiplyInt128 to the pool.
func Release(v *big.Int) {
	putInt128(v)
}

// DivideInt128 performs numerator / denominator with rounding and checks
// that the quotient fits an int64.
func DivideInt128(numerator *big.Int, denominator *big.Int, roundingMode RoundingMode) (int64, error) {
	if denominator.Sign() == 0 {
		return 0, ErrDivisionByZero
	}

	quotient := getInt128()
	remainder := getInt128()
	defer putInt128(quotient)
	defer putInt128(remainder)

	// QuoRem truncates toward zero; amounts here are non-negative in practice.
	quotient.QuoRem(numerator, denominator, remainder)

	if remainder.Sign() != 0 {
		switch roundingMode {
		case RoundUp:
			if remainder.Sign() == denominator.Sign() {
				quotient.Add(quotient, big.NewInt(1))
			}
		case RoundHalfEven:
			twice := getInt128()
			twice.Abs(remainder)
			twice.Lsh(twice, 1)
			absDen := getInt128()
			absDen.Abs(denominator)
			cmp := twice.Cmp(absDen)
			putInt128(twice)
			putInt128(absDen)

			roundAway := cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1)
			if roundAway {
				if (numerator.Sign() < 0) != (denominator.Sign() < 0) {
					quotient.Sub(quotient, big.NewInt(1))
				} else {
					quotient.Add(quotient, big.NewInt(1))
				}
			}
		}
	}

	if !quotient.IsInt64() {
		return 0, ErrOverflow
	}
	return quotient.Int64(), nil
}

// MulDiv computes a * b / denominator without intermediate overflow.
func MulDiv(a, b, denominator int64, mode RoundingMode) (int64, error) {
	if denominator == 0 {
		return 0, ErrDivisionByZero
	}
	num := MultiplyInt128(a, b)
	defer putInt128(num)

	den := getInt128()
	defer putInt128(den)
	den.SetInt64(denominator)

	return DivideInt128(num, den, mode)
}

// MulMulDiv computes a * b * c / (d1 * d2). Used where three scaled
// quantities meet (rate × time × value) and two scales are divided out.
func MulMulDiv(a, b, c, d1, d2 int64, mode RoundingMode) (int64, error) {
	if d1 == 0 || d2 == 0 {
		return 0, ErrDivisionByZero
	}
	num := MultiplyInt128(a, b)
	defer putInt128(num)
	num.Mul(num, big.NewInt(c))

	den := MultiplyInt128(d1, d2)
	defer putInt128(den)

	return DivideInt128(num, den, mode)
}

// Add returns a + b, failing with ErrOverflow outside the int64 domain.
func Add(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a - b, failing with ErrOverflow outside the int64 domain.
func Sub(a, b int64) (int64, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, ErrOverflow
	}
	return diff, nil
}

// Pow10 returns 10^n for 0 <= n <= MaxDecimals.
func Pow10(n int) (int64, error) {
	if n < 0 || n > MaxDecimals {
		return 0, ErrOverflow
	}
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v, nil
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
