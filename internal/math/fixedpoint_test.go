package math_test

import (
	"errors"
	stdmath "math"
	"testing"

	fpmath "FundLedger/internal/math"
)

func TestMulDiv_Truncates(t *testing.T) {
	got, err := fpmath.MulDiv(7, 3, 2, fpmath.RoundDown)
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if got != 10 {
		t.Errorf("got %d, want 10", got)
	}
}

func TestMulDiv_RoundingModes(t *testing.T) {
	tests := []struct {
		name string
		a, b int64
		den  int64
		mode fpmath.RoundingMode
		want int64
	}{
		{"down", 5, 1, 2, fpmath.RoundDown, 2},
		{"up", 5, 1, 2, fpmath.RoundUp, 3},
		{"half even to even", 5, 1, 2, fpmath.RoundHalfEven, 2},
		{"half even away", 7, 1, 2, fpmath.RoundHalfEven, 4},
		{"half even above half", 8, 1, 3, fpmath.RoundHalfEven, 3},
		{"exact", 6, 1, 3, fpmath.RoundUp, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDiv(tt.a, tt.b, tt.den, tt.mode)
			if err != nil {
				t.Fatalf("MulDiv: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulDiv_LargeIntermediate(t *testing.T) {
	// a*b overflows int64 but the quotient fits
	got, err := fpmath.MulDiv(stdmath.MaxInt64, 1_000_000, 1_000_000, fpmath.RoundDown)
	if err != nil {
		t.Fatalf("MulDiv: %v", err)
	}
	if got != stdmath.MaxInt64 {
		t.Errorf("got %d, want MaxInt64", got)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	_, err := fpmath.MulDiv(stdmath.MaxInt64, 2, 1, fpmath.RoundDown)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	_, err := fpmath.MulDiv(1, 1, 0, fpmath.RoundDown)
	if !errors.Is(err, fpmath.ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMulMulDiv_ManagementFeeShape(t *testing.T) {
	// 2% annual on 1_000_000 for a full year
	rate := int64(2_000_000) // 0.02 at RateScale
	got, err := fpmath.MulMulDiv(rate, fpmath.SecondsPerYear, 1_000_000, fpmath.RateScale, fpmath.SecondsPerYear, fpmath.RoundDown)
	if err != nil {
		t.Fatalf("MulMulDiv: %v", err)
	}
	if got != 20_000 {
		t.Errorf("got %d, want 20000", got)
	}
}

func TestAddSub_Checked(t *testing.T) {
	if _, err := fpmath.Add(stdmath.MaxInt64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("Add overflow: expected ErrOverflow, got %v", err)
	}
	if _, err := fpmath.Sub(stdmath.MinInt64, 1); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("Sub overflow: expected ErrOverflow, got %v", err)
	}
	if v, err := fpmath.Add(40, 2); err != nil || v != 42 {
		t.Errorf("Add: got %d, %v", v, err)
	}
	if v, err := fpmath.Sub(40, 2); err != nil || v != 38 {
		t.Errorf("Sub: got %d, %v", v, err)
	}
}

func TestPow10(t *testing.T) {
	v, err := fpmath.Pow10(6)
	if err != nil || v != 1_000_000 {
		t.Errorf("Pow10(6): got %d, %v", v, err)
	}
	if _, err := fpmath.Pow10(19); !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("Pow10(19): expected ErrOverflow, got %v", err)
	}
}
