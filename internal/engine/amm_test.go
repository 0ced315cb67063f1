package engine

import (
	"errors"
	"math/big"
	"testing"

	"github.com/hephyrius/selfmarket/internal/domain"
)

func big64(v int64) *big.Int { return big.NewInt(v) }

func TestQuoteBuy(t *testing.T) {
	tests := []struct {
		name       string
		reserveOut int64
		reserveIn  int64
		amountIn   int64
		feeBps     int64
		wantFee    int64
		wantOut    int64
		wantErr    error
	}{
		{
			name:       "1000 in at 30bps",
			reserveOut: 15000, reserveIn: 15000, amountIn: 1000, feeBps: 30,
			wantFee: 3, wantOut: 934,
		},
		{
			name:       "no fee",
			reserveOut: 10000, reserveIn: 10000, amountIn: 1000, feeBps: 0,
			wantFee: 0, wantOut: 909,
		},
		{
			name:       "dust input yields no shares",
			reserveOut: 5, reserveIn: 5, amountIn: 1, feeBps: 30,
			wantErr: domain.ErrInsufficientLiquidity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := quoteBuy(big64(tt.reserveOut), big64(tt.reserveIn), big64(tt.amountIn), tt.feeBps)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("quoteBuy error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("quoteBuy: %v", err)
			}
			if q.fee.Int64() != tt.wantFee {
				t.Errorf("fee = %s, want %d", q.fee, tt.wantFee)
			}
			if q.amountOut.Int64() != tt.wantOut {
				t.Errorf("amountOut = %s, want %d", q.amountOut, tt.wantOut)
			}

			// Constant product must not decrease across the trade.
			kBefore := new(big.Int).Mul(big64(tt.reserveOut), big64(tt.reserveIn))
			kAfter := new(big.Int).Mul(q.reserveOut, q.reserveIn)
			if kAfter.Cmp(kBefore) < 0 {
				t.Errorf("k decreased: %s -> %s", kBefore, kAfter)
			}
			if tt.feeBps > 0 && tt.wantFee > 0 && kAfter.Cmp(kBefore) <= 0 {
				t.Errorf("k did not grow with fee: %s -> %s", kBefore, kAfter)
			}
		})
	}
}

func TestQuoteSell(t *testing.T) {
	// Mirror of the buy scenario: sell the 934 shares straight back.
	q, err := quoteSell(big64(14066), big64(16000), big64(934), 30)
	if err != nil {
		t.Fatalf("quoteSell: %v", err)
	}
	if got := q.fee.Int64(); got != 2 {
		t.Errorf("fee = %d, want 2", got)
	}
	if got := q.amountOut.Int64(); got != 994 {
		t.Errorf("amountOut = %d, want 994", got)
	}
	if got := q.reserveIn.Int64(); got != 15000 {
		t.Errorf("reserveIn = %d, want 15000", got)
	}
	if got := q.reserveOut.Int64(); got != 15006 {
		t.Errorf("reserveOut = %d, want 15006", got)
	}

	kBefore := new(big.Int).Mul(big64(14066), big64(16000))
	kAfter := new(big.Int).Mul(q.reserveIn, q.reserveOut)
	if kAfter.Cmp(kBefore) < 0 {
		t.Errorf("k decreased: %s -> %s", kBefore, kAfter)
	}
}

func TestQuoteSellDust(t *testing.T) {
	_, err := quoteSell(big64(100000), big64(3), big64(1), 30)
	if !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Fatalf("error = %v, want %v", err, domain.ErrInsufficientLiquidity)
	}
}

func TestFeeOf(t *testing.T) {
	tests := []struct {
		amount int64
		bps    int64
		want   int64
	}{
		{1000, 30, 3},
		{1000, 0, 0},
		{999, 30, 2},  // floored
		{3333, 30, 9}, // floored
		{10000, 30, 30},
	}
	for _, tt := range tests {
		if got := feeOf(big64(tt.amount), tt.bps).Int64(); got != tt.want {
			t.Errorf("feeOf(%d, %d) = %d, want %d", tt.amount, tt.bps, got, tt.want)
		}
	}
}

func TestNormalizedPrices(t *testing.T) {
	p := normalizedPrices(big64(15000), big64(15000))
	if p.Yes != 0.5 || p.No != 0.5 {
		t.Errorf("balanced reserves: got %+v, want 0.5/0.5", p)
	}

	// After YES buying depletes the YES reserve, YES trades rich.
	p = normalizedPrices(big64(14066), big64(16000))
	if p.Yes <= 0.5 {
		t.Errorf("yes price = %v, want > 0.5", p.Yes)
	}
	if diff := p.Yes + p.No - 1; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("prices do not sum to 1: %v", p.Yes+p.No)
	}

	// Degenerate reserves price at zero rather than dividing by zero.
	p = normalizedPrices(big64(0), big64(0))
	if p.Yes != 0 || p.No != 0 {
		t.Errorf("empty reserves: got %+v, want zeros", p)
	}
}
