package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestComputeChange(t *testing.T) {
	tests := []struct {
		name        string
		price       string
		prevClose   *decimal.Decimal
		wantChange  string
		wantPercent string
	}{
		{
			name:        "gain",
			price:       "100",
			prevClose:   decPtr("95"),
			wantChange:  "5",
			wantPercent: "5.2631578947368421",
		},
		{
			name:        "loss",
			price:       "90",
			prevClose:   decPtr("100"),
			wantChange:  "-10",
			wantPercent: "-10",
		},
		{
			name:        "flat",
			price:       "42.5",
			prevClose:   decPtr("42.5"),
			wantChange:  "0",
			wantPercent: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PricePoint{Price: dec(tt.price), PreviousClose: tt.prevClose}
			p.ComputeChange()

			if p.PriceChange == nil {
				t.Fatal("PriceChange = nil, want value")
			}
			if !p.PriceChange.Equal(dec(tt.wantChange)) {
				t.Errorf("PriceChange = %s, want %s", p.PriceChange, tt.wantChange)
			}
			if p.PriceChangePercent == nil {
				t.Fatal("PriceChangePercent = nil, want value")
			}
			if !p.PriceChangePercent.Round(16).Equal(dec(tt.wantPercent)) {
				t.Errorf("PriceChangePercent = %s, want %s", p.PriceChangePercent, tt.wantPercent)
			}
		})
	}
}

func TestComputeChange_NoPreviousClose(t *testing.T) {
	tests := []struct {
		name      string
		prevClose *decimal.Decimal
	}{
		{name: "absent", prevClose: nil},
		{name: "zero", prevClose: decPtr("0")},
		{name: "negative", prevClose: decPtr("-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PricePoint{Price: dec("100"), PreviousClose: tt.prevClose}
			p.ComputeChange()

			if p.PriceChange != nil {
				t.Errorf("PriceChange = %s, want nil", p.PriceChange)
			}
			if p.PriceChangePercent != nil {
				t.Errorf("PriceChangePercent = %s, want nil", p.PriceChangePercent)
			}
		})
	}
}

// ComputeChange on a point that already carries stale derived values must
// clear them when the previous close is missing.
func TestComputeChange_ClearsStaleValues(t *testing.T) {
	p := PricePoint{
		Price:              dec("100"),
		PriceChange:        decPtr("3"),
		PriceChangePercent: decPtr("3"),
	}
	p.ComputeChange()

	if p.PriceChange != nil || p.PriceChangePercent != nil {
		t.Error("stale change values not cleared")
	}
}
