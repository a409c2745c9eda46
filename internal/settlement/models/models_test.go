package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitPrice(t *testing.T) {
	rate := decimal.RequireFromString("0.025")

	tests := []struct {
		price, fee, proceeds string
	}{
		{"100", "2.5", "97.5"},
		{"0", "0", "0"},
		{"1", "0.025", "0.975"},
		{"0.000000000000000001", "0", "0.000000000000000001"},
		{"33.333333333333333333", "0.833333333333333333", "32.5"},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			split := SplitPrice(decimal.RequireFromString(tt.price), rate)
			assert.True(t, decimal.RequireFromString(tt.fee).Equal(split.Fee), "fee %s", split.Fee)
			assert.True(t, decimal.RequireFromString(tt.proceeds).Equal(split.Proceeds), "proceeds %s", split.Proceeds)
			assert.True(t, split.Price.Equal(split.Fee.Add(split.Proceeds)))
		})
	}
}
