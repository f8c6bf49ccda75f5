package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPercentOf_RoundsHalfUp(t *testing.T) {
	assert.Equal(t, "400", PercentOf(d("999.99"), d("40")).String())
	assert.Equal(t, "0.01", PercentOf(d("0.05"), d("10")).String())
	assert.Equal(t, "0", PercentOf(d("0.04"), d("10")).String())
}

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name                  string
		base, rate, pct       string
		subtotal, disc, total string
	}{
		{"inr no discount", "1000", "1", "0", "1000", "0", "1000"},
		{"usd conversion", "1000", "0.012", "0", "12", "0", "12"},
		{"usd with coupon", "1000", "0.012", "40", "12", "4.8", "7.2"},
		{"rounding", "999.99", "0.0111", "33", "11.1", "3.66", "7.44"},
		{"full discount", "500", "1", "100", "500", "500", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeTotals(d(tt.base), d(tt.rate), d(tt.pct))
			assert.True(t, got.Subtotal.Equal(d(tt.subtotal)), "subtotal %s", got.Subtotal)
			assert.True(t, got.Discount.Equal(d(tt.disc)), "discount %s", got.Discount)
			assert.True(t, got.Total.Equal(d(tt.total)), "total %s", got.Total)
			assert.True(t, got.Subtotal.Sub(got.Discount).Equal(got.Total))
		})
	}
}

func TestOrderItem_DiscountedPrice(t *testing.T) {
	item := OrderItem{Price: d("12.00"), Quantity: 2}
	assert.True(t, item.DiscountedPrice(d("0")).Equal(d("24")))
	assert.True(t, item.DiscountedPrice(d("25")).Equal(d("18")))
}

func TestOrder_RequiresPayment(t *testing.T) {
	assert.False(t, (&Order{Total: decimal.Zero}).RequiresPayment())
	assert.True(t, (&Order{Total: d("0.01")}).RequiresPayment())
}
