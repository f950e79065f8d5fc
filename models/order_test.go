package models

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

func TestDeriveRefundStatus(t *testing.T) {
	cases := []struct {
		total    string
		refunded string
		want     OrderRefundStatus
	}{
		{"100", "0", OrderRefundStatusNone},
		{"100", "-1", OrderRefundStatusNone},
		{"100", "40", OrderRefundStatusPartial},
		{"100", "100", OrderRefundStatusFull},
		// within epsilon of the total still counts as fully refunded
		{"100", "99.996", OrderRefundStatusFull},
		{"100", "99.99", OrderRefundStatusPartial},
	}
	for _, tc := range cases {
		got := DeriveRefundStatus(dec(tc.total), dec(tc.refunded))
		if got != tc.want {
			t.Fatalf("total=%s refunded=%s: expected %s, got %s", tc.total, tc.refunded, tc.want, got)
		}
	}
}

func TestRemainingRefundable(t *testing.T) {
	order := Order{
		TotalAmount:         dec("150.50"),
		TotalRefundedAmount: dec("50.25"),
	}
	if got := order.RemainingRefundable(); got.Cmp(dec("100.25")) != 0 {
		t.Fatalf("expected remaining 100.25, got %s", got)
	}
}

func TestRefundTotals(t *testing.T) {
	input := NewRefund{
		OrderLocalId: "o-1",
		Items: []NewRefundItem{
			{ProductId: 1, Quantity: dec("2"), UnitPrice: dec("10.50")},
			{ProductId: 2, Quantity: dec("1"), UnitPrice: dec("3.25")},
		},
	}
	if got := input.TotalAmount(); got.Cmp(dec("24.25")) != 0 {
		t.Fatalf("expected refund total 24.25, got %s", got)
	}

	item := RefundedItem{Quantity: dec("3"), UnitPrice: dec("1.10")}
	if got := item.Amount(); got.Cmp(dec("3.30")) != 0 {
		t.Fatalf("expected line amount 3.30, got %s", got)
	}
}
