package pricing

import (
	"errors"
	"testing"

	"kasirinaja/terminal/internal/domain"
)

func saleLine(id string, price int64, qty int, discount domain.Discount) domain.CartLine {
	return domain.CartLine{ID: id, ProductID: "SKU-" + id, UnitPriceCents: price, Quantity: qty, Discount: discount}
}

func TestComputeOrderPercentageExample(t *testing.T) {
	lines := []domain.CartLine{
		saleLine("a", 4500, 1, domain.Discount{}),
		saleLine("b", 3200, 2, domain.Discount{}),
	}
	totals := Compute(lines, domain.Discount{Kind: domain.DiscountPercentage, Value: "10"})

	if totals.SubtotalCents != 10900 {
		t.Fatalf("expected subtotal 10900, got %d", totals.SubtotalCents)
	}
	if totals.OrderDiscountCents != 1090 {
		t.Fatalf("expected order discount 1090, got %d", totals.OrderDiscountCents)
	}
	if totals.TotalCents != 9810 {
		t.Fatalf("expected total 9810, got %d", totals.TotalCents)
	}
}

func TestComputeTwoStageDiscountIdentity(t *testing.T) {
	carts := []struct {
		lines []domain.CartLine
		order domain.Discount
	}{
		{
			lines: []domain.CartLine{
				saleLine("a", 12500, 3, domain.Discount{Kind: domain.DiscountPercentage, Value: "15"}),
				saleLine("b", 7999, 1, domain.Discount{Kind: domain.DiscountFixed, Value: "500"}),
			},
			order: domain.Discount{Kind: domain.DiscountPercentage, Value: "7.5"},
		},
		{
			lines: []domain.CartLine{
				saleLine("a", 2600, 10, domain.Discount{Kind: domain.DiscountFixed, Value: "1,000"}),
				{ID: "r", ProductID: "SKU-R", UnitPriceCents: 18900, Quantity: -1, IsReturn: true,
					Discount: domain.Discount{Kind: domain.DiscountPercentage, Value: "50"}},
			},
			order: domain.Discount{Kind: domain.DiscountFixed, Value: "250"},
		},
		{
			lines: []domain.CartLine{saleLine("a", 3333, 3, domain.Discount{Kind: domain.DiscountPercentage, Value: "33.3"})},
			order: domain.Discount{Kind: domain.DiscountPercentage, Value: "abc"},
		},
	}

	for i, c := range carts {
		totals := Compute(c.lines, c.order)
		if totals.TotalCents != totals.SubtotalCents-totals.ItemDiscountCents-totals.OrderDiscountCents {
			t.Fatalf("cart %d: total %d does not match stage sum", i, totals.TotalCents)
		}
		perLine := int64(0)
		for _, line := range c.lines {
			perLine += line.SubtotalCents() - ItemDiscountAmount(line)
		}
		if totals.TotalCents != perLine-totals.OrderDiscountCents {
			t.Fatalf("cart %d: total %d does not match per-line sum %d", i, totals.TotalCents, perLine-totals.OrderDiscountCents)
		}
	}
}

func TestItemDiscountsApplyBeforeOrderBase(t *testing.T) {
	lines := []domain.CartLine{saleLine("a", 10000, 1, domain.Discount{Kind: domain.DiscountFixed, Value: "2000"})}
	totals := Compute(lines, domain.Discount{Kind: domain.DiscountPercentage, Value: "10"})

	if totals.OrderDiscountCents != 800 {
		t.Fatalf("expected order discount on post-item base (800), got %d", totals.OrderDiscountCents)
	}
	if totals.TotalCents != 7200 {
		t.Fatalf("expected total 7200, got %d", totals.TotalCents)
	}
}

func TestReturnLinesReduceSubtotalWithoutDiscount(t *testing.T) {
	lines := []domain.CartLine{
		saleLine("a", 5000, 2, domain.Discount{}),
		{ID: "r", UnitPriceCents: 3000, Quantity: -1, IsReturn: true, Discount: domain.Discount{Kind: domain.DiscountFixed, Value: "999"}},
	}
	totals := Compute(lines, domain.Discount{})

	if totals.SubtotalCents != 7000 {
		t.Fatalf("expected subtotal 7000, got %d", totals.SubtotalCents)
	}
	if totals.ItemDiscountCents != 0 {
		t.Fatalf("expected return line discount ignored, got %d", totals.ItemDiscountCents)
	}
}

func TestRefundOnlyCartTakesNoOrderDiscount(t *testing.T) {
	lines := []domain.CartLine{{ID: "r", UnitPriceCents: 3000, Quantity: -2, IsReturn: true}}
	totals := Compute(lines, domain.Discount{Kind: domain.DiscountPercentage, Value: "10"})

	if totals.OrderDiscountCents != 0 || totals.TotalCents != -6000 {
		t.Fatalf("expected refund total -6000 without order discount, got %+v", totals)
	}
}

func TestParseDiscountValueIsLenient(t *testing.T) {
	cases := map[string]string{
		"":          "0",
		"   ":       "0",
		"10":        "10",
		"12.5":      "12.5",
		"20,000":    "20000",
		"Rp 20,000": "20000",
		"15%":       "15",
		"-5":        "0",
		"abc":       "0",
		"1e3":       "0",
		"10..5":     "0",
	}
	for raw, want := range cases {
		if got := ParseDiscountValue(raw).String(); got != want {
			t.Fatalf("ParseDiscountValue(%q): expected %s, got %s", raw, want, got)
		}
	}
}

func TestComputeDoesNotClampButValidateRejects(t *testing.T) {
	lines := []domain.CartLine{saleLine("a", 1000, 1, domain.Discount{Kind: domain.DiscountFixed, Value: "1500"})}
	totals := Compute(lines, domain.Discount{})
	if totals.TotalCents != -500 {
		t.Fatalf("expected unclamped total -500, got %d", totals.TotalCents)
	}
	if err := Validate(lines, domain.Discount{}); !errors.Is(err, domain.ErrExcessiveDiscount) {
		t.Fatalf("expected ErrExcessiveDiscount, got %v", err)
	}

	ok := []domain.CartLine{saleLine("a", 1000, 1, domain.Discount{Kind: domain.DiscountPercentage, Value: "100"})}
	if err := Validate(ok, domain.Discount{}); err != nil {
		t.Fatalf("expected full discount to be allowed, got %v", err)
	}
	if err := Validate(ok, domain.Discount{Kind: domain.DiscountFixed, Value: "1"}); err != nil {
		t.Fatalf("expected order discount on zero base to be ignored, got %v", err)
	}

	order := []domain.CartLine{saleLine("a", 1000, 1, domain.Discount{})}
	if err := Validate(order, domain.Discount{Kind: domain.DiscountFixed, Value: "1001"}); !errors.Is(err, domain.ErrExcessiveDiscount) {
		t.Fatalf("expected ErrExcessiveDiscount for order discount, got %v", err)
	}
}

func TestInclusiveTax(t *testing.T) {
	if got := InclusiveTax(11100, 11); got != 1100 {
		t.Fatalf("expected 1100 tax inside 11100 at 11%%, got %d", got)
	}
	if got := InclusiveTax(9810, 0); got != 0 {
		t.Fatalf("expected no tax at 0%%, got %d", got)
	}
	if got := InclusiveTax(-11100, 11); got != -1100 {
		t.Fatalf("expected negative tax on refund, got %d", got)
	}
}
