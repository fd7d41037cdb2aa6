// Package settlement derives commission and per-vendor payout breakdowns
// from order items. Calculate is pure and deterministic: it is re-run on
// every save, so identical inputs must produce identical outputs.
package settlement

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/nikolayk812/marketcore/internal/domain"
)

// CommissionResolver returns the commission rate (percent) for a vendor
// selling in a category.
type CommissionResolver interface {
	RateFor(vendorID uuid.UUID, category string) decimal.Decimal
}

// Result is the settlement breakdown of an order's items.
type Result struct {
	Subtotal      domain.Money
	VendorAmounts []domain.VendorAmount
}

// Calculate groups items by vendor and splits each vendor's gross subtotal
// into commission and payout. Commission is computed on item subtotals
// only; tax, shipping and discounts are order-level and stay outside the
// split.
//
// Each vendor's commission is rounded independently to the currency minor
// unit. The rounding residual against the exact subtotal is folded into the
// largest vendor's payout so that commission + payout always partitions the
// subtotal to the cent.
func Calculate(items []domain.OrderItem, resolver CommissionResolver) (Result, error) {
	var res Result

	if len(items) == 0 {
		return res, domain.ValidationError{Field: "items", Reason: "no items to settle"}
	}
	if resolver == nil {
		return res, domain.ValidationError{Field: "resolver", Reason: "must not be nil"}
	}

	currencyUnit := items[0].UnitPrice.Currency
	for _, item := range items {
		if item.UnitPrice.Currency.String() != currencyUnit.String() {
			return res, domain.ValidationError{Field: "items", Reason: "mixed currencies in one settlement"}
		}
		if item.Quantity < 1 {
			return res, domain.ValidationError{Field: "items", Reason: fmt.Sprintf("item %s: quantity must be >= 1", item.ProductID)}
		}
	}

	grouped := lo.GroupBy(items, func(item domain.OrderItem) uuid.UUID {
		return item.VendorID
	})

	// Deterministic vendor order regardless of input ordering.
	vendorIDs := lo.Keys(grouped)
	sort.Slice(vendorIDs, func(i, j int) bool {
		return vendorIDs[i].String() < vendorIDs[j].String()
	})

	subtotal := decimal.Zero
	amounts := make([]domain.VendorAmount, 0, len(vendorIDs))

	for _, vendorID := range vendorIDs {
		vendorItems := grouped[vendorID]

		vendorSubtotal := decimal.Zero
		for _, item := range vendorItems {
			vendorSubtotal = vendorSubtotal.Add(item.LineTotal().Amount)
		}

		// The rate may be vendor- or category-specific; the resolver falls
		// back to the platform-wide default. Category is taken from the
		// vendor's first item: one vendor sub-order settles as a unit.
		rate := resolver.RateFor(vendorID, vendorItems[0].Category)
		if rate.IsNegative() {
			return res, domain.ValidationError{
				Field:  "rate",
				Reason: fmt.Sprintf("vendor %s: negative commission rate %s", vendorID, rate),
			}
		}

		// Money.Percent owns the commission rounding; the payout is the
		// remainder, so the pair always partitions the vendor subtotal.
		vendorGross := domain.NewMoney(vendorSubtotal, currencyUnit)
		commission := vendorGross.Percent(rate)
		payout, _ := vendorGross.Sub(commission)

		amounts = append(amounts, domain.VendorAmount{
			VendorID:   vendorID,
			Rate:       rate,
			Subtotal:   vendorGross,
			Commission: commission,
			Payout:     payout,
		})

		subtotal = subtotal.Add(vendorSubtotal)
	}

	reconcileResidual(amounts, subtotal)

	return Result{
		Subtotal:      domain.NewMoney(subtotal, currencyUnit),
		VendorAmounts: amounts,
	}, nil
}

// reconcileResidual adjusts the largest vendor's payout by the +/- 0.01
// left over from independent per-vendor rounding, so small orders never
// bias any single small vendor.
func reconcileResidual(amounts []domain.VendorAmount, subtotal decimal.Decimal) {
	split := decimal.Zero
	for _, va := range amounts {
		split = split.Add(va.Commission.Amount).Add(va.Payout.Amount)
	}

	residual := subtotal.Sub(split)
	if residual.IsZero() {
		return
	}

	largest := 0
	for i := 1; i < len(amounts); i++ {
		if amounts[i].Subtotal.Amount.GreaterThan(amounts[largest].Subtotal.Amount) {
			largest = i
		}
	}

	amounts[largest].Payout.Amount = amounts[largest].Payout.Amount.Add(residual)
}

// BuildPricing assembles the order-level pricing block around a settlement
// result. The grand total applies tax, shipping and discounts on top of the
// item subtotal.
func BuildPricing(res Result, discount, coupon, tax, shipping, insurance, handling domain.Money) (domain.Pricing, error) {
	pricing := domain.Pricing{
		Subtotal:       res.Subtotal,
		Discount:       discount,
		CouponDiscount: coupon,
		Tax:            tax,
		Shipping:       shipping,
		Insurance:      insurance,
		Handling:       handling,
		VendorAmounts:  res.VendorAmounts,
	}

	total, err := pricing.ComputeTotal()
	if err != nil {
		return domain.Pricing{}, fmt.Errorf("pricing.ComputeTotal: %w", err)
	}
	pricing.Total = total

	return pricing, nil
}

// PlatformShare sums commissions, VendorShare sums payouts: together they
// feed the payment's distribution block.
func PlatformShare(res Result) domain.Money {
	share := domain.ZeroMoney(res.Subtotal.Currency)
	for _, va := range res.VendorAmounts {
		share, _ = share.Add(va.Commission)
	}
	return share
}

func VendorShare(res Result) domain.Money {
	share := domain.ZeroMoney(res.Subtotal.Currency)
	for _, va := range res.VendorAmounts {
		share, _ = share.Add(va.Payout)
	}
	return share
}
