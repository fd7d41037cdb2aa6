package settlement

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StaticResolver resolves commission rates from in-memory tables:
// vendor-specific rate first, then category rate, then the platform default.
// The rate source is read-only from the settlement core's perspective.
type StaticResolver struct {
	VendorRates   map[uuid.UUID]decimal.Decimal
	CategoryRates map[string]decimal.Decimal
	DefaultRate   decimal.Decimal
}

func NewStaticResolver(defaultRate decimal.Decimal) *StaticResolver {
	return &StaticResolver{
		VendorRates:   make(map[uuid.UUID]decimal.Decimal),
		CategoryRates: make(map[string]decimal.Decimal),
		DefaultRate:   defaultRate,
	}
}

func (r *StaticResolver) WithVendorRate(vendorID uuid.UUID, rate decimal.Decimal) *StaticResolver {
	r.VendorRates[vendorID] = rate
	return r
}

func (r *StaticResolver) WithCategoryRate(category string, rate decimal.Decimal) *StaticResolver {
	r.CategoryRates[category] = rate
	return r
}

func (r *StaticResolver) RateFor(vendorID uuid.UUID, category string) decimal.Decimal {
	if rate, ok := r.VendorRates[vendorID]; ok {
		return rate
	}
	if rate, ok := r.CategoryRates[category]; ok {
		return rate
	}
	return r.DefaultRate
}
