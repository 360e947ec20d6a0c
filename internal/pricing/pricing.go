// Package pricing selects the price tier for a requested quantity.
//
// The tier is a function of the current absolute quantity against the
// configured thresholds; it is recomputed whenever the quantity changes,
// never fixed at cart insertion time.
package pricing

import "innovaclean/backend/internal/domain"

// Default tier thresholds used when settings leave them unset.
const (
	DefaultMediumThreshold    = 6
	DefaultWholesaleThreshold = 12
)

// Thresholds are the minimum absolute quantities for the medium and
// wholesale tiers. Wholesale must be at least Medium, Medium at least 1.
type Thresholds struct {
	Medium    int
	Wholesale int
}

// DefaultThresholds returns the {6, 12} defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: DefaultMediumThreshold, Wholesale: DefaultWholesaleThreshold}
}

// Normalize replaces unusable threshold values with the defaults and
// enforces wholesale >= medium.
func (t Thresholds) Normalize() Thresholds {
	if t.Medium < 1 {
		t.Medium = DefaultMediumThreshold
	}
	if t.Wholesale < t.Medium {
		t.Wholesale = DefaultWholesaleThreshold
	}
	if t.Wholesale < t.Medium {
		t.Wholesale = t.Medium
	}
	return t
}

// Resolve maps the requested quantity to a tier and unit price for the
// product. Quantity sign is ignored: a correction for -3 pieces prices the
// same as a sale of 3.
func Resolve(product domain.Product, quantity int, thresholds Thresholds) (domain.PriceType, int64) {
	thresholds = thresholds.Normalize()

	q := quantity
	if q < 0 {
		q = -q
	}

	switch {
	case q >= thresholds.Wholesale:
		return domain.PriceWholesale, product.PriceWholesaleCents
	case q >= thresholds.Medium:
		return domain.PriceMedium, product.PriceMediumCents
	default:
		return domain.PriceRetail, product.PriceRetailCents
	}
}
