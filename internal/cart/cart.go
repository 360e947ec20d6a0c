// Package cart stages prospective sale lines in memory before commit.
// Nothing here is persisted; the cart is discarded on commit or clear.
package cart

import (
	"errors"
	"fmt"
	"strings"

	"innovaclean/backend/internal/domain"
	"innovaclean/backend/internal/pricing"
	"innovaclean/backend/internal/xid"
)

var (
	ErrMissingCorrectionNote = errors.New("correction line requires a note")
	ErrLineNotFound          = errors.New("cart line not found")
	ErrZeroQuantity          = errors.New("quantity must be nonzero")
)

// Line is one uncommitted prospective sale. Quantity is negative for a
// correction/return entered directly in the cart.
type Line struct {
	ID             string
	SKU            string
	ProductName    string
	Unit           string
	Quantity       int
	PriceType      domain.PriceType
	PriceUnitCents int64
	AmountCents    int64
	IsCorrection   bool
	CorrectionNote string
	ClientName     string
}

// Cart is an ordered staging collection keyed by (SKU, correction flag):
// repeated entries of the same product and mode merge by summing quantity
// and amount, while sale and correction entries of one SKU stay separate.
// It belongs to a single cashier session and is not safe for concurrent use.
type Cart struct {
	thresholds pricing.Thresholds
	lines      []Line
}

func New(thresholds pricing.Thresholds) *Cart {
	return &Cart{thresholds: thresholds.Normalize()}
}

// Add stages quantity units of the product, pricing them by the tier the
// merged quantity resolves to. Correction mode forces the quantity
// negative and requires a note before Validate passes.
func (c *Cart) Add(product domain.Product, quantity int, correction bool, note string) (Line, error) {
	if quantity == 0 {
		return Line{}, ErrZeroQuantity
	}
	if quantity < 0 {
		quantity = -quantity
	}
	if correction {
		quantity = -quantity
	}

	for i := range c.lines {
		if c.lines[i].SKU == product.SKU && c.lines[i].IsCorrection == correction {
			return c.reprice(i, product, c.lines[i].Quantity+quantity), nil
		}
	}

	tier, unit := pricing.Resolve(product, quantity, c.thresholds)
	line := Line{
		ID:             xid.New("line"),
		SKU:            product.SKU,
		ProductName:    product.Name,
		Unit:           product.Unit,
		Quantity:       quantity,
		PriceType:      tier,
		PriceUnitCents: unit,
		AmountCents:    unit * int64(quantity),
		IsCorrection:   correction,
		CorrectionNote: strings.TrimSpace(note),
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// UpdateQuantity revises a staged line's quantity. The pricing tier is a
// function of the current quantity, so it is resolved again here rather
// than kept from insertion time.
func (c *Cart) UpdateQuantity(id string, product domain.Product, quantity int) (Line, error) {
	if quantity == 0 {
		return Line{}, ErrZeroQuantity
	}
	if quantity < 0 {
		quantity = -quantity
	}
	for i := range c.lines {
		if c.lines[i].ID != id {
			continue
		}
		// Sign follows the line's mode, exactly as in Add.
		if c.lines[i].IsCorrection {
			quantity = -quantity
		}
		return c.reprice(i, product, quantity), nil
	}
	return Line{}, fmt.Errorf("%w: %s", ErrLineNotFound, id)
}

func (c *Cart) reprice(i int, product domain.Product, quantity int) Line {
	tier, unit := pricing.Resolve(product, quantity, c.thresholds)
	c.lines[i].Quantity = quantity
	c.lines[i].PriceType = tier
	c.lines[i].PriceUnitCents = unit
	c.lines[i].AmountCents = unit * int64(quantity)
	return c.lines[i]
}

func (c *Cart) Remove(id string) error {
	for i := range c.lines {
		if c.lines[i].ID == id {
			c.lines = append(c.lines[:i], c.lines[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrLineNotFound, id)
}

// Lines returns a copy of the staged lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *Cart) Len() int { return len(c.lines) }

func (c *Cart) TotalCents() int64 {
	var total int64
	for _, line := range c.lines {
		total += line.AmountCents
	}
	return total
}

// Validate rejects commit of any correction line without a note.
func (c *Cart) Validate() error {
	for _, line := range c.lines {
		if line.IsCorrection && strings.TrimSpace(line.CorrectionNote) == "" {
			return fmt.Errorf("%w: sku %s", ErrMissingCorrectionNote, line.SKU)
		}
	}
	return nil
}

// Clear discards all staged lines.
func (c *Cart) Clear() {
	c.lines = nil
}
