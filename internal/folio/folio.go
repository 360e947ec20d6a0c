// Package folio produces the sequential human-readable identifier shared
// by every sale line created in one commit.
package folio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"innovaclean/backend/internal/store"
)

// MinWidth is the minimum zero-padded width of a folio string. Wider
// values are kept as-is; folios are never truncated.
const MinWidth = 5

// Sequencer yields the next folio. Implementations share one contract so
// callers can swap the legacy scan for the atomic counter without change.
type Sequencer interface {
	Next(ctx context.Context) (string, error)
}

// Format renders a folio number as a fixed-width zero-padded decimal.
func Format(n int64) string {
	return fmt.Sprintf("%0*d", MinWidth, n)
}

// Parse reads a folio string back into its numeric value.
func Parse(folio string) (int64, error) {
	folio = strings.TrimSpace(folio)
	if folio == "" {
		return 0, fmt.Errorf("empty folio")
	}
	n, err := strconv.ParseInt(folio, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed folio %q: %w", folio, err)
	}
	return n, nil
}

// MaxScan derives the next folio from the maximum persisted folio value.
// The maximum is used instead of a row count so cancelled or filtered rows
// never shrink the sequence.
//
// The read-then-compute round trip means two concurrent calls can observe
// the same maximum and hand out the same folio. Production wiring uses
// Counter instead; MaxScan remains for stores without a counter primitive.
type MaxScan struct {
	repo store.Repository
}

func NewMaxScan(repo store.Repository) *MaxScan {
	return &MaxScan{repo: repo}
}

func (s *MaxScan) Next(ctx context.Context) (string, error) {
	current, err := s.repo.MaxFolio(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Format(1), nil
		}
		return "", fmt.Errorf("read max folio: %w", err)
	}

	n, err := Parse(current)
	if err != nil {
		return "", err
	}
	return Format(n + 1), nil
}

// Counter reserves folio numbers from the store's atomic increment
// primitive, making the read-modify-write a single indivisible step.
type Counter struct {
	repo store.Repository
	name string
}

func NewCounter(repo store.Repository) *Counter {
	return &Counter{repo: repo, name: store.FolioCounter}
}

func (s *Counter) Next(ctx context.Context) (string, error) {
	n, err := s.repo.ReserveNext(ctx, s.name)
	if err != nil {
		return "", fmt.Errorf("reserve folio: %w", err)
	}
	return Format(n), nil
}
