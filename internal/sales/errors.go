package sales

import (
	"errors"
	"fmt"
	"strings"

	"innovaclean/backend/internal/domain"
)

var (
	// ErrEmptyBatch rejects a commit with zero lines before any I/O.
	ErrEmptyBatch = errors.New("empty batch")
	// ErrEmptyReason rejects a cancellation without a stated reason.
	ErrEmptyReason = errors.New("cancellation reason required")
	// ErrAlreadyCancelled rejects a second cancellation; stock must never
	// be reversed twice.
	ErrAlreadyCancelled = errors.New("already cancelled")
	// ErrFolioCancelled blocks amendments of a cancelled folio.
	ErrFolioCancelled = errors.New("folio is cancelled")
	// ErrUnknownProduct marks a batch line whose SKU has no product.
	ErrUnknownProduct = errors.New("unknown product")
)

// Failure stages distinguish where a per-line operation broke down so the
// caller knows whether the row exists and whether stock moved.
const (
	StagePersist = "persist"
	StageStock   = "stock"
)

// LineFailure records one sale line the engine could not fully process.
type LineFailure struct {
	Index int    `json:"index"`
	SKU   string `json:"sku"`
	ID    string `json:"id,omitempty"`
	Stage string `json:"stage"`
	Err   error  `json:"-"`
}

func (f LineFailure) Error() string {
	return fmt.Sprintf("line %d (sku %s) failed at %s: %v", f.Index, f.SKU, f.Stage, f.Err)
}

// PartialCommitError reports a batch where some lines persisted and others
// did not. There is no multi-row transaction to roll back with, so the
// committed subset is returned for the caller to reconcile or selectively
// retry; it is never silently hidden.
type PartialCommitError struct {
	Folio     string
	Committed []domain.Sale
	Failures  []LineFailure
}

func (e *PartialCommitError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("folio %s partially committed (%d ok, %d failed): %s",
		e.Folio, len(e.Committed), len(e.Failures), strings.Join(parts, "; "))
}

// PartialCancelError reports a folio cancellation where some lines could
// not be reversed. Reversed lines are zeroed and flagged; listed lines
// keep their original state and can be retried individually.
type PartialCancelError struct {
	Folio    string
	Failures []LineFailure
}

func (e *PartialCancelError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("folio %s cancellation incomplete (%d lines failed): %s",
		e.Folio, len(e.Failures), strings.Join(parts, "; "))
}
