// Package sales turns a staged cart into a durable, uniquely numbered
// folio, keeps stock and sale records mutually consistent, and supports
// reversal while preserving the audit trail.
package sales

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"innovaclean/backend/internal/cache"
	"innovaclean/backend/internal/cart"
	"innovaclean/backend/internal/domain"
	"innovaclean/backend/internal/folio"
	"innovaclean/backend/internal/ledger"
	"innovaclean/backend/internal/pricing"
	"innovaclean/backend/internal/store"
	"innovaclean/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Engine composes the folio sequencer, stock ledger and record store.
type Engine struct {
	repo       store.Repository
	stock      ledger.Ledger
	seq        folio.Sequencer
	thresholds pricing.Thresholds
	snapshots  cache.StockCache
	version    atomic.Int64
}

func New(repo store.Repository, stock ledger.Ledger, seq folio.Sequencer, thresholds pricing.Thresholds, snapshots cache.StockCache) *Engine {
	if snapshots == nil {
		snapshots = cache.NoopStockCache{}
	}
	return &Engine{
		repo:       repo,
		stock:      stock,
		seq:        seq,
		thresholds: thresholds.Normalize(),
		snapshots:  snapshots,
	}
}

// Thresholds returns the tier configuration carts should price against.
func (e *Engine) Thresholds() pricing.Thresholds {
	return e.thresholds
}

// NewCart builds a staging cart priced with the engine's thresholds.
func (e *Engine) NewCart() *cart.Cart {
	return cart.New(e.thresholds)
}

// CommitResult reports the outcome of a batch commit: the folio shared by
// all lines, the persisted line records, and the confirmed stock value per
// SKU for caller-side cache refresh.
type CommitResult struct {
	Folio      string         `json:"folio"`
	Lines      []domain.Sale  `json:"lines"`
	TotalCents int64          `json:"total_cents"`
	StockBySKU map[string]int `json:"stock_by_sku"`
}

// CommitBatch persists the staged lines as one folio and applies the stock
// deltas. A negative quantity (a correction entered in the cart) increases
// stock. A SKU appearing twice gets sequential cumulative deltas, not one
// merged delta. Per-line failures do not roll back earlier lines; they are
// reported through PartialCommitError with the committed subset.
func (e *Engine) CommitBatch(ctx context.Context, lines []cart.Line, clientID string) (CommitResult, error) {
	if len(lines) == 0 {
		return CommitResult{}, ErrEmptyBatch
	}
	for _, line := range lines {
		if line.IsCorrection && strings.TrimSpace(line.CorrectionNote) == "" {
			return CommitResult{}, fmt.Errorf("%w: sku %s", cart.ErrMissingCorrectionNote, line.SKU)
		}
	}

	skus := make([]string, 0, len(lines))
	for _, line := range lines {
		skus = append(skus, line.SKU)
	}
	products, err := e.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return CommitResult{}, fmt.Errorf("load products: %w", err)
	}
	for _, line := range lines {
		if _, ok := products[line.SKU]; !ok {
			return CommitResult{}, fmt.Errorf("%w: %s", ErrUnknownProduct, line.SKU)
		}
	}

	clientID, clientName := e.resolveClient(ctx, clientID)
	seller, _ := ActorFromContext(ctx)

	// One folio for the whole batch, not per line.
	batchFolio, err := e.seq.Next(ctx)
	if err != nil {
		return CommitResult{}, fmt.Errorf("assign folio: %w", err)
	}

	now := time.Now().UTC()
	result := CommitResult{
		Folio:      batchFolio,
		Lines:      make([]domain.Sale, 0, len(lines)),
		StockBySKU: make(map[string]int, len(lines)),
	}
	var failures []LineFailure

	for i, line := range lines {
		product := products[line.SKU]
		sale := domain.Sale{
			Folio:          batchFolio,
			Date:           now,
			SKU:            line.SKU,
			ProductName:    firstNonEmpty(line.ProductName, product.Name),
			Unit:           firstNonEmpty(line.Unit, product.Unit),
			Quantity:       line.Quantity,
			PriceType:      line.PriceType,
			PriceUnitCents: line.PriceUnitCents,
			AmountCents:    line.PriceUnitCents * int64(line.Quantity),
			SellerID:       seller.ID,
			SellerName:     firstNonEmpty(seller.Name, "Vendedor Sistema"),
			ClientID:       clientID,
			ClientName:     firstNonEmpty(line.ClientName, clientName),
			IsCorrection:   line.IsCorrection,
			CorrectionNote: line.CorrectionNote,
		}

		persisted, err := e.repo.InsertSale(ctx, sale)
		if err != nil {
			log.Printf("[sales] line %d folio=%s sku=%s insert failed: %v", i, batchFolio, line.SKU, err)
			failures = append(failures, LineFailure{Index: i, SKU: line.SKU, Stage: StagePersist, Err: err})
			continue
		}
		result.Lines = append(result.Lines, *persisted)
		result.TotalCents += persisted.AmountCents

		// delta = -quantity: a correction's negative quantity increases stock.
		newStock, err := e.stock.ApplyDelta(ctx, line.SKU, -line.Quantity)
		if err != nil {
			log.Printf("[sales] line %d folio=%s sku=%s stock delta failed: %v", i, batchFolio, line.SKU, err)
			failures = append(failures, LineFailure{Index: i, SKU: line.SKU, ID: persisted.ID, Stage: StageStock, Err: err})
			continue
		}
		result.StockBySKU[line.SKU] = newStock
		e.refreshSnapshot(ctx, line.SKU, newStock)
	}

	e.audit(ctx, "sale_commit", "folio", batchFolio,
		fmt.Sprintf("lines=%d,total=%d,client=%s,failed=%d", len(result.Lines), result.TotalCents, clientID, len(failures)))

	if len(failures) > 0 {
		return result, &PartialCommitError{Folio: batchFolio, Committed: result.Lines, Failures: failures}
	}
	return result, nil
}

// resolveClient applies the name precedence: explicit line value (handled
// by the caller), then lookup by id, then the walk-in label.
func (e *Engine) resolveClient(ctx context.Context, clientID string) (string, string) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = domain.GeneralClientID
	}
	client, err := e.repo.GetClientByID(ctx, clientID)
	if err != nil {
		return clientID, domain.GeneralClientName
	}
	return client.ID, client.Name
}

// CancelFolio reverses every nonzero line of the folio and rewrites the
// lines to a zeroed, flagged state. Lines whose stock reversal fails keep
// their original state and are reported so the caller can retry them one
// by one; stock is never double-reversed.
func (e *Engine) CancelFolio(ctx context.Context, folioID string, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrEmptyReason
	}

	lines, err := e.repo.ListSalesByFolio(ctx, folioID)
	if err != nil {
		return fmt.Errorf("load folio %s: %w", folioID, err)
	}
	if len(lines) == 0 {
		return fmt.Errorf("folio %s: %w", folioID, store.ErrNotFound)
	}
	for _, line := range lines {
		if strings.Contains(line.CorrectionNote, domain.FolioCancelMarker) {
			return fmt.Errorf("folio %s: %w", folioID, ErrAlreadyCancelled)
		}
	}

	note := fmt.Sprintf("%s: %s", domain.FolioCancelMarker, reason)
	var failures []LineFailure

	for i, line := range lines {
		if line.Quantity == 0 && line.AmountCents == 0 {
			// Nothing to reverse; flagged after the reversal pass.
			continue
		}

		// Reverse before mutating: +quantity undoes the commit delta,
		// including reversal of returns (negative original quantity).
		newStock, err := e.stock.ApplyDelta(ctx, line.SKU, line.Quantity)
		if err != nil {
			log.Printf("[sales] folio=%s line=%s reversal failed: %v", folioID, line.ID, err)
			failures = append(failures, LineFailure{Index: i, SKU: line.SKU, ID: line.ID, Stage: StageStock, Err: err})
			continue
		}
		e.refreshSnapshot(ctx, line.SKU, newStock)

		if err := e.repo.UpdateSale(ctx, line.ID, zeroPatch(note)); err != nil {
			log.Printf("[sales] folio=%s line=%s zeroing failed: %v", folioID, line.ID, err)
			failures = append(failures, LineFailure{Index: i, SKU: line.SKU, ID: line.ID, Stage: StagePersist, Err: err})
		}
	}

	if len(failures) > 0 {
		return &PartialCancelError{Folio: folioID, Failures: failures}
	}

	// Flag the already-zero lines too so the whole folio carries the
	// marker. A line cancelled individually keeps its own note; the folio
	// marker is appended rather than overwriting the audit detail.
	for _, line := range lines {
		if line.Quantity != 0 || line.AmountCents != 0 {
			continue
		}
		lineNote := note
		if existing := strings.TrimSpace(line.CorrectionNote); existing != "" {
			lineNote = existing + " | " + note
		}
		if err := e.repo.UpdateSale(ctx, line.ID, flagPatch(lineNote)); err != nil {
			return fmt.Errorf("flag folio %s line %s: %w", folioID, line.ID, err)
		}
	}

	e.audit(ctx, "folio_cancel", "folio", folioID, reason)
	return nil
}

// CancelLine reverses and zeroes one sale line.
func (e *Engine) CancelLine(ctx context.Context, id string, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrEmptyReason
	}

	line, err := e.repo.GetSaleByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load sale %s: %w", id, err)
	}
	if line.Cancelled() || (line.Quantity == 0 && line.AmountCents == 0) {
		return fmt.Errorf("sale %s: %w", id, ErrAlreadyCancelled)
	}

	newStock, err := e.stock.ApplyDelta(ctx, line.SKU, line.Quantity)
	if err != nil {
		return fmt.Errorf("reverse stock for sale %s: %w", id, err)
	}
	e.refreshSnapshot(ctx, line.SKU, newStock)

	note := fmt.Sprintf("%s: %s (Original Qty: %d)", domain.LineCancelMarker, reason, line.Quantity)
	if err := e.repo.UpdateSale(ctx, id, zeroPatch(note)); err != nil {
		return fmt.Errorf("zero sale %s: %w", id, err)
	}

	e.audit(ctx, "sale_cancel", "sale", id, reason)
	return nil
}

// AmendFolioDate moves every line of the folio to the new date. No stock
// or total side effects. Cancelled folios are immutable to amendments.
func (e *Engine) AmendFolioDate(ctx context.Context, folioID string, date time.Time) error {
	if err := e.requireAmendable(ctx, folioID); err != nil {
		return err
	}

	utc := date.UTC()
	if _, err := e.repo.UpdateFolio(ctx, folioID, domain.SalePatch{Date: &utc}); err != nil {
		return fmt.Errorf("amend folio %s date: %w", folioID, err)
	}

	e.audit(ctx, "folio_amend_date", "folio", folioID, utc.Format(time.RFC3339))
	return nil
}

// AmendFolioClient reassigns every line of the folio to the client. The
// stored name snapshot is refreshed from the explicit name when given,
// else from the client record, else the walk-in label.
func (e *Engine) AmendFolioClient(ctx context.Context, folioID string, clientID string, clientName string) error {
	if err := e.requireAmendable(ctx, folioID); err != nil {
		return err
	}

	clientName = strings.TrimSpace(clientName)
	if clientName == "" {
		clientID, clientName = e.resolveClient(ctx, clientID)
	}

	if _, err := e.repo.UpdateFolio(ctx, folioID, domain.SalePatch{ClientID: &clientID, ClientName: &clientName}); err != nil {
		return fmt.Errorf("amend folio %s client: %w", folioID, err)
	}

	e.audit(ctx, "folio_amend_client", "folio", folioID, fmt.Sprintf("client=%s,name=%s", clientID, clientName))
	return nil
}

func (e *Engine) requireAmendable(ctx context.Context, folioID string) error {
	lines, err := e.repo.ListSalesByFolio(ctx, folioID)
	if err != nil {
		return fmt.Errorf("load folio %s: %w", folioID, err)
	}
	if len(lines) == 0 {
		return fmt.Errorf("folio %s: %w", folioID, store.ErrNotFound)
	}
	for _, line := range lines {
		if strings.Contains(line.CorrectionNote, domain.FolioCancelMarker) {
			return fmt.Errorf("folio %s: %w", folioID, ErrFolioCancelled)
		}
	}
	return nil
}

// GetFolio returns the derived folio group.
func (e *Engine) GetFolio(ctx context.Context, folioID string) (domain.FolioGroup, error) {
	lines, err := e.repo.ListSalesByFolio(ctx, folioID)
	if err != nil {
		return domain.FolioGroup{}, err
	}
	if len(lines) == 0 {
		return domain.FolioGroup{}, fmt.Errorf("folio %s: %w", folioID, store.ErrNotFound)
	}
	return domain.GroupSales(lines)[0], nil
}

// ListFolios returns the derived folio groups matching the filter.
func (e *Engine) ListFolios(ctx context.Context, filter store.SaleFilter) ([]domain.FolioGroup, error) {
	lines, err := e.repo.ListSales(ctx, filter)
	if err != nil {
		return nil, err
	}
	return domain.GroupSales(lines), nil
}

// AddPurchase records a stock-increasing event and applies its delta.
func (e *Engine) AddPurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.Purchase, error) {
	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	if req.SKU == "" || req.Quantity < 1 || req.CostUnitCents < 0 {
		return domain.Purchase{}, store.ErrInvalidRecord
	}

	product, err := e.repo.GetProductBySKU(ctx, req.SKU)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Purchase{}, fmt.Errorf("%w: %s", ErrUnknownProduct, req.SKU)
		}
		return domain.Purchase{}, err
	}

	actor, _ := ActorFromContext(ctx)
	purchase := domain.Purchase{
		Date:           time.Now().UTC(),
		SKU:            req.SKU,
		ProductName:    product.Name,
		Quantity:       req.Quantity,
		CostUnitCents:  req.CostUnitCents,
		CostTotalCents: req.CostUnitCents * int64(req.Quantity),
		Supplier:       strings.TrimSpace(req.Supplier),
		Notes:          strings.TrimSpace(req.Notes),
		UserID:         actor.ID,
		UserName:       actor.Name,
	}

	persisted, err := e.repo.InsertPurchase(ctx, purchase)
	if err != nil {
		return domain.Purchase{}, fmt.Errorf("insert purchase: %w", err)
	}

	newStock, err := e.stock.ApplyDelta(ctx, req.SKU, req.Quantity)
	if err != nil {
		return *persisted, fmt.Errorf("purchase %s persisted but stock delta failed: %w", persisted.ID, err)
	}
	e.refreshSnapshot(ctx, req.SKU, newStock)

	e.audit(ctx, "purchase_add", "purchase", persisted.ID, fmt.Sprintf("sku=%s,qty=%d", req.SKU, req.Quantity))
	return *persisted, nil
}

// UpdatePurchase revises a purchase; a quantity change applies the inverse
// delta so stock keeps matching the recorded movements.
func (e *Engine) UpdatePurchase(ctx context.Context, id string, req domain.PurchaseUpdateRequest) (domain.Purchase, error) {
	prev, err := e.repo.GetPurchaseByID(ctx, id)
	if err != nil {
		return domain.Purchase{}, err
	}

	updated := *prev
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return domain.Purchase{}, store.ErrInvalidRecord
		}
		updated.Quantity = *req.Quantity
	}
	if req.CostUnitCents != nil {
		if *req.CostUnitCents < 0 {
			return domain.Purchase{}, store.ErrInvalidRecord
		}
		updated.CostUnitCents = *req.CostUnitCents
	}
	if req.Supplier != nil {
		updated.Supplier = strings.TrimSpace(*req.Supplier)
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	updated.CostTotalCents = updated.CostUnitCents * int64(updated.Quantity)

	if err := e.repo.UpdatePurchase(ctx, id, updated); err != nil {
		return domain.Purchase{}, fmt.Errorf("update purchase %s: %w", id, err)
	}

	if diff := updated.Quantity - prev.Quantity; diff != 0 {
		newStock, err := e.stock.ApplyDelta(ctx, prev.SKU, diff)
		if err != nil {
			return updated, fmt.Errorf("purchase %s updated but stock delta failed: %w", id, err)
		}
		e.refreshSnapshot(ctx, prev.SKU, newStock)
	}

	e.audit(ctx, "purchase_update", "purchase", id, fmt.Sprintf("sku=%s,qty=%d", updated.SKU, updated.Quantity))
	return updated, nil
}

// DeletePurchase removes the record and reverses its full stock delta.
func (e *Engine) DeletePurchase(ctx context.Context, id string) error {
	purchase, err := e.repo.GetPurchaseByID(ctx, id)
	if err != nil {
		return err
	}

	if err := e.repo.DeletePurchase(ctx, id); err != nil {
		return fmt.Errorf("delete purchase %s: %w", id, err)
	}

	newStock, err := e.stock.ApplyDelta(ctx, purchase.SKU, -purchase.Quantity)
	if err != nil {
		return fmt.Errorf("purchase %s deleted but stock reversal failed: %w", id, err)
	}
	e.refreshSnapshot(ctx, purchase.SKU, newStock)

	e.audit(ctx, "purchase_delete", "purchase", id, fmt.Sprintf("sku=%s,qty=%d", purchase.SKU, purchase.Quantity))
	return nil
}

func (e *Engine) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 200
	}
	return e.repo.ListPurchases(ctx, limit)
}

// StockFor reports the cached stock snapshot when present, falling back to
// the store. The cache only ever holds confirmed ledger results.
func (e *Engine) StockFor(ctx context.Context, sku string) (int, error) {
	if snapshot, found, err := e.snapshots.Get(ctx, sku); err == nil && found {
		return snapshot.Qty, nil
	}
	return e.repo.GetStock(ctx, sku)
}

func (e *Engine) refreshSnapshot(ctx context.Context, sku string, qty int) {
	err := e.snapshots.Put(ctx, domain.StockSnapshot{
		SKU:       sku,
		Qty:       qty,
		Version:   e.version.Add(1),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[sales] WARN: stock snapshot for %s not cached: %v", sku, err)
	}
}

func (e *Engine) audit(ctx context.Context, action, entityType, entityID, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := e.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[sales] WARN: audit %s %s=%s not recorded: %v", action, entityType, entityID, err)
	}
}

func zeroPatch(note string) domain.SalePatch {
	zeroQty := 0
	zeroAmount := int64(0)
	flagged := true
	return domain.SalePatch{
		Quantity:       &zeroQty,
		AmountCents:    &zeroAmount,
		IsCorrection:   &flagged,
		CorrectionNote: &note,
	}
}

func flagPatch(note string) domain.SalePatch {
	flagged := true
	return domain.SalePatch{
		IsCorrection:   &flagged,
		CorrectionNote: &note,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
