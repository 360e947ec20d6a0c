package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"innovaclean/backend/internal/cart"
	"innovaclean/backend/internal/domain"
	"innovaclean/backend/internal/folio"
	"innovaclean/backend/internal/ledger"
	"innovaclean/backend/internal/pricing"
	"innovaclean/backend/internal/store"
	"innovaclean/backend/internal/store/memory"
)

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	repo := memory.New()
	if _, err := repo.CreateProduct(context.Background(), domain.Product{
		SKU:                 "DES-01",
		Name:                "Desengrasante Industrial 1L",
		Category:            "limpieza",
		Unit:                "Litro",
		PriceRetailCents:    1000,
		PriceMediumCents:    800,
		PriceWholesaleCents: 600,
		CostCents:           400,
		StockInitial:        100,
		StockCurrent:        100,
		Active:              true,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	engine := New(repo, ledger.NewAtomic(repo), folio.NewCounter(repo), pricing.Thresholds{}, nil)
	return engine, repo
}

func sellerCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		ID: "user-1", Username: "vendedor", Name: "Vendedor Mostrador", Role: domain.RoleSeller,
	})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		ID: "user-0", Username: "admin", Name: "Administrador", Role: domain.RoleAdmin,
	})
}

func stageLine(t *testing.T, e *Engine, ctx context.Context, sku string, qty int, correction bool, note string) []cart.Line {
	t.Helper()
	staged := e.NewCart()
	product, err := e.GetProduct(ctx, sku)
	if err != nil {
		t.Fatalf("load product %s: %v", sku, err)
	}
	if _, err := staged.Add(product, qty, correction, note); err != nil {
		t.Fatalf("stage %s: %v", sku, err)
	}
	return staged.Lines()
}

func TestCommitBatchWholesaleTier(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := sellerCtx()

	result, err := engine.CommitBatch(ctx, stageLine(t, engine, ctx, "DES-01", 12, false, ""), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if result.Folio != "00001" {
		t.Fatalf("expected first folio 00001, got %s", result.Folio)
	}
	if len(result.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(result.Lines))
	}
	line := result.Lines[0]
	if line.PriceType != domain.PriceWholesale {
		t.Fatalf("expected wholesale tier at qty 12, got %s", line.PriceType)
	}
	if line.AmountCents != 7200 {
		t.Fatalf("expected amount 7200, got %d", line.AmountCents)
	}
	if result.TotalCents != 7200 {
		t.Fatalf("expected total 7200, got %d", result.TotalCents)
	}
	if line.ClientName != domain.GeneralClientName {
		t.Fatalf("expected walk-in client fallback, got %q", line.ClientName)
	}

	stock, err := repo.GetStock(context.Background(), "DES-01")
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	if stock != 88 {
		t.Fatalf("expected stock 88 after selling 12 of 100, got %d", stock)
	}
}

func TestCommitCorrectionIncreasesStock(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := sellerCtx()

	result, err := engine.CommitBatch(ctx, stageLine(t, engine, ctx, "DES-01", 3, true, "devolución por defecto"), "")
	if err != nil {
		t.Fatalf("commit correction: %v", err)
	}

	line := result.Lines[0]
	if line.Quantity != -3 {
		t.Fatalf("expected correction quantity -3, got %d", line.Quantity)
	}
	if line.AmountCents != -3000 {
		t.Fatalf("expected amount -3000 at retail price, got %d", line.AmountCents)
	}
	if !line.IsCorrection {
		t.Fatalf("expected correction flag set")
	}

	stock, _ := repo.GetStock(context.Background(), "DES-01")
	if stock != 103 {
		t.Fatalf("expected stock 103 after -3 correction, got %d", stock)
	}
}

func TestCommitCorrectionWithoutNoteRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := sellerCtx()

	product, _ := engine.GetProduct(ctx, "DES-01")
	lines := []cart.Line{{
		SKU: product.SKU, ProductName: product.Name, Quantity: -2,
		PriceType: domain.PriceRetail, PriceUnitCents: product.PriceRetailCents,
		IsCorrection: true,
	}}
	_, err := engine.CommitBatch(ctx, lines, "")
	if !errors.Is(err, cart.ErrMissingCorrectionNote) {
		t.Fatalf("expected missing note rejection, got %v", err)
	}
}

func TestCommitEmptyBatchRejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.CommitBatch(sellerCtx(), nil, ""); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestCommitUnknownProductRejectedBeforeFolio(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := sellerCtx()

	lines := []cart.Line{{SKU: "NOPE-99", Quantity: 1, PriceUnitCents: 100}}
	if _, err := engine.CommitBatch(ctx, lines, ""); !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}

	// The rejected batch must not have consumed a folio number.
	result, err := engine.CommitBatch(ctx, stageLine(t, engine, ctx, "DES-01", 1, false, ""), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Folio != "00001" {
		t.Fatalf("expected folio 00001 after rejected batch, got %s", result.Folio)
	}
}

func TestDuplicateSKUAppliesSequentialDeltas(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := sellerCtx()

	product, _ := engine.GetProduct(ctx, "DES-01")
	lines := []cart.Line{
		{SKU: product.SKU, ProductName: product.Name, Quantity: 4, PriceType: domain.PriceRetail, PriceUnitCents: 1000},
		{SKU: product.SKU, ProductName: product.Name, Quantity: 3, PriceType: domain.PriceRetail, PriceUnitCents: 1000},
	}
	result, err := engine.CommitBatch(ctx, lines, "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(result.Lines) != 2 {
		t.Fatalf("expected both lines persisted, got %d", len(result.Lines))
	}
	if result.Lines[0].Folio != result.Lines[1].Folio {
		t.Fatalf("expected one folio for the batch")
	}

	stock, _ := repo.GetStock(context.Background(), "DES-01")
	if stock != 93 {
		t.Fatalf("expected stock 93 after 4+3 units, got %d", stock)
	}
	if result.StockBySKU["DES-01"] != 93 {
		t.Fatalf("expected confirmed stock 93 in result, got %d", result.StockBySKU["DES-01"])
	}
}

func TestFolioTotalMatchesLineSum(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := sellerCtx()

	staged := engine.NewCart()
	product, _ := engine.GetProduct(ctx, "DES-01")
	if _, err := staged.Add(product, 7, false, ""); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := staged.Add(product, 2, true, "ajuste"); err != nil {
		t.Fatalf("stage correction: %v", err)
	}

	result, err := engine.CommitBatch(ctx, staged.Lines(), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	group, err := engine.GetFolio(ctx, result.Folio)
	if err != nil {
		t.Fatalf("get folio: %v", err)
	}
	var sum int64
	for _, line := range group.Lines {
		sum += line.AmountCents
	}
	if group.TotalCents != sum {
		t.Fatalf("derived total %d does not match line sum %d", group.TotalCents, sum)
	}
	if group.TotalCents != result.TotalCents {
		t.Fatalf("commit total %d does not match derived total %d", result.TotalCents, group.TotalCents)
	}
}

func TestCancelFolioRestoresStockAndFlagsLines(t *testing.T) {
	engine, repo := newTestEngine(t)

	result, err := engine.CommitBatch(sellerCtx(), stageLine(t, engine, sellerCtx(), "DES-01", 12, false, ""), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := engine.CancelFolio(adminCtx(), result.Folio, "cliente canceló"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stock, _ := repo.GetStock(context.Background(), "DES-01")
	if stock != 100 {
		t.Fatalf("expected stock restored to 100, got %d", stock)
	}

	group, err := engine.GetFolio(adminCtx(), result.Folio)
	if err != nil {
		t.Fatalf("get folio: %v", err)
	}
	if !group.Cancelled {
		t.Fatalf("expected folio marked cancelled")
	}
	if group.TotalCents != 0 {
		t.Fatalf("expected zero total after cancel, got %d", group.TotalCents)
	}
	for _, line := range group.Lines {
		if line.Quantity != 0 || line.AmountCents != 0 {
			t.Fatalf("expected zeroed line, got qty=%d amount=%d", line.Quantity, line.AmountCents)
		}
		if !line.IsCorrection {
			t.Fatalf("expected correction flag on cancelled line")
		}
		if !strings.Contains(line.CorrectionNote, "FOLIO CANCELADO: cliente canceló") {
			t.Fatalf("expected cancel marker with reason, got %q", line.CorrectionNote)
		}
	}
}

func TestCancelFolioTwiceRejected(t *testing.T) {
	engine, repo := newTestEngine(t)

	result, err := engine.CommitBatch(sellerCtx(), stageLine(t, engine, sellerCtx(), "DES-01", 5, false, ""), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := engine.CancelFolio(adminCtx(), result.Folio, "error de captura"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	err = engine.CancelFolio(adminCtx(), result.Folio, "otra vez")
	if !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled, got %v", err)
	}

	stock, _ := repo.GetStock(context.Background(), "DES-01")
	if stock != 100 {
		t.Fatalf("second cancel must not move stock, got %d", stock)
	}
}

func TestCancelFolioRequiresReason(t *testing.T) {
	engine, _ := newTestEngine(t)
	if err := engine.CancelFolio(adminCtx(), "00001", "   "); !errors.Is(err, ErrEmptyReason) {
		t.Fatalf("expected ErrEmptyReason, got %v", err)
	}
}

func TestCancelFolioReversesCorrectionLines(t *testing.T) {
	engine, repo := newTestEngine(t)

	result, err := engine.CommitBatch(sellerCtx(), stageLine(t, engine, sellerCtx(), "DES-01", 3, true, "devolución"), "")
	if err != nil {
		t.Fatalf("commit correction: %v", err)
	}
	// Correction raised stock to 103; cancelling it must bring it back down.
	if err := engine.CancelFolio(adminCtx(), result.Folio, "devolución improcedente"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	stock, _ := repo.GetStock(context.Background(), "DES-01")
	if stock != 100 {
		t.Fatalf("expected stock back to 100, got %d", stock)
	}
}

func TestCancelLineRecordsOriginalQuantity(t *testing.T) {
	engine, repo := newTestEngine(t)

	result, err := engine.CommitBatch(sellerCtx(), stageLine(t, engine, sellerCtx(), "DES-01", 4, false, ""), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	lineID := result.Lines[0].ID

	if err := engine.CancelLine(adminCtx(), lineID, "producto dañado"); err != nil {
		t.Fatalf("cancel line: %v", err)
	}

	stock, _ := repo.GetStock(context.Background(), "DES-01")
	if stock != 100 {
		t.Fatalf("expected stock restored to 100, got %d", stock)
	}

	sale, err := repo.GetSaleByID(context.Background(), lineID)
	if err != nil {
		t.Fatalf("load sale: %v", err)
	}
	if sale.Quantity != 0 || sale.AmountCents != 0 {
		t.Fatalf("expected zeroed sale, got qty=%d amount=%d", sale.Quantity, sale.AmountCents)
	}
	if !strings.Contains(sale.CorrectionNote, "CANCELADO: producto dañado (Original Qty: 4)") {
		t.Fatalf("expected cancel note with original quantity, got %q", sale.CorrectionNote)
	}

	if err := engine.CancelLine(adminCtx(), lineID, "de nuevo"); !errors.Is(err, ErrAlreadyCancelled) {
		t.Fatalf("expected ErrAlreadyCancelled on second line cancel, got %v", err)
	}
}

func TestCancelFolioKeepsLineCancelNote(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := context.Background()
	if _, err := repo.CreateProduct(ctx, domain.Product{
		SKU: "CL-01", Name: "Cloro", Unit: "Litro", PriceRetailCents: 500, PriceMediumCents: 450, PriceWholesaleCents: 400, StockInitial: 50, StockCurrent: 50, Active: true,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	desProduct, _ := engine.GetProduct(ctx, "DES-01")
	clProduct, _ := engine.GetProduct(ctx, "CL-01")
	staged := engine.NewCart()
	if _, err := staged.Add(desProduct, 4, false, ""); err != nil {
		t.Fatalf("stage DES-01: %v", err)
	}
	if _, err := staged.Add(clProduct, 2, false, ""); err != nil {
		t.Fatalf("stage CL-01: %v", err)
	}
	result, err := engine.CommitBatch(sellerCtx(), staged.Lines(), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := engine.CancelLine(adminCtx(), result.Lines[0].ID, "producto dañado"); err != nil {
		t.Fatalf("cancel line: %v", err)
	}
	if err := engine.CancelFolio(adminCtx(), result.Folio, "cliente canceló"); err != nil {
		t.Fatalf("cancel folio: %v", err)
	}

	// The line cancelled first keeps its own audit detail alongside the
	// folio marker.
	first, _ := repo.GetSaleByID(ctx, result.Lines[0].ID)
	if !strings.Contains(first.CorrectionNote, "CANCELADO: producto dañado (Original Qty: 4)") {
		t.Fatalf("expected line cancel note preserved, got %q", first.CorrectionNote)
	}
	if !strings.Contains(first.CorrectionNote, "FOLIO CANCELADO: cliente canceló") {
		t.Fatalf("expected folio marker appended, got %q", first.CorrectionNote)
	}

	second, _ := repo.GetSaleByID(ctx, result.Lines[1].ID)
	if second.Quantity != 0 || second.AmountCents != 0 {
		t.Fatalf("expected second line zeroed, got qty=%d amount=%d", second.Quantity, second.AmountCents)
	}
	if !strings.Contains(second.CorrectionNote, "FOLIO CANCELADO: cliente canceló") {
		t.Fatalf("expected folio marker on second line, got %q", second.CorrectionNote)
	}

	desStock, _ := repo.GetStock(ctx, "DES-01")
	clStock, _ := repo.GetStock(ctx, "CL-01")
	if desStock != 100 || clStock != 50 {
		t.Fatalf("expected stock fully restored, got DES-01=%d CL-01=%d", desStock, clStock)
	}
}

func TestAmendFolioDateLeavesStockAndTotalsAlone(t *testing.T) {
	engine, repo := newTestEngine(t)

	result, err := engine.CommitBatch(sellerCtx(), stageLine(t, engine, sellerCtx(), "DES-01", 6, false, ""), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	newDate := time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)
	if err := engine.AmendFolioDate(adminCtx(), result.Folio, newDate); err != nil {
		t.Fatalf("amend date: %v", err)
	}

	group, _ := engine.GetFolio(adminCtx(), result.Folio)
	if !group.Date.Equal(newDate) {
		t.Fatalf("expected amended date %v, got %v", newDate, group.Date)
	}
	if group.TotalCents != result.TotalCents {
		t.Fatalf("amend must not change total: %d vs %d", group.TotalCents, result.TotalCents)
	}

	stock, _ := repo.GetStock(context.Background(), "DES-01")
	if stock != 94 {
		t.Fatalf("amend must not move stock, got %d", stock)
	}
}

func TestAmendFolioClientUpdatesAllLines(t *testing.T) {
	engine, repo := newTestEngine(t)

	client, err := repo.CreateClient(context.Background(), domain.Client{Name: "Limpieza Total SA"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	result, err := engine.CommitBatch(sellerCtx(), stageLine(t, engine, sellerCtx(), "DES-01", 2, false, ""), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := engine.AmendFolioClient(adminCtx(), result.Folio, client.ID, ""); err != nil {
		t.Fatalf("amend client: %v", err)
	}

	group, _ := engine.GetFolio(adminCtx(), result.Folio)
	for _, line := range group.Lines {
		if line.ClientID != client.ID || line.ClientName != "Limpieza Total SA" {
			t.Fatalf("expected reassigned client on every line, got id=%q name=%q", line.ClientID, line.ClientName)
		}
	}
}

func TestAmendBlockedOnCancelledFolio(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.CommitBatch(sellerCtx(), stageLine(t, engine, sellerCtx(), "DES-01", 2, false, ""), "")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := engine.CancelFolio(adminCtx(), result.Folio, "duplicado"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if err := engine.AmendFolioDate(adminCtx(), result.Folio, time.Now().UTC()); !errors.Is(err, ErrFolioCancelled) {
		t.Fatalf("expected date amend blocked, got %v", err)
	}
	if err := engine.AmendFolioClient(adminCtx(), result.Folio, "general", ""); !errors.Is(err, ErrFolioCancelled) {
		t.Fatalf("expected client amend blocked, got %v", err)
	}
}

// failingRepo makes InsertSale fail for the configured SKU while delegating
// everything else, to exercise partial commit reporting.
type failingRepo struct {
	store.Repository
	failSKU string
}

func (r *failingRepo) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.SKU == r.failSKU {
		return nil, fmt.Errorf("simulated insert failure for %s", sale.SKU)
	}
	return r.Repository.InsertSale(ctx, sale)
}

func TestPartialCommitReportsCommittedSubset(t *testing.T) {
	repo := memory.New()
	for _, p := range []domain.Product{
		{SKU: "DES-01", Name: "Desengrasante", Unit: "Litro", PriceRetailCents: 1000, PriceMediumCents: 800, PriceWholesaleCents: 600, StockInitial: 50, StockCurrent: 50, Active: true},
		{SKU: "CL-01", Name: "Cloro", Unit: "Litro", PriceRetailCents: 500, PriceMediumCents: 450, PriceWholesaleCents: 400, StockInitial: 50, StockCurrent: 50, Active: true},
	} {
		if _, err := repo.CreateProduct(context.Background(), p); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	flaky := &failingRepo{Repository: repo, failSKU: "CL-01"}
	engine := New(flaky, ledger.NewAtomic(flaky), folio.NewCounter(flaky), pricing.Thresholds{}, nil)

	lines := []cart.Line{
		{SKU: "DES-01", ProductName: "Desengrasante", Quantity: 2, PriceType: domain.PriceRetail, PriceUnitCents: 1000},
		{SKU: "CL-01", ProductName: "Cloro", Quantity: 3, PriceType: domain.PriceRetail, PriceUnitCents: 500},
	}
	result, err := engine.CommitBatch(sellerCtx(), lines, "")

	var partial *PartialCommitError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialCommitError, got %v", err)
	}
	if len(partial.Committed) != 1 || partial.Committed[0].SKU != "DES-01" {
		t.Fatalf("expected the surviving line reported as committed, got %+v", partial.Committed)
	}
	if len(partial.Failures) != 1 || partial.Failures[0].SKU != "CL-01" || partial.Failures[0].Stage != StagePersist {
		t.Fatalf("expected one persist failure for CL-01, got %+v", partial.Failures)
	}
	if len(result.Lines) != 1 {
		t.Fatalf("result must carry the committed subset, got %d lines", len(result.Lines))
	}

	// The committed line's stock delta is durable; the failed line's never ran.
	desStock, _ := repo.GetStock(context.Background(), "DES-01")
	clStock, _ := repo.GetStock(context.Background(), "CL-01")
	if desStock != 48 {
		t.Fatalf("expected DES-01 stock 48, got %d", desStock)
	}
	if clStock != 50 {
		t.Fatalf("expected CL-01 stock untouched at 50, got %d", clStock)
	}
}

func TestPurchaseLifecycleKeepsStockConsistent(t *testing.T) {
	engine, repo := newTestEngine(t)
	ctx := adminCtx()

	purchase, err := engine.AddPurchase(ctx, domain.PurchaseCreateRequest{
		SKU: "des-01", Quantity: 20, CostUnitCents: 400, Supplier: "Proveedora Norte",
	})
	if err != nil {
		t.Fatalf("add purchase: %v", err)
	}
	if purchase.CostTotalCents != 8000 {
		t.Fatalf("expected total cost 8000, got %d", purchase.CostTotalCents)
	}
	if stock, _ := repo.GetStock(context.Background(), "DES-01"); stock != 120 {
		t.Fatalf("expected stock 120 after purchase, got %d", stock)
	}

	// Shrinking the quantity applies the inverse delta.
	newQty := 15
	if _, err := engine.UpdatePurchase(ctx, purchase.ID, domain.PurchaseUpdateRequest{Quantity: &newQty}); err != nil {
		t.Fatalf("update purchase: %v", err)
	}
	if stock, _ := repo.GetStock(context.Background(), "DES-01"); stock != 115 {
		t.Fatalf("expected stock 115 after shrinking purchase, got %d", stock)
	}

	if err := engine.DeletePurchase(ctx, purchase.ID); err != nil {
		t.Fatalf("delete purchase: %v", err)
	}
	if stock, _ := repo.GetStock(context.Background(), "DES-01"); stock != 100 {
		t.Fatalf("expected stock back to 100 after delete, got %d", stock)
	}
}

func TestCommitResolvesNamedClient(t *testing.T) {
	engine, repo := newTestEngine(t)

	client, err := repo.CreateClient(context.Background(), domain.Client{Name: "Hotel Plaza"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	result, err := engine.CommitBatch(sellerCtx(), stageLine(t, engine, sellerCtx(), "DES-01", 1, false, ""), client.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if result.Lines[0].ClientID != client.ID || result.Lines[0].ClientName != "Hotel Plaza" {
		t.Fatalf("expected client snapshot on line, got id=%q name=%q", result.Lines[0].ClientID, result.Lines[0].ClientName)
	}
}

func TestFoliosAreSequentialAcrossBatches(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := sellerCtx()

	for i, want := range []string{"00001", "00002", "00003"} {
		result, err := engine.CommitBatch(ctx, stageLine(t, engine, ctx, "DES-01", 1, false, ""), "")
		if err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
		if result.Folio != want {
			t.Fatalf("expected folio %s on batch %d, got %s", want, i, result.Folio)
		}
	}
}
