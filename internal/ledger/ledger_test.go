package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"innovaclean/backend/internal/domain"
	"innovaclean/backend/internal/store"
	"innovaclean/backend/internal/store/memory"
)

func newRepoWithStock(t *testing.T, sku string, qty int) store.Repository {
	t.Helper()
	repo := memory.New()
	_, err := repo.CreateProduct(context.Background(), domain.Product{
		SKU:              sku,
		Name:             "Cloro 1L",
		Category:         "limpieza",
		Unit:             "Litro",
		PriceRetailCents: 1000,
		StockInitial:     qty,
		StockCurrent:     qty,
		Active:           true,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return repo
}

func TestApplyDeltaSignedSemantics(t *testing.T) {
	repo := newRepoWithStock(t, "P1", 100)
	ctx := context.Background()

	for _, l := range []Ledger{NewReadModifyWrite(repo), NewAtomic(repo)} {
		if newStock, err := l.ApplyDelta(ctx, "P1", -12); err != nil || newStock != 88 {
			t.Fatalf("sale delta: got (%d, %v), want (88, nil)", newStock, err)
		}
		if newStock, err := l.ApplyDelta(ctx, "P1", +12); err != nil || newStock != 100 {
			t.Fatalf("reversal delta: got (%d, %v), want (100, nil)", newStock, err)
		}
	}
}

func TestApplyDeltaAllowsNegativeStock(t *testing.T) {
	repo := newRepoWithStock(t, "P1", 2)

	newStock, err := NewAtomic(repo).ApplyDelta(context.Background(), "P1", -5)
	if err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	if newStock != -3 {
		t.Fatalf("expected oversell to -3, got %d", newStock)
	}
}

func TestApplyDeltaUnknownSKUIsNoOp(t *testing.T) {
	repo := newRepoWithStock(t, "P1", 50)
	ctx := context.Background()

	for _, l := range []Ledger{NewReadModifyWrite(repo), NewAtomic(repo)} {
		if _, err := l.ApplyDelta(ctx, "NOPE", -1); !errors.Is(err, ErrUnknownProduct) {
			t.Fatalf("expected ErrUnknownProduct, got %v", err)
		}
	}

	if qty, err := repo.GetStock(ctx, "P1"); err != nil || qty != 50 {
		t.Fatalf("stock must be untouched, got (%d, %v)", qty, err)
	}
}

// gatedRepo delays every GetStock return until both concurrent readers
// have read, forcing the classic lost-update interleave deterministically.
type gatedRepo struct {
	store.Repository
	readers *sync.WaitGroup
}

func (g *gatedRepo) GetStock(ctx context.Context, sku string) (int, error) {
	qty, err := g.Repository.GetStock(ctx, sku)
	if err != nil {
		return 0, err
	}
	g.readers.Done()
	g.readers.Wait()
	return qty, nil
}

func TestReadModifyWriteLosesConcurrentUpdate(t *testing.T) {
	repo := newRepoWithStock(t, "P1", 100)

	var readers sync.WaitGroup
	readers.Add(2)
	naive := NewReadModifyWrite(&gatedRepo{Repository: repo, readers: &readers})

	var done sync.WaitGroup
	done.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer done.Done()
			if _, err := naive.ApplyDelta(context.Background(), "P1", -3); err != nil {
				t.Errorf("apply delta: %v", err)
			}
		}()
	}
	done.Wait()

	final, err := repo.GetStock(context.Background(), "P1")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	// Both sessions read 100 and both wrote 97: one decrement is lost.
	if final != 97 {
		t.Fatalf("expected the naive path to lose one update (97), got %d", final)
	}
}

func TestSerializedAndAtomicKeepEveryUpdate(t *testing.T) {
	const workers = 64

	paths := map[string]func(store.Repository) Ledger{
		"serialized": func(r store.Repository) Ledger { return NewSerialized(NewReadModifyWrite(r)) },
		"atomic":     func(r store.Repository) Ledger { return NewAtomic(r) },
	}

	for name, build := range paths {
		t.Run(name, func(t *testing.T) {
			repo := newRepoWithStock(t, "P1", 1000)
			l := build(repo)

			var wg sync.WaitGroup
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func() {
					defer wg.Done()
					if _, err := l.ApplyDelta(context.Background(), "P1", -1); err != nil {
						t.Errorf("apply delta: %v", err)
					}
				}()
			}
			wg.Wait()

			final, err := repo.GetStock(context.Background(), "P1")
			if err != nil {
				t.Fatalf("get stock: %v", err)
			}
			if final != 1000-workers {
				t.Fatalf("expected %d, got %d", 1000-workers, final)
			}
		})
	}
}
