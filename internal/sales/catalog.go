package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"innovaclean/backend/internal/domain"
	"innovaclean/backend/internal/store"
	"innovaclean/backend/internal/xid"
)

// Catalog operations. These are pass-through maintenance calls around the
// record store; stock still only ever moves through the ledger, with the
// single deliberate exception of ResetAllStock below.

func (e *Engine) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return e.repo.ListProducts(ctx)
}

func (e *Engine) GetProduct(ctx context.Context, sku string) (domain.Product, error) {
	product, err := e.repo.GetProductBySKU(ctx, strings.ToUpper(strings.TrimSpace(sku)))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (e *Engine) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Unit == "" {
		req.Unit = "Pieza"
	}
	if req.SKU == "" || req.Name == "" {
		return domain.Product{}, store.ErrInvalidRecord
	}
	if req.PriceRetailCents < 0 || req.PriceMediumCents < 0 || req.PriceWholesaleCents < 0 || req.CostCents < 0 {
		return domain.Product{}, store.ErrInvalidRecord
	}

	product := domain.Product{
		SKU:                 req.SKU,
		Name:                req.Name,
		Category:            req.Category,
		Unit:                req.Unit,
		PriceRetailCents:    req.PriceRetailCents,
		PriceMediumCents:    req.PriceMediumCents,
		PriceWholesaleCents: req.PriceWholesaleCents,
		CostCents:           req.CostCents,
		StockInitial:        req.InitialStock,
		StockCurrent:        req.InitialStock,
		Active:              true,
	}

	created, err := e.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	e.audit(ctx, "product_create", "product", created.SKU,
		fmt.Sprintf("name=%s,retail=%d,stock=%d", created.Name, created.PriceRetailCents, created.StockCurrent))
	return *created, nil
}

func (e *Engine) UpdateProduct(ctx context.Context, sku string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	sku = strings.ToUpper(strings.TrimSpace(sku))
	existing, err := e.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidRecord
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Unit != nil {
		updated.Unit = strings.TrimSpace(*req.Unit)
	}
	if req.PriceRetailCents != nil {
		if *req.PriceRetailCents < 0 {
			return domain.Product{}, store.ErrInvalidRecord
		}
		updated.PriceRetailCents = *req.PriceRetailCents
	}
	if req.PriceMediumCents != nil {
		if *req.PriceMediumCents < 0 {
			return domain.Product{}, store.ErrInvalidRecord
		}
		updated.PriceMediumCents = *req.PriceMediumCents
	}
	if req.PriceWholesaleCents != nil {
		if *req.PriceWholesaleCents < 0 {
			return domain.Product{}, store.ErrInvalidRecord
		}
		updated.PriceWholesaleCents = *req.PriceWholesaleCents
	}
	if req.CostCents != nil {
		if *req.CostCents < 0 {
			return domain.Product{}, store.ErrInvalidRecord
		}
		updated.CostCents = *req.CostCents
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	// Stock fields are never patched here; the ledger owns them.
	updated.StockCurrent = existing.StockCurrent
	updated.StockInitial = existing.StockInitial

	saved, err := e.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	e.audit(ctx, "product_update", "product", saved.SKU,
		fmt.Sprintf("active=%t,retail=%d", saved.Active, saved.PriceRetailCents))
	return *saved, nil
}

// ResetAllStock writes every product's stock to zero. Admin maintenance
// for inventory restarts; each write is audited.
func (e *Engine) ResetAllStock(ctx context.Context) (int, error) {
	if err := requireAdmin(ctx); err != nil {
		return 0, err
	}

	products, err := e.repo.ListProducts(ctx)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, product := range products {
		if err := e.repo.PutStock(ctx, product.SKU, 0); err != nil {
			return reset, fmt.Errorf("reset stock for %s: %w", product.SKU, err)
		}
		e.refreshSnapshot(ctx, product.SKU, 0)
		reset++
	}

	e.audit(ctx, "stock_reset_all", "product", "*", fmt.Sprintf("products=%d", reset))
	return reset, nil
}

func (e *Engine) ListClients(ctx context.Context) ([]domain.Client, error) {
	return e.repo.ListClients(ctx)
}

func (e *Engine) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Client{}, store.ErrInvalidRecord
	}

	client := domain.Client{
		ID:      xid.New("client"),
		Name:    req.Name,
		RFC:     strings.TrimSpace(req.RFC),
		Email:   strings.TrimSpace(req.Email),
		Phone:   strings.TrimSpace(req.Phone),
		Address: strings.TrimSpace(req.Address),
		ZipCode: strings.TrimSpace(req.ZipCode),
		City:    strings.TrimSpace(req.City),
		State:   strings.TrimSpace(req.State),
	}

	created, err := e.repo.CreateClient(ctx, client)
	if err != nil {
		return domain.Client{}, err
	}

	e.audit(ctx, "client_create", "client", created.ID, created.Name)
	return *created, nil
}

func (e *Engine) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from, to time.Time
	if strings.TrimSpace(date) == "" {
		// Default window: the trailing 24 hours, inclusive of entries
		// written this instant.
		to = time.Now().UTC().Add(time.Minute)
		from = to.Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidRecord
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}

	return e.repo.ListAuditLogs(ctx, from, to, limit)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}
	return nil
}
