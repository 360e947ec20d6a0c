// Package store defines the generic record-store collaborator the engine
// persists through. Each call is one round trip; no atomicity across calls
// is assumed by callers.
package store

import (
	"context"
	"errors"
	"time"

	"innovaclean/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid record")
)

// FolioCounter is the counter name the folio sequencer reserves from.
const FolioCounter = "folio"

type SaleFilter struct {
	From     time.Time
	To       time.Time
	ClientID string
	Limit    int
}

type Repository interface {
	// Products. StockCurrent is read through these but mutated only via
	// the stock operations below.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// Stock. GetStock/PutStock are the raw read and write used by the
	// legacy read-modify-write ledger; AdjustStock is the atomic
	// increment primitive the production ledger routes through.
	GetStock(ctx context.Context, sku string) (int, error)
	PutStock(ctx context.Context, sku string, qty int) error
	AdjustStock(ctx context.Context, sku string, delta int) (int, error)

	// ReserveNext atomically increments the named counter and returns its
	// new value. Used by the folio sequencer's atomic path.
	ReserveNext(ctx context.Context, counter string) (int64, error)

	// MaxFolio returns the highest persisted folio string, or ErrNotFound
	// when no sale exists yet.
	MaxFolio(ctx context.Context) (string, error)

	// Sales. InsertSale assigns the generated line id. Cancellation never
	// deletes rows; UpdateSale/UpdateFolio rewrite only patchable fields.
	InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	ListSalesByFolio(ctx context.Context, folio string) ([]domain.Sale, error)
	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	UpdateSale(ctx context.Context, id string, patch domain.SalePatch) error
	UpdateFolio(ctx context.Context, folio string, patch domain.SalePatch) (int, error)

	// Clients.
	ListClients(ctx context.Context) ([]domain.Client, error)
	GetClientByID(ctx context.Context, id string) (*domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)

	// Purchases.
	InsertPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)
	GetPurchaseByID(ctx context.Context, id string) (*domain.Purchase, error)
	ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error)
	UpdatePurchase(ctx context.Context, id string, purchase domain.Purchase) error
	DeletePurchase(ctx context.Context, id string) error

	// Audit trail.
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	// Auth accounts.
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
