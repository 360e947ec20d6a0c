package domain

import (
	"strings"
	"time"
)

// PriceType is the pricing tier applied to a sale line.
type PriceType string

const (
	PriceRetail    PriceType = "retail"
	PriceMedium    PriceType = "medium"
	PriceWholesale PriceType = "wholesale"
)

// Cancellation markers written into correction notes. Folio cancellation
// state is derived from these, never stored separately.
const (
	FolioCancelMarker = "FOLIO CANCELADO"
	LineCancelMarker  = "CANCELADO"
)

// GeneralClientID is the sentinel walk-in client that is always present.
const (
	GeneralClientID   = "general"
	GeneralClientName = "PÚBLICO EN GENERAL"
)

type Product struct {
	SKU                 string `json:"sku"`
	Name                string `json:"name"`
	Category            string `json:"category"`
	Unit                string `json:"unit"`
	PriceRetailCents    int64  `json:"price_retail_cents"`
	PriceMediumCents    int64  `json:"price_medium_cents"`
	PriceWholesaleCents int64  `json:"price_wholesale_cents"`
	CostCents           int64  `json:"cost_cents"`
	StockInitial        int    `json:"stock_initial"`
	StockCurrent        int    `json:"stock_current"`
	Active              bool   `json:"active"`
}

type ProductCreateRequest struct {
	SKU                 string `json:"sku"`
	Name                string `json:"name"`
	Category            string `json:"category"`
	Unit                string `json:"unit"`
	PriceRetailCents    int64  `json:"price_retail_cents"`
	PriceMediumCents    int64  `json:"price_medium_cents"`
	PriceWholesaleCents int64  `json:"price_wholesale_cents"`
	CostCents           int64  `json:"cost_cents"`
	InitialStock        int    `json:"initial_stock"`
}

type ProductUpdateRequest struct {
	Name                *string `json:"name,omitempty"`
	Category            *string `json:"category,omitempty"`
	Unit                *string `json:"unit,omitempty"`
	PriceRetailCents    *int64  `json:"price_retail_cents,omitempty"`
	PriceMediumCents    *int64  `json:"price_medium_cents,omitempty"`
	PriceWholesaleCents *int64  `json:"price_wholesale_cents,omitempty"`
	CostCents           *int64  `json:"cost_cents,omitempty"`
	Active              *bool   `json:"active,omitempty"`
}

// Sale is one persisted line of a folio. Price, tier and unit are snapshots
// taken at commit time and are never revised afterwards; only quantity,
// amount, the correction flag/note, client and date may change through the
// engine's cancel and amend operations.
type Sale struct {
	ID             string    `json:"id"`
	Folio          string    `json:"folio"`
	Date           time.Time `json:"date"`
	SKU            string    `json:"sku"`
	ProductName    string    `json:"product_name"`
	Unit           string    `json:"unit"`
	Quantity       int       `json:"quantity"`
	PriceType      PriceType `json:"price_type"`
	PriceUnitCents int64     `json:"price_unit_cents"`
	AmountCents    int64     `json:"amount_cents"`
	SellerID       string    `json:"seller_id"`
	SellerName     string    `json:"seller_name"`
	ClientID       string    `json:"client_id"`
	ClientName     string    `json:"client_name"`
	IsCorrection   bool      `json:"is_correction"`
	CorrectionNote string    `json:"correction_note,omitempty"`
}

// Cancelled reports whether this line carries a cancellation marker.
func (s Sale) Cancelled() bool {
	return strings.Contains(s.CorrectionNote, LineCancelMarker)
}

// SalePatch is the restricted set of sale fields the store may rewrite.
// Nil pointers leave the column untouched.
type SalePatch struct {
	Quantity       *int
	AmountCents    *int64
	IsCorrection   *bool
	CorrectionNote *string
	ClientID       *string
	ClientName     *string
	Date           *time.Time
}

// FolioGroup is the derived aggregation of all sale lines sharing a folio.
type FolioGroup struct {
	Folio      string    `json:"folio"`
	Date       time.Time `json:"date"`
	ClientID   string    `json:"client_id"`
	ClientName string    `json:"client_name"`
	SellerName string    `json:"seller_name"`
	TotalCents int64     `json:"total_cents"`
	Cancelled  bool      `json:"cancelled"`
	Lines      []Sale    `json:"lines"`
}

// GroupSales folds sale lines into their derived folio groups, newest first.
func GroupSales(sales []Sale) []FolioGroup {
	byFolio := make(map[string]*FolioGroup, len(sales))
	order := make([]string, 0, len(sales))
	for _, s := range sales {
		group, ok := byFolio[s.Folio]
		if !ok {
			group = &FolioGroup{
				Folio:      s.Folio,
				Date:       s.Date,
				ClientID:   s.ClientID,
				ClientName: s.ClientName,
				SellerName: s.SellerName,
			}
			byFolio[s.Folio] = group
			order = append(order, s.Folio)
		}
		group.TotalCents += s.AmountCents
		group.Lines = append(group.Lines, s)
		if s.Cancelled() {
			group.Cancelled = true
		}
	}

	groups := make([]FolioGroup, 0, len(order))
	for _, f := range order {
		groups = append(groups, *byFolio[f])
	}
	return groups
}

type Client struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	RFC     string `json:"rfc,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
}

type ClientCreateRequest struct {
	Name    string `json:"name"`
	RFC     string `json:"rfc"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	ZipCode string `json:"zip_code"`
	City    string `json:"city"`
	State   string `json:"state"`
}

// Purchase is a stock-increasing event. Editing its quantity applies the
// inverse delta to stock; deleting it reverses the full quantity.
type Purchase struct {
	ID             string    `json:"id"`
	Date           time.Time `json:"date"`
	SKU            string    `json:"sku"`
	ProductName    string    `json:"product_name"`
	Quantity       int       `json:"quantity"`
	CostUnitCents  int64     `json:"cost_unit_cents"`
	CostTotalCents int64     `json:"cost_total_cents"`
	Supplier       string    `json:"supplier,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	UserName       string    `json:"user_name,omitempty"`
}

type PurchaseCreateRequest struct {
	SKU           string `json:"sku"`
	Quantity      int    `json:"quantity"`
	CostUnitCents int64  `json:"cost_unit_cents"`
	Supplier      string `json:"supplier"`
	Notes         string `json:"notes"`
}

type PurchaseUpdateRequest struct {
	Quantity      *int    `json:"quantity,omitempty"`
	CostUnitCents *int64  `json:"cost_unit_cents,omitempty"`
	Supplier      *string `json:"supplier,omitempty"`
	Notes         *string `json:"notes,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Name        string `json:"name"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	ID       string
	Username string
	Name     string
	Role     string
}

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
)

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string
	Username  string
	Name      string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// StockSnapshot is a locally cached view of a product's stock. It is only
// written from confirmed ledger results, never speculatively, and carries a
// version so readers can detect stale entries.
type StockSnapshot struct {
	SKU       string    `json:"sku"`
	Qty       int       `json:"qty"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
