// Package memory is the in-process store used for dev mode and tests.
package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"innovaclean/backend/internal/domain"
	"innovaclean/backend/internal/store"
	"innovaclean/backend/internal/xid"
)

type Store struct {
	mu        sync.RWMutex
	products  map[string]domain.Product
	salesByID map[string]*domain.Sale
	saleOrder []string
	clients   map[string]domain.Client
	purchases map[string]domain.Purchase
	counters  map[string]int64
	auditLogs []domain.AuditLog
	users     map[string]domain.UserAccount
}

// New returns an empty store with only the sentinel walk-in client seeded.
func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		salesByID: make(map[string]*domain.Sale),
		clients: map[string]domain.Client{
			domain.GeneralClientID: {ID: domain.GeneralClientID, Name: domain.GeneralClientName},
		},
		purchases: make(map[string]domain.Purchase),
		counters:  make(map[string]int64),
		auditLogs: make([]domain.AuditLog, 0, 128),
		users:     make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with demo catalog data and the
// default admin/seller accounts for dev mode.
func NewSeeded() *Store {
	s := New()

	products := []domain.Product{
		{SKU: "DES-01", Name: "Desengrasante Industrial 1L", Category: "limpieza", Unit: "Litro", PriceRetailCents: 8500, PriceMediumCents: 7200, PriceWholesaleCents: 6400, CostCents: 4100, StockInitial: 120, StockCurrent: 120, Active: true},
		{SKU: "CL-01", Name: "Cloro Concentrado 1L", Category: "limpieza", Unit: "Litro", PriceRetailCents: 3200, PriceMediumCents: 2800, PriceWholesaleCents: 2400, CostCents: 1500, StockInitial: 200, StockCurrent: 200, Active: true},
		{SKU: "JAB-01", Name: "Jabón Líquido para Manos 1L", Category: "higiene", Unit: "Litro", PriceRetailCents: 5400, PriceMediumCents: 4800, PriceWholesaleCents: 4200, CostCents: 2600, StockInitial: 150, StockCurrent: 150, Active: true},
		{SKU: "AR-01", Name: "Aromatizante Lavanda 1L", Category: "limpieza", Unit: "Litro", PriceRetailCents: 4600, PriceMediumCents: 4100, PriceWholesaleCents: 3600, CostCents: 2100, StockInitial: 90, StockCurrent: 90, Active: true},
		{SKU: "FIB-01", Name: "Fibra Multiusos", Category: "accesorios", Unit: "Pieza", PriceRetailCents: 1200, PriceMediumCents: 1000, PriceWholesaleCents: 900, CostCents: 500, StockInitial: 300, StockCurrent: 300, Active: true},
		{SKU: "ATO-01", Name: "Atomizador 500ml", Category: "accesorios", Unit: "Pieza", PriceRetailCents: 1800, PriceMediumCents: 1600, PriceWholesaleCents: 1400, CostCents: 800, StockInitial: 180, StockCurrent: 180, Active: true},
	}
	for _, p := range products {
		s.products[p.SKU] = p
	}

	s.clients["cli-mayorista"] = domain.Client{
		ID: "cli-mayorista", Name: "Limpieza Total SA de CV", RFC: "LTO010203AB1", City: "CDMX", State: "CDMX",
	}

	s.users = seedUsers()
	return s
}

// seedUsers builds the initial dev/demo accounts. Credentials come from
// SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD; hardcoded defaults are
// used with a warning when unset. Production deployments use PostgreSQL
// and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		name     string
		password string
		role     string
	}{
		{"admin", "Administrador", adminPwd, domain.RoleAdmin},
		{"vendedor", "Vendedor Mostrador", sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        xid.New("user"),
			Username:  u.username,
			Name:      u.name,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if product, exists := s.products[sku]; exists {
			out[sku] = product
		}
	}
	return out, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrInvalidRecord
	}

	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	existing, exists := s.products[product.SKU]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Stock moves only through the stock operations.
	product.StockCurrent = existing.StockCurrent
	product.StockInitial = existing.StockInitial

	s.products[product.SKU] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetStock(_ context.Context, sku string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[sku]
	if !exists {
		return 0, store.ErrNotFound
	}
	return product.StockCurrent, nil
}

func (s *Store) PutStock(_ context.Context, sku string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sku]
	if !exists {
		return store.ErrNotFound
	}
	product.StockCurrent = qty
	s.products[sku] = product
	return nil
}

func (s *Store) AdjustStock(_ context.Context, sku string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sku]
	if !exists {
		return 0, store.ErrNotFound
	}
	product.StockCurrent += delta
	s.products[sku] = product
	return product.StockCurrent, nil
}

func (s *Store) ReserveNext(_ context.Context, counter string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.counters[counter]; !exists && counter == store.FolioCounter {
		// First reservation resumes after any pre-existing sale history.
		s.counters[counter] = s.maxFolioLocked()
	}
	s.counters[counter]++
	return s.counters[counter], nil
}

func (s *Store) MaxFolio(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := s.maxFolioLocked()
	if max == 0 {
		return "", store.ErrNotFound
	}
	return padFolio(max), nil
}

func (s *Store) maxFolioLocked() int64 {
	var max int64
	for _, sale := range s.salesByID {
		n, err := strconv.ParseInt(strings.TrimSpace(sale.Folio), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max
}

func padFolio(n int64) string {
	text := strconv.FormatInt(n, 10)
	for len(text) < 5 {
		text = "0" + text
	}
	return text
}

func (s *Store) InsertSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.Folio == "" || sale.SKU == "" {
		return nil, store.ErrInvalidRecord
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	stored := sale
	s.salesByID[sale.ID] = &stored
	s.saleOrder = append(s.saleOrder, sale.ID)

	copied := stored
	return &copied, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := *sale
	return &copied, nil
}

func (s *Store) ListSalesByFolio(_ context.Context, folio string) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 4)
	for _, id := range s.saleOrder {
		if sale := s.salesByID[id]; sale.Folio == folio {
			sales = append(sales, *sale)
		}
	}
	return sales, nil
}

func (s *Store) ListSales(_ context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.saleOrder))
	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if !filter.From.IsZero() && sale.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.Date.Before(filter.To) {
			continue
		}
		if filter.ClientID != "" && sale.ClientID != filter.ClientID {
			continue
		}
		sales = append(sales, *sale)
	}

	slices.SortStableFunc(sales, func(a, b domain.Sale) int {
		return b.Date.Compare(a.Date)
	})

	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) UpdateSale(_ context.Context, id string, patch domain.SalePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return store.ErrNotFound
	}
	applyPatch(sale, patch)
	return nil
}

func (s *Store) UpdateFolio(_ context.Context, folio string, patch domain.SalePatch) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	affected := 0
	for _, sale := range s.salesByID {
		if sale.Folio != folio {
			continue
		}
		applyPatch(sale, patch)
		affected++
	}
	return affected, nil
}

func applyPatch(sale *domain.Sale, patch domain.SalePatch) {
	if patch.Quantity != nil {
		sale.Quantity = *patch.Quantity
	}
	if patch.AmountCents != nil {
		sale.AmountCents = *patch.AmountCents
	}
	if patch.IsCorrection != nil {
		sale.IsCorrection = *patch.IsCorrection
	}
	if patch.CorrectionNote != nil {
		sale.CorrectionNote = *patch.CorrectionNote
	}
	if patch.ClientID != nil {
		sale.ClientID = *patch.ClientID
	}
	if patch.ClientName != nil {
		sale.ClientName = *patch.ClientName
	}
	if patch.Date != nil {
		sale.Date = *patch.Date
	}
}

func (s *Store) ListClients(_ context.Context) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		// Walk-in client first, then by name.
		if a.ID == domain.GeneralClientID {
			return -1
		}
		if b.ID == domain.GeneralClientID {
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return clients, nil
}

func (s *Store) GetClientByID(_ context.Context, id string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, exists := s.clients[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := client
	return &copied, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	if client.ID == "" {
		client.ID = xid.New("client")
	}
	if _, exists := s.clients[client.ID]; exists {
		return nil, store.ErrInvalidRecord
	}

	s.clients[client.ID] = client
	created := client
	return &created, nil
}

func (s *Store) InsertPurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if purchase.SKU == "" || purchase.Quantity < 1 {
		return nil, store.ErrInvalidRecord
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("purchase")
	}
	if purchase.Date.IsZero() {
		purchase.Date = time.Now().UTC()
	}

	s.purchases[purchase.ID] = purchase
	created := purchase
	return &created, nil
}

func (s *Store) GetPurchaseByID(_ context.Context, id string) (*domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchase, exists := s.purchases[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := purchase
	return &copied, nil
}

func (s *Store) ListPurchases(_ context.Context, limit int) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	purchases := make([]domain.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		purchases = append(purchases, p)
	}
	slices.SortFunc(purchases, func(a, b domain.Purchase) int {
		return b.Date.Compare(a.Date)
	})
	if limit > 0 && len(purchases) > limit {
		purchases = purchases[:limit]
	}
	return purchases, nil
}

func (s *Store) UpdatePurchase(_ context.Context, id string, purchase domain.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[id]; !exists {
		return store.ErrNotFound
	}
	purchase.ID = id
	s.purchases[id] = purchase
	return nil
}

func (s *Store) DeletePurchase(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.purchases, id)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidRecord
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
