// Package postgres is the production store. Every mutation the engine
// treats as atomic (stock increments, counter reservations) maps to a
// single statement here.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"innovaclean/backend/internal/domain"
	"innovaclean/backend/internal/store"
	"innovaclean/backend/internal/xid"
)

// Column lists shared by every SELECT so the scan order has a single
// source of truth.
const (
	productColumns  = `sku, name, category, unit, price_retail_cents, price_medium_cents, price_wholesale_cents, cost_cents, stock_initial, stock_current, active`
	saleColumns     = `id, folio, date, sku, product_name, unit, quantity, price_type, price_unit_cents, amount_cents, seller_id, seller_name, client_id, client_name, is_correction, correction_note`
	purchaseColumns = `id, date, sku, product_name, quantity, cost_unit_cents, cost_total_cents, supplier, notes, user_id, user_name`
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.seedFolioCounter(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// seedFolioCounter aligns the folio counter with existing sale history so
// the atomic sequencer resumes after the highest persisted folio instead
// of restarting at one.
func (s *Store) seedFolioCounter(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value)
		SELECT $1, COALESCE(MAX(folio::bigint), 0)
		FROM sales
		WHERE folio ~ '^[0-9]+$'
		ON CONFLICT (name) DO NOTHING
	`, store.FolioCounter)
	return err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE sku = $1
	`, sku)

	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND sku = ANY($1)
	`, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidRecord
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			sku, name, category, unit, price_retail_cents, price_medium_cents,
			price_wholesale_cents, cost_cents, stock_initial, stock_current,
			active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now(),now())
	`, product.SKU, product.Name, product.Category, product.Unit,
		product.PriceRetailCents, product.PriceMediumCents, product.PriceWholesaleCents,
		product.CostCents, product.StockInitial, product.StockCurrent, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRecord
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" {
		return nil, store.ErrInvalidRecord
	}

	// stock_initial and stock_current are deliberately absent: stock moves
	// only through the stock operations.
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, unit = $4, price_retail_cents = $5,
			price_medium_cents = $6, price_wholesale_cents = $7, cost_cents = $8,
			active = $9, updated_at = now()
		WHERE sku = $1
	`, product.SKU, product.Name, product.Category, product.Unit,
		product.PriceRetailCents, product.PriceMediumCents, product.PriceWholesaleCents,
		product.CostCents, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	return s.GetProductBySKU(ctx, product.SKU)
}

func (s *Store) GetStock(ctx context.Context, sku string) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT stock_current FROM products WHERE sku = $1
	`, sku).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) PutStock(ctx context.Context, sku string, qty int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET stock_current = $2, updated_at = now() WHERE sku = $1
	`, sku, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, sku string, delta int) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock_current = stock_current + $2, updated_at = now()
		WHERE sku = $1
		RETURNING stock_current
	`, sku, delta).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) ReserveNext(ctx context.Context, counter string) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value)
		VALUES ($1, 1)
		ON CONFLICT (name)
		DO UPDATE SET value = counters.value + 1
		RETURNING value
	`, counter).Scan(&value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) MaxFolio(ctx context.Context) (string, error) {
	// Numeric max, not text max: once folios grow past five digits a
	// text comparison would rank "99999" above "100000".
	var folio sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(folio::bigint) FROM sales WHERE folio ~ '^[0-9]+$'
	`).Scan(&folio)
	if err != nil {
		return "", err
	}
	if !folio.Valid || folio.Int64 == 0 {
		return "", store.ErrNotFound
	}
	return strconv.FormatInt(folio.Int64, 10), nil
}

func (s *Store) InsertSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.Folio == "" || sale.SKU == "" {
		return nil, store.ErrInvalidRecord
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.Date.IsZero() {
		sale.Date = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, sale.ID, sale.Folio, sale.Date, sale.SKU, sale.ProductName, sale.Unit,
		sale.Quantity, string(sale.PriceType), sale.PriceUnitCents, sale.AmountCents,
		sale.SellerID, sale.SellerName, sale.ClientID, sale.ClientName,
		sale.IsCorrection, sale.CorrectionNote)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRecord
		}
		return nil, err
	}

	inserted := sale
	return &inserted, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id)

	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &sale, nil
}

func (s *Store) ListSalesByFolio(ctx context.Context, folio string) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE folio = $1
		ORDER BY created_at ASC, id ASC
	`, folio)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 4)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListSales(ctx context.Context, filter store.SaleFilter) ([]domain.Sale, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 500
	}
	from := filter.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := filter.To
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE date >= $1
			AND date < $2
			AND ($3 = '' OR client_id = $3)
		ORDER BY date DESC, folio DESC, id ASC
		LIMIT $4
	`, from, to, filter.ClientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) UpdateSale(ctx context.Context, id string, patch domain.SalePatch) error {
	query, args := buildSalePatch(patch, id)
	if query == "" {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sales SET `+query+` WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateFolio(ctx context.Context, folio string, patch domain.SalePatch) (int, error) {
	query, args := buildSalePatch(patch, folio)
	if query == "" {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sales SET `+query+` WHERE folio = $1`, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// buildSalePatch renders the SET clause for the non-nil patch fields. The
// key argument (sale id or folio) is always $1.
func buildSalePatch(patch domain.SalePatch, key string) (string, []any) {
	sets := make([]string, 0, 7)
	args := []any{key}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if patch.Quantity != nil {
		add("quantity", *patch.Quantity)
	}
	if patch.AmountCents != nil {
		add("amount_cents", *patch.AmountCents)
	}
	if patch.IsCorrection != nil {
		add("is_correction", *patch.IsCorrection)
	}
	if patch.CorrectionNote != nil {
		add("correction_note", *patch.CorrectionNote)
	}
	if patch.ClientID != nil {
		add("client_id", *patch.ClientID)
	}
	if patch.ClientName != nil {
		add("client_name", *patch.ClientName)
	}
	if patch.Date != nil {
		add("date", *patch.Date)
	}

	if len(sets) == 0 {
		return "", nil
	}
	return strings.Join(sets, ", ") + ", updated_at = now()", args
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, rfc, email, phone, address, zip_code, city, state
		FROM clients
		ORDER BY (id = $1) DESC, name
	`, domain.GeneralClientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 64)
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.RFC, &c.Email, &c.Phone, &c.Address, &c.ZipCode, &c.City, &c.State); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *Store) GetClientByID(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, rfc, email, phone, address, zip_code, city, state
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.RFC, &c.Email, &c.Phone, &c.Address, &c.ZipCode, &c.City, &c.State)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if client.Name == "" {
		return nil, store.ErrInvalidRecord
	}
	if client.ID == "" {
		client.ID = xid.New("client")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, rfc, email, phone, address, zip_code, city, state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, client.ID, client.Name, client.RFC, client.Email, client.Phone,
		client.Address, client.ZipCode, client.City, client.State)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidRecord
		}
		return nil, err
	}

	created := client
	return &created, nil
}

func (s *Store) InsertPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if purchase.SKU == "" || purchase.Quantity < 1 {
		return nil, store.ErrInvalidRecord
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("purchase")
	}
	if purchase.Date.IsZero() {
		purchase.Date = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (`+purchaseColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, purchase.ID, purchase.Date, purchase.SKU, purchase.ProductName,
		purchase.Quantity, purchase.CostUnitCents, purchase.CostTotalCents,
		purchase.Supplier, purchase.Notes, purchase.UserID, purchase.UserName)
	if err != nil {
		return nil, err
	}

	created := purchase
	return &created, nil
}

func (s *Store) GetPurchaseByID(ctx context.Context, id string) (*domain.Purchase, error) {
	var p domain.Purchase
	err := s.db.QueryRowContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Date, &p.SKU, &p.ProductName, &p.Quantity,
		&p.CostUnitCents, &p.CostTotalCents, &p.Supplier, &p.Notes, &p.UserID, &p.UserName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.Date = p.Date.UTC()
	return &p, nil
}

func (s *Store) ListPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+`
		FROM purchases
		ORDER BY date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, limit)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.Date, &p.SKU, &p.ProductName, &p.Quantity,
			&p.CostUnitCents, &p.CostTotalCents, &p.Supplier, &p.Notes, &p.UserID, &p.UserName); err != nil {
			return nil, err
		}
		p.Date = p.Date.UTC()
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

func (s *Store) UpdatePurchase(ctx context.Context, id string, purchase domain.Purchase) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchases
		SET quantity = $2, cost_unit_cents = $3, cost_total_cents = $4,
			supplier = $5, notes = $6, updated_at = now()
		WHERE id = $1
	`, id, purchase.Quantity, purchase.CostUnitCents, purchase.CostTotalCents,
		purchase.Supplier, purchase.Notes)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePurchase(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM purchases WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrInvalidRecord
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, name, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Username, user.Name, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRecord
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, name, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.SKU, &p.Name, &p.Category, &p.Unit,
		&p.PriceRetailCents, &p.PriceMediumCents, &p.PriceWholesaleCents,
		&p.CostCents, &p.StockInitial, &p.StockCurrent, &p.Active)
	return p, err
}

func scanSale(row scanner) (domain.Sale, error) {
	var sale domain.Sale
	var priceType string
	err := row.Scan(&sale.ID, &sale.Folio, &sale.Date, &sale.SKU, &sale.ProductName,
		&sale.Unit, &sale.Quantity, &priceType, &sale.PriceUnitCents, &sale.AmountCents,
		&sale.SellerID, &sale.SellerName, &sale.ClientID, &sale.ClientName,
		&sale.IsCorrection, &sale.CorrectionNote)
	if err != nil {
		return sale, err
	}
	sale.Date = sale.Date.UTC()
	sale.PriceType = domain.PriceType(priceType)
	return sale, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
