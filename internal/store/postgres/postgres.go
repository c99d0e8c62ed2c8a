package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
	"kasirpro/backend/internal/xid"
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

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, phone, currency, receipt_footer, cashback_capital_cents
		FROM branches
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := make([]domain.Branch, 0, 8)
	for rows.Next() {
		var b domain.Branch
		if err := rows.Scan(&b.ID, &b.Name, &b.Address, &b.Phone, &b.Currency, &b.ReceiptFooter, &b.CashbackCapitalCents); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (s *Store) GetBranchByID(ctx context.Context, branchID string) (*domain.Branch, error) {
	var b domain.Branch
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, phone, currency, receipt_footer, cashback_capital_cents
		FROM branches
		WHERE id = $1
	`, branchID).Scan(&b.ID, &b.Name, &b.Address, &b.Phone, &b.Currency, &b.ReceiptFooter, &b.CashbackCapitalCents)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" || branch.CashbackCapitalCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if branch.ID == "" {
		branch.ID = xid.New("branch")
	}
	if branch.Currency == "" {
		branch.Currency = "IDR"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, address, phone, currency, receipt_footer, cashback_capital_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
	`, branch.ID, branch.Name, branch.Address, branch.Phone, branch.Currency, branch.ReceiptFooter, branch.CashbackCapitalCents)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := branch
	return &created, nil
}

func (s *Store) AdjustCashbackCapital(ctx context.Context, branchID string, amountCents int64) (*domain.CapitalAdjustment, error) {
	if amountCents == 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.QueryRowContext(ctx, `
		SELECT cashback_capital_cents
		FROM branches
		WHERE id = $1
		FOR UPDATE
	`, branchID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	next := current + amountCents
	if next < 0 {
		return nil, &store.InsufficientCapitalError{Available: current, Required: -amountCents}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE branches
		SET cashback_capital_cents = $2, updated_at = now()
		WHERE id = $1
	`, branchID, next)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.CapitalAdjustment{
		BranchID:             branchID,
		PreviousCapitalCents: current,
		AdjustmentCents:      amountCents,
		NewCapitalCents:      next,
	}, nil
}

func (s *Store) ListProducts(ctx context.Context, branchID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, sku, name, category, cost_cents, price_cents, stock, active
		FROM products
		WHERE active = true AND ($1 = '' OR branch_id = $1)
		ORDER BY category, name
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	ids := make([]string, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.BranchID, &p.SKU, &p.Name, &p.Category, &p.CostCents, &p.PriceCents, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return products, nil
	}

	variantRows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, sku, name, cost_cents, price_cents, stock, active
		FROM product_variants
		WHERE active = true AND product_id = ANY($1)
		ORDER BY name ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer variantRows.Close()

	variantMap := make(map[string][]domain.ProductVariant, len(ids))
	for variantRows.Next() {
		var v domain.ProductVariant
		if err := variantRows.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.CostCents, &v.PriceCents, &v.Stock, &v.Active); err != nil {
			return nil, err
		}
		variantMap[v.ProductID] = append(variantMap[v.ProductID], v)
	}
	if err := variantRows.Err(); err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variants = variantMap[products[i].ID]
	}
	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, sku, name, category, cost_cents, price_cents, stock, active
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.BranchID, &p.SKU, &p.Name, &p.Category, &p.CostCents, &p.PriceCents, &p.Stock, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, sku, name, cost_cents, price_cents, stock, active
		FROM product_variants
		WHERE product_id = $1
		ORDER BY name ASC
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.ProductVariant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.CostCents, &v.PriceCents, &v.Stock, &v.Active); err != nil {
			return nil, err
		}
		p.Variants = append(p.Variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.BranchID == "" || strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	product.Active = true

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, branch_id, sku, name, category, cost_cents, price_cents, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now(),now())
	`, product.ID, product.BranchID, product.SKU, product.Name, product.Category, product.CostCents, product.PriceCents, product.Stock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	variants := make([]domain.ProductVariant, 0, len(product.Variants))
	for _, v := range product.Variants {
		if strings.TrimSpace(v.Name) == "" || v.PriceCents < 1 || v.Stock < 0 {
			return nil, store.ErrInvalidRequest
		}
		if v.ID == "" {
			v.ID = xid.New("var")
		}
		v.ProductID = product.ID
		v.SKU = strings.ToUpper(strings.TrimSpace(v.SKU))
		v.Active = true
		_, err := tx.ExecContext(ctx, `
			INSERT INTO product_variants (id, product_id, sku, name, cost_cents, price_cents, stock, active, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
		`, v.ID, v.ProductID, v.SKU, v.Name, v.CostCents, v.PriceCents, v.Stock, v.Active)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrConflict
			}
			return nil, err
		}
		variants = append(variants, v)
	}
	product.Variants = variants

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetStockSnapshot(ctx context.Context, branchID string) (*domain.StockSnapshot, error) {
	snapshot := &domain.StockSnapshot{
		Products: make([]domain.Product, 0, 128),
		Variants: make([]domain.ProductVariant, 0, 128),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, sku, name, category, cost_cents, price_cents, stock, active
		FROM products
		WHERE active = true AND ($1 = '' OR branch_id = $1)
		ORDER BY name ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.BranchID, &p.SKU, &p.Name, &p.Category, &p.CostCents, &p.PriceCents, &p.Stock, &p.Active); err != nil {
			_ = rows.Close()
			return nil, err
		}
		snapshot.Products = append(snapshot.Products, p)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	variantRows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.product_id, v.sku, v.name, v.cost_cents, v.price_cents, v.stock, v.active
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.active = true AND ($1 = '' OR p.branch_id = $1)
		ORDER BY v.name ASC
	`, branchID)
	if err != nil {
		return nil, err
	}
	defer variantRows.Close()

	for variantRows.Next() {
		var v domain.ProductVariant
		if err := variantRows.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name, &v.CostCents, &v.PriceCents, &v.Stock, &v.Active); err != nil {
			return nil, err
		}
		snapshot.Variants = append(snapshot.Variants, v)
	}
	if err := variantRows.Err(); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CreateSale persists a sale, its items and payments, applies the stock
// deltas against locked rows, appends the inventory log entries, applies the
// cashback capital delta, and assigns the next per-branch daily receipt
// number. All of it commits or none of it does.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, stockDeltas []store.StockDelta, capitalDeltaCents int64) (*domain.Sale, error) {
	if sale.BranchID == "" || sale.CashierID == "" {
		return nil, store.ErrInvalidRequest
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	day := nowDateUTC(sale.CreatedAt)
	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO receipt_counters (branch_id, day, counter)
		VALUES ($1,$2,1)
		ON CONFLICT (branch_id, day)
		DO UPDATE SET counter = receipt_counters.counter + 1
		RETURNING counter
	`, sale.BranchID, day).Scan(&seq)
	if err != nil {
		return nil, err
	}
	sale.ReceiptNumber = domain.FormatReceiptNumber(day, seq)

	for i, delta := range stockDeltas {
		var current int
		if delta.VariantID != "" {
			err = tx.QueryRowContext(ctx, `
				SELECT stock FROM product_variants WHERE id = $1 FOR UPDATE
			`, delta.VariantID).Scan(&current)
		} else {
			err = tx.QueryRowContext(ctx, `
				SELECT stock FROM products WHERE id = $1 FOR UPDATE
			`, delta.ProductID).Scan(&current)
		}
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		if current < delta.Quantity {
			return nil, &store.InsufficientStockError{Item: delta.Name, Available: current, Requested: delta.Quantity}
		}

		next := current - delta.Quantity
		if delta.VariantID != "" {
			_, err = tx.ExecContext(ctx, `
				UPDATE product_variants SET stock = $2, updated_at = now() WHERE id = $1
			`, delta.VariantID, next)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE products SET stock = $2, updated_at = now() WHERE id = $1
			`, delta.ProductID, next)
		}
		if err != nil {
			return nil, err
		}

		entry := delta.LogEntry
		entry.PreviousQuantity = current
		entry.NewQuantity = next
		entry.QuantityChange = -delta.Quantity
		entry.SaleID = sale.ID
		if entry.ID == "" {
			entry.ID = xid.New("invlog")
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = sale.CreatedAt
		}
		if err := insertInventoryLog(ctx, tx, entry); err != nil {
			return nil, err
		}
		stockDeltas[i].LogEntry = entry
	}

	if capitalDeltaCents != 0 {
		var capital int64
		err = tx.QueryRowContext(ctx, `
			SELECT cashback_capital_cents FROM branches WHERE id = $1 FOR UPDATE
		`, sale.BranchID).Scan(&capital)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, err
		}
		next := capital + capitalDeltaCents
		if next < 0 {
			return nil, &store.InsufficientCapitalError{Available: capital, Required: -capitalDeltaCents}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE branches SET cashback_capital_cents = $2, updated_at = now() WHERE id = $1
		`, sale.BranchID, next)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, receipt_number, branch_id, cashier_id, session_id, customer_name,
			transaction_type, subtotal_cents, tax_cents, discount_cents, total_cents,
			amount_paid_cents, amount_due_cents, change_given_cents,
			cashback_amount_cents, service_charge_cents, payment_status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, sale.ID, sale.ReceiptNumber, sale.BranchID, sale.CashierID, nullIfEmpty(sale.SessionID),
		sale.CustomerName, sale.TransactionType, sale.SubtotalCents, sale.TaxCents,
		sale.DiscountCents, sale.TotalCents, sale.AmountPaidCents, sale.AmountDueCents,
		sale.ChangeGivenCents, sale.CashbackAmountCents, sale.ServiceChargeCents,
		sale.PaymentStatus, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, variant_id, name, sku, cost_cents, price_cents, qty, tax_cents, total_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, sale.ID, item.ProductID, nullIfEmpty(item.VariantID), item.Name, item.SKU,
			item.CostCents, item.PriceCents, item.Quantity, item.TaxCents, item.TotalCents)
		if err != nil {
			return nil, err
		}
	}

	for _, payment := range sale.Payments {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_payments (sale_id, method, amount_cents, reference, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, sale.ID, payment.Method, payment.AmountCents, nullIfEmpty(payment.Reference), payment.CreatedAt)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT id, receipt_number, branch_id, cashier_id, COALESCE(session_id,''), customer_name,
			transaction_type, subtotal_cents, tax_cents, discount_cents, total_cents,
			amount_paid_cents, amount_due_cents, change_given_cents,
			cashback_amount_cents, service_charge_cents, payment_status, created_at
		FROM sales
		WHERE id = $1
	`, saleID))
	if err != nil {
		return nil, err
	}
	if err := s.attachSaleChildren(ctx, []domain.Sale{*sale}, func(sales []domain.Sale) {
		*sale = sales[0]
	}); err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) (*domain.SaleListResponse, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	from := filter.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := filter.To
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	where := `
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR cashier_id = $2)
			AND ($3 = '' OR session_id = $3)
			AND ($4 = '' OR transaction_type = $4)
			AND ($5 = '' OR payment_status = $5)
			AND ($6 = '' OR receipt_number ILIKE '%' || $6 || '%' OR customer_name ILIKE '%' || $6 || '%')
			AND created_at >= $7
			AND created_at < $8
	`
	args := []any{filter.BranchID, filter.CashierID, filter.SessionID, filter.TransactionType, filter.PaymentStatus, filter.Search, from, to}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, receipt_number, branch_id, cashier_id, COALESCE(session_id,''), customer_name,
			transaction_type, subtotal_cents, tax_cents, discount_cents, total_cents,
			amount_paid_cents, amount_due_cents, change_given_cents,
			cashback_amount_cents, service_charge_cents, payment_status, created_at
		FROM sales`+where+`
		ORDER BY created_at DESC
		LIMIT $9 OFFSET $10
	`, append(args, limit, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSaleRows(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachSaleChildren(ctx, sales, func(out []domain.Sale) {
		sales = out
	}); err != nil {
		return nil, err
	}

	return &domain.SaleListResponse{Sales: sales, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *Store) AddPayment(ctx context.Context, saleID string, payment domain.Payment) (*domain.Sale, error) {
	if payment.AmountCents < 1 || !domain.IsSupportedPaymentMethod(payment.Method) {
		return nil, store.ErrInvalidRequest
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var paidCents, dueCents int64
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT amount_paid_cents, amount_due_cents, payment_status
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&paidCents, &dueCents, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status == domain.PaymentStatusPaid {
		return nil, store.ErrInvalidState
	}

	payment.SaleID = saleID
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sale_payments (sale_id, method, amount_cents, reference, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, saleID, payment.Method, payment.AmountCents, nullIfEmpty(payment.Reference), payment.CreatedAt)
	if err != nil {
		return nil, err
	}

	newPaid := paidCents + payment.AmountCents
	newDue := dueCents - payment.AmountCents
	change := int64(0)
	if newDue < 0 {
		change = -newDue
		newDue = 0
	}
	newStatus := domain.PaymentStatusPartial
	if newDue == 0 {
		newStatus = domain.PaymentStatusPaid
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET amount_paid_cents = $2, amount_due_cents = $3, change_given_cents = change_given_cents + $4, payment_status = $5
		WHERE id = $1
	`, saleID, newPaid, newDue, change, newStatus)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSaleByID(ctx, saleID)
}

func (s *Store) GetDailySummary(ctx context.Context, branchID string, cashierID string, day time.Time) (*domain.DailySummary, error) {
	dayStart := nowDateUTC(day)
	dayEnd := dayStart.Add(24 * time.Hour)

	summary := &domain.DailySummary{
		BranchID:  branchID,
		CashierID: cashierID,
		Date:      dayStart.Format("2006-01-02"),
		ByPayment: make([]domain.PaymentMethodBreakdown, 0, 4),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::bigint, COALESCE(SUM(total_cents),0)::bigint
		FROM sales
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR cashier_id = $2)
			AND transaction_type = $3
			AND payment_status = $4
			AND created_at >= $5
			AND created_at < $6
	`, branchID, cashierID, domain.TxTypePurchase, domain.PaymentStatusPaid, dayStart, dayEnd).Scan(&summary.TotalSales, &summary.TotalRevenueCents)
	if err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM((si.price_cents - si.cost_cents) * si.qty),0)::bigint
		FROM sale_items si
		JOIN sales s ON s.id = si.sale_id
		WHERE ($1 = '' OR s.branch_id = $1)
			AND ($2 = '' OR s.cashier_id = $2)
			AND s.transaction_type = $3
			AND s.payment_status = $4
			AND s.created_at >= $5
			AND s.created_at < $6
	`, branchID, cashierID, domain.TxTypePurchase, domain.PaymentStatusPaid, dayStart, dayEnd).Scan(&summary.TotalProfitCents)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sp.method, COUNT(*)::bigint, COALESCE(SUM(sp.amount_cents),0)::bigint
		FROM sale_payments sp
		JOIN sales s ON s.id = sp.sale_id
		WHERE ($1 = '' OR s.branch_id = $1)
			AND ($2 = '' OR s.cashier_id = $2)
			AND s.transaction_type = $3
			AND s.payment_status = $4
			AND s.created_at >= $5
			AND s.created_at < $6
		GROUP BY sp.method
		ORDER BY sp.method
	`, branchID, cashierID, domain.TxTypePurchase, domain.PaymentStatusPaid, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var row domain.PaymentMethodBreakdown
		if err := rows.Scan(&row.Method, &row.Count, &row.AmountCents); err != nil {
			return nil, err
		}
		summary.ByPayment = append(summary.ByPayment, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Store) AdjustStock(ctx context.Context, entry domain.InventoryLogEntry) (*domain.InventoryLogEntry, error) {
	if entry.BranchID == "" || entry.ProductID == "" || entry.QuantityChange == 0 {
		return nil, store.ErrInvalidRequest
	}
	if entry.ID == "" {
		entry.ID = xid.New("invlog")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	var itemName string
	if entry.VariantID != "" {
		err = tx.QueryRowContext(ctx, `
			SELECT stock, name FROM product_variants WHERE id = $1 FOR UPDATE
		`, entry.VariantID).Scan(&current, &itemName)
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT stock, name FROM products WHERE id = $1 FOR UPDATE
		`, entry.ProductID).Scan(&current, &itemName)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	next := current + entry.QuantityChange
	if next < 0 {
		return nil, &store.InsufficientStockError{Item: itemName, Available: current, Requested: -entry.QuantityChange}
	}

	if entry.VariantID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE product_variants SET stock = $2, updated_at = now() WHERE id = $1
		`, entry.VariantID, next)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET stock = $2, updated_at = now() WHERE id = $1
		`, entry.ProductID, next)
	}
	if err != nil {
		return nil, err
	}

	entry.PreviousQuantity = current
	entry.NewQuantity = next
	if err := insertInventoryLog(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := entry
	return &saved, nil
}

func (s *Store) ListInventoryLogs(ctx context.Context, filter domain.InventoryLogFilter) ([]domain.InventoryLogEntry, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
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
		SELECT id, branch_id, product_id, COALESCE(variant_id,''), change_type,
			qty_change, prev_qty, new_qty, reason, COALESCE(sale_id,''), recorded_by, created_at
		FROM inventory_logs
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR product_id = $2)
			AND ($3 = '' OR variant_id = $3)
			AND ($4 = '' OR change_type = $4)
			AND created_at >= $5
			AND created_at < $6
		ORDER BY created_at DESC, id DESC
		LIMIT $7 OFFSET $8
	`, filter.BranchID, filter.ProductID, filter.VariantID, filter.ChangeType, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.InventoryLogEntry, 0, limit)
	for rows.Next() {
		var entry domain.InventoryLogEntry
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ProductID, &entry.VariantID, &entry.ChangeType,
			&entry.QuantityChange, &entry.PreviousQuantity, &entry.NewQuantity, &entry.Reason, &entry.SaleID,
			&entry.RecordedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateSession relies on the partial unique index over (branch_id, opened_by)
// WHERE status = 'open', so concurrent opens by the same cashier race on the
// constraint instead of on a read-check gap.
func (s *Store) CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error) {
	if session.BranchID == "" || session.OpenedByID == "" || session.OpeningBalanceCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if session.ID == "" {
		session.ID = xid.New("sess")
	}
	if session.StartTime.IsZero() {
		session.StartTime = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen
	session.EndTime = nil
	session.ClosedByID = ""
	session.ClosingBalanceCents = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			id, branch_id, name, status, opened_by, closed_by,
			opening_balance_cents, closing_balance_cents, start_time, end_time
		)
		VALUES ($1,$2,$3,$4,$5,NULL,$6,$7,$8,NULL)
	`, session.ID, session.BranchID, session.Name, session.Status, session.OpenedByID,
		session.OpeningBalanceCents, session.ClosingBalanceCents, session.StartTime)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	saved := session
	return &saved, nil
}

func (s *Store) GetSessionByID(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.querySession(ctx, `WHERE id = $1`, sessionID)
}

func (s *Store) GetActiveSession(ctx context.Context, branchID string, openedByID string) (*domain.Session, error) {
	return s.querySession(ctx, `WHERE branch_id = $1 AND opened_by = $2 AND status = 'open'`, branchID, openedByID)
}

func (s *Store) querySession(ctx context.Context, where string, args ...any) (*domain.Session, error) {
	var session domain.Session
	var closedBy sql.NullString
	var endTime sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, branch_id, name, status, opened_by, closed_by,
			opening_balance_cents, closing_balance_cents, start_time, end_time
		FROM sessions
	`+where, args...).Scan(
		&session.ID,
		&session.BranchID,
		&session.Name,
		&session.Status,
		&session.OpenedByID,
		&closedBy,
		&session.OpeningBalanceCents,
		&session.ClosingBalanceCents,
		&session.StartTime,
		&endTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.StartTime = session.StartTime.UTC()
	if closedBy.Valid {
		session.ClosedByID = closedBy.String
	}
	if endTime.Valid {
		at := endTime.Time.UTC()
		session.EndTime = &at
	}
	return &session, nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, closedByID string, closingBalanceCents int64, endTime time.Time) (*domain.Session, error) {
	if closingBalanceCents < 0 {
		return nil, store.ErrInvalidRequest
	}
	if endTime.IsZero() {
		endTime = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM sessions WHERE id = $1 FOR UPDATE
	`, sessionID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SessionStatusOpen {
		return nil, store.ErrInvalidState
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = 'closed', closed_by = $2, closing_balance_cents = $3, end_time = $4
		WHERE id = $1
	`, sessionID, closedByID, closingBalanceCents, endTime)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetSessionByID(ctx, sessionID)
}

func (s *Store) ListSessions(ctx context.Context, branchID string, status string, limit int) ([]domain.Session, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, name, status, opened_by, closed_by,
			opening_balance_cents, closing_balance_cents, start_time, end_time
		FROM sessions
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY start_time DESC
		LIMIT $3
	`, branchID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0, limit)
	for rows.Next() {
		var session domain.Session
		var closedBy sql.NullString
		var endTime sql.NullTime
		if err := rows.Scan(&session.ID, &session.BranchID, &session.Name, &session.Status,
			&session.OpenedByID, &closedBy, &session.OpeningBalanceCents, &session.ClosingBalanceCents,
			&session.StartTime, &endTime); err != nil {
			return nil, err
		}
		session.StartTime = session.StartTime.UTC()
		if closedBy.Valid {
			session.ClosedByID = closedBy.String
		}
		if endTime.Valid {
			at := endTime.Time.UTC()
			session.EndTime = &at
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.BranchID == "" || expense.AmountCents < 1 || strings.TrimSpace(expense.Category) == "" {
		return nil, store.ErrInvalidRequest
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.PaidAt.IsZero() {
		expense.PaidAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, branch_id, session_id, category, amount_cents, description, paid_at, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, expense.ID, expense.BranchID, nullIfEmpty(expense.SessionID), expense.Category,
		expense.AmountCents, expense.Description, expense.PaidAt, expense.RecordedBy)
	if err != nil {
		return nil, err
	}
	saved := expense
	return &saved, nil
}

func (s *Store) ListExpenses(ctx context.Context, branchID string, sessionID string, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	if limit < 1 {
		limit = 200
	}
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, COALESCE(session_id,''), category, amount_cents, description, paid_at, recorded_by
		FROM expenses
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR session_id = $2)
			AND paid_at >= $3
			AND paid_at < $4
		ORDER BY paid_at DESC
		LIMIT $5
	`, branchID, sessionID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, limit)
	for rows.Next() {
		var expense domain.Expense
		if err := rows.Scan(&expense.ID, &expense.BranchID, &expense.SessionID, &expense.Category,
			&expense.AmountCents, &expense.Description, &expense.PaidAt, &expense.RecordedBy); err != nil {
			return nil, err
		}
		expense.PaidAt = expense.PaidAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
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
			id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.BranchID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, branch_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE branch_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, branchID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.BranchID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
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
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
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

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertInventoryLog(ctx context.Context, tx execer, entry domain.InventoryLogEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_logs (
			id, branch_id, product_id, variant_id, change_type,
			qty_change, prev_qty, new_qty, reason, sale_id, recorded_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.BranchID, entry.ProductID, nullIfEmpty(entry.VariantID), entry.ChangeType,
		entry.QuantityChange, entry.PreviousQuantity, entry.NewQuantity, entry.Reason,
		nullIfEmpty(entry.SaleID), entry.RecordedBy, entry.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(
		&sale.ID,
		&sale.ReceiptNumber,
		&sale.BranchID,
		&sale.CashierID,
		&sale.SessionID,
		&sale.CustomerName,
		&sale.TransactionType,
		&sale.SubtotalCents,
		&sale.TaxCents,
		&sale.DiscountCents,
		&sale.TotalCents,
		&sale.AmountPaidCents,
		&sale.AmountDueCents,
		&sale.ChangeGivenCents,
		&sale.CashbackAmountCents,
		&sale.ServiceChargeCents,
		&sale.PaymentStatus,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func scanSaleRows(rows *sql.Rows) (*domain.Sale, error) {
	return scanSale(rows)
}

func (s *Store) attachSaleChildren(ctx context.Context, sales []domain.Sale, assign func([]domain.Sale)) error {
	if len(sales) == 0 {
		assign(sales)
		return nil
	}
	ids := make([]string, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, COALESCE(variant_id,''), name, sku, cost_cents, price_cents, qty, tax_cents, total_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return err
	}
	itemMap := make(map[string][]domain.SaleItem, len(ids))
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.SaleID, &item.ProductID, &item.VariantID, &item.Name, &item.SKU,
			&item.CostCents, &item.PriceCents, &item.Quantity, &item.TaxCents, &item.TotalCents); err != nil {
			_ = itemRows.Close()
			return err
		}
		itemMap[item.SaleID] = append(itemMap[item.SaleID], item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return err
	}
	_ = itemRows.Close()

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, method, amount_cents, COALESCE(reference,''), created_at
		FROM sale_payments
		WHERE sale_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, ids)
	if err != nil {
		return err
	}
	paymentMap := make(map[string][]domain.Payment, len(ids))
	for paymentRows.Next() {
		var payment domain.Payment
		if err := paymentRows.Scan(&payment.SaleID, &payment.Method, &payment.AmountCents, &payment.Reference, &payment.CreatedAt); err != nil {
			_ = paymentRows.Close()
			return err
		}
		payment.CreatedAt = payment.CreatedAt.UTC()
		paymentMap[payment.SaleID] = append(paymentMap[payment.SaleID], payment)
	}
	if err := paymentRows.Err(); err != nil {
		_ = paymentRows.Close()
		return err
	}
	_ = paymentRows.Close()

	for i := range sales {
		sales[i].Items = itemMap[sales[i].ID]
		sales[i].Payments = paymentMap[sales[i].ID]
	}
	assign(sales)
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
