package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
)

func TestCreateSaleCommitsStockLedgerAndReceipt(t *testing.T) {
	databaseURL := os.Getenv("KASIRPRO_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRPRO_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	branchID := fmt.Sprintf("branch-sale-it-%d", stamp)
	productID := fmt.Sprintf("prod-sale-it-%d", stamp)
	saleID := fmt.Sprintf("sale-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_payments WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_logs WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipt_counters WHERE branch_id = $1`, branchID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM branches WHERE id = $1`, branchID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, address, phone, currency, receipt_footer, cashback_capital_cents, created_at, updated_at)
		VALUES ($1, 'Cabang Integrasi', '', '', 'IDR', '', 100000, now(), now())
	`, branchID); err != nil {
		t.Fatalf("insert branch: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, branch_id, sku, name, category, cost_cents, price_cents, stock, active, created_at, updated_at)
		VALUES ($1, $2, 'SKU-SALE-IT', 'Produk Integrasi', 'sembako', 2700, 3500, 10, true, now(), now())
	`, productID, branchID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	now := time.Now().UTC()
	sale := domain.Sale{
		ID:               saleID,
		BranchID:         branchID,
		CashierID:        "cashier",
		TransactionType:  domain.TxTypePurchase,
		SubtotalCents:    7000,
		TotalCents:       7000,
		AmountPaidCents:  10000,
		ChangeGivenCents: 3000,
		PaymentStatus:    domain.PaymentStatusPaid,
		CreatedAt:        now,
		Items: []domain.SaleItem{{
			ProductID:  productID,
			Name:       "Produk Integrasi",
			SKU:        "SKU-SALE-IT",
			CostCents:  2700,
			PriceCents: 3500,
			Quantity:   2,
			TotalCents: 7000,
		}},
		Payments: []domain.Payment{{
			Method:      domain.PaymentMethodCash,
			AmountCents: 10000,
			CreatedAt:   now,
		}},
	}
	deltas := []store.StockDelta{{
		ProductID: productID,
		Name:      "Produk Integrasi",
		Quantity:  2,
		LogEntry: domain.InventoryLogEntry{
			BranchID:   branchID,
			ProductID:  productID,
			ChangeType: domain.ChangeTypeSale,
			Reason:     "penjualan",
			RecordedBy: "cashier",
		},
	}}

	created, err := s.CreateSale(ctx, sale, deltas, 0)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	wantReceipt := domain.FormatReceiptNumber(nowDateUTC(now), 1)
	if created.ReceiptNumber != wantReceipt {
		t.Fatalf("expected receipt %s, got %s", wantReceipt, created.ReceiptNumber)
	}

	var stock int
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock
		FROM products
		WHERE id = $1
	`, productID).Scan(&stock); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stock != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", stock)
	}

	var prevQty, newQty, change int
	if err := s.db.QueryRowContext(ctx, `
		SELECT prev_qty, new_qty, qty_change
		FROM inventory_logs
		WHERE sale_id = $1
	`, saleID).Scan(&prevQty, &newQty, &change); err != nil {
		t.Fatalf("query inventory log: %v", err)
	}
	if prevQty != 10 || newQty != 8 || change != -2 {
		t.Fatalf("expected ledger 10 -> 8 change -2, got %d -> %d change %d", prevQty, newQty, change)
	}

	// A shortfall after the first sale must leave every table untouched.
	failing := sale
	failing.ID = saleID + "-short"
	_, err = s.CreateSale(ctx, failing, []store.StockDelta{{
		ProductID: productID,
		Name:      "Produk Integrasi",
		Quantity:  9,
		LogEntry: domain.InventoryLogEntry{
			BranchID:   branchID,
			ProductID:  productID,
			ChangeType: domain.ChangeTypeSale,
			RecordedBy: "cashier",
		},
	}}, 0)
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1
	`, productID).Scan(&stock); err != nil {
		t.Fatalf("query stock after rollback: %v", err)
	}
	if stock != 8 {
		t.Fatalf("expected stock unchanged at 8 after rollback, got %d", stock)
	}

	var counter int64
	if err := s.db.QueryRowContext(ctx, `
		SELECT counter FROM receipt_counters WHERE branch_id = $1
	`, branchID).Scan(&counter); err != nil {
		t.Fatalf("query receipt counter: %v", err)
	}
	if counter != 1 {
		t.Fatalf("expected counter 1 after rolled back attempt, got %d", counter)
	}
}
