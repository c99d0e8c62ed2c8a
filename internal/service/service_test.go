package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"kasirpro/backend/internal/cache"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
	"kasirpro/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopReceiptConfigCache{}, "main-branch", 10000, 5*time.Minute)
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func openSession(t *testing.T, svc *Service, ctx context.Context, openingCents int64) domain.Session {
	t.Helper()
	session, err := svc.StartSession(ctx, domain.StartSessionRequest{
		BranchID:            "main-branch",
		OpeningBalanceCents: openingCents,
	})
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}
	return session
}

func TestPurchaseSaleDecrementsStockAndWritesLedger(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	session := openSession(t, svc, ctx, 500000)

	sale, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-mie-01", Quantity: 2}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 10000}},
	})
	if err != nil {
		t.Fatalf("purchase sale failed: %v", err)
	}
	if sale.SessionID != session.ID {
		t.Fatalf("expected sale attached to session %s, got %s", session.ID, sale.SessionID)
	}
	if sale.TotalCents != 7000 {
		t.Fatalf("expected total 7000, got %d", sale.TotalCents)
	}
	if sale.ChangeGivenCents != 3000 {
		t.Fatalf("expected change 3000, got %d", sale.ChangeGivenCents)
	}
	if sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid status, got %s", sale.PaymentStatus)
	}

	product, err := svc.repo.GetProductByID(context.Background(), "prod-mie-01")
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if product.Stock != 118 {
		t.Fatalf("expected stock 118 after selling 2 of 120, got %d", product.Stock)
	}

	logs, err := svc.ListInventoryLogs(ctx, domain.InventoryLogFilter{ProductID: "prod-mie-01"})
	if err != nil {
		t.Fatalf("list inventory logs failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(logs))
	}
	entry := logs[0]
	if entry.PreviousQuantity != 120 || entry.NewQuantity != 118 || entry.QuantityChange != -2 {
		t.Fatalf("unexpected ledger entry: prev=%d new=%d change=%d", entry.PreviousQuantity, entry.NewQuantity, entry.QuantityChange)
	}
	if entry.NewQuantity != entry.PreviousQuantity+entry.QuantityChange {
		t.Fatalf("ledger entry does not balance")
	}
	if entry.SaleID != sale.ID {
		t.Fatalf("expected ledger entry linked to sale %s, got %s", sale.ID, entry.SaleID)
	}
	if entry.ChangeType != domain.ChangeTypeSale {
		t.Fatalf("expected change type sale, got %s", entry.ChangeType)
	}
}

func TestPurchaseSaleWithoutSessionIsTolerated(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-air-01", Quantity: 1}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 3900}},
	})
	if err != nil {
		t.Fatalf("purchase without session failed: %v", err)
	}
	if sale.SessionID != "" {
		t.Fatalf("expected no session id, got %s", sale.SessionID)
	}
}

func TestPurchaseSaleRejectsInsufficientPayment(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	_, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-mie-01", Quantity: 2}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 5000}},
	})
	var paymentErr *store.InsufficientPaymentError
	if !errors.As(err, &paymentErr) {
		t.Fatalf("expected InsufficientPaymentError, got %v", err)
	}
	if paymentErr.Paid != 5000 || paymentErr.Required != 7000 {
		t.Fatalf("unexpected amounts: paid=%d required=%d", paymentErr.Paid, paymentErr.Required)
	}
	if !errors.Is(err, store.ErrInsufficientResource) {
		t.Fatalf("expected error to unwrap to ErrInsufficientResource")
	}

	product, _ := svc.repo.GetProductByID(context.Background(), "prod-mie-01")
	if product.Stock != 120 {
		t.Fatalf("stock must be untouched after rejected sale, got %d", product.Stock)
	}
}

func TestPurchaseSaleRejectsStockShortfall(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	_, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-mie-01", Quantity: 121}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 1000000}},
	})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Available != 120 || stockErr.Requested != 121 {
		t.Fatalf("unexpected amounts: available=%d requested=%d", stockErr.Available, stockErr.Requested)
	}

	product, _ := svc.repo.GetProductByID(context.Background(), "prod-mie-01")
	if product.Stock != 120 {
		t.Fatalf("stock must be untouched after rejected sale, got %d", product.Stock)
	}
	logs, _ := svc.ListInventoryLogs(ctx, domain.InventoryLogFilter{ProductID: "prod-mie-01"})
	if len(logs) != 0 {
		t.Fatalf("expected no ledger entries after rejected sale, got %d", len(logs))
	}
}

func TestPurchaseSaleRejectsDuplicateLineOversell(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	// Two lines of the same product, each within stock 40 on its own but
	// jointly overselling it.
	_, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items: []domain.SaleItemInput{
			{ProductID: "prod-roti-01", Quantity: 30},
			{ProductID: "prod-roti-01", Quantity: 30},
		},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 1_100_000}},
	})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.Available != 40 || stockErr.Requested != 60 {
		t.Fatalf("unexpected amounts: available=%d requested=%d", stockErr.Available, stockErr.Requested)
	}

	product, _ := svc.repo.GetProductByID(context.Background(), "prod-roti-01")
	if product.Stock != 40 {
		t.Fatalf("stock must be untouched after rejected sale, got %d", product.Stock)
	}
	logs, _ := svc.ListInventoryLogs(ctx, domain.InventoryLogFilter{ProductID: "prod-roti-01"})
	if len(logs) != 0 {
		t.Fatalf("expected no ledger entries after rejected sale, got %d", len(logs))
	}
}

func TestReceiptNumbersSequenceWithinDay(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	var receipts []string
	for i := 0; i < 2; i++ {
		sale, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
			Items:    []domain.SaleItemInput{{ProductID: "prod-air-01", Quantity: 1}},
			Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 3900}},
		})
		if err != nil {
			t.Fatalf("sale %d failed: %v", i, err)
		}
		receipts = append(receipts, sale.ReceiptNumber)
	}

	today := time.Now().UTC().Format("20060102")
	want0 := fmt.Sprintf("RCP-%s-0001", today)
	want1 := fmt.Sprintf("RCP-%s-0002", today)
	if receipts[0] != want0 || receipts[1] != want1 {
		t.Fatalf("expected %s then %s, got %v", want0, want1, receipts)
	}
}

func TestCashbackSaleDrawsDownCapitalPool(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CreateCashbackSale(ctx, domain.CreateCashbackSaleRequest{
		CashbackAmountCents: 40000,
		ServiceChargeCents:  800,
		Payments:            []domain.PaymentInput{{Method: "transfer", AmountCents: 40800, Reference: "TRF-001"}},
	})
	if err != nil {
		t.Fatalf("cashback sale failed: %v", err)
	}
	if sale.TransactionType != domain.TxTypeCashback {
		t.Fatalf("expected cashback type, got %s", sale.TransactionType)
	}
	if sale.TotalCents != 40000 {
		t.Fatalf("expected total to be the cashback amount 40000, got %d", sale.TotalCents)
	}
	if sale.SubtotalCents != 40800 {
		t.Fatalf("expected subtotal cashback+fee 40800, got %d", sale.SubtotalCents)
	}
	if sale.AmountDueCents != 0 || sale.ChangeGivenCents != 0 {
		t.Fatalf("expected settled sale, got due=%d change=%d", sale.AmountDueCents, sale.ChangeGivenCents)
	}
	if sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid status, got %s", sale.PaymentStatus)
	}

	branch, err := svc.GetBranch(context.Background(), "main-branch")
	if err != nil {
		t.Fatalf("get branch failed: %v", err)
	}
	if branch.CashbackCapitalCents != 5_000_000_00-40000 {
		t.Fatalf("expected capital %d, got %d", 5_000_000_00-40000, branch.CashbackCapitalCents)
	}
}

func TestCashbackSaleDerivesServiceChargeFromReceived(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CreateCashbackSale(ctx, domain.CreateCashbackSaleRequest{
		CashbackAmountCents: 40000,
		Payments:            []domain.PaymentInput{{Method: "card", AmountCents: 40800, Reference: "CARD-01"}},
	})
	if err != nil {
		t.Fatalf("cashback sale failed: %v", err)
	}
	if sale.ServiceChargeCents != 800 {
		t.Fatalf("expected derived service charge 800, got %d", sale.ServiceChargeCents)
	}
	if got := sale.AmountPaidCents - sale.TotalCents; got != sale.ServiceChargeCents {
		t.Fatalf("payments minus total must reproduce the charge, got %d", got)
	}
}

func TestCashbackSalePartialThenToppedUp(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CreateCashbackSale(ctx, domain.CreateCashbackSaleRequest{
		CashbackAmountCents: 40000,
		ServiceChargeCents:  800,
		Payments:            []domain.PaymentInput{{Method: "transfer", AmountCents: 40000, Reference: "TRF-010"}},
	})
	if err != nil {
		t.Fatalf("cashback sale failed: %v", err)
	}
	if sale.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected partial status for underpaid cashback, got %s", sale.PaymentStatus)
	}
	if sale.AmountDueCents != 800 {
		t.Fatalf("expected 800 outstanding, got %d", sale.AmountDueCents)
	}

	settled, err := svc.AddPayment(ctx, sale.ID, domain.AddPaymentRequest{
		Method:      "transfer",
		AmountCents: 800,
		Reference:   "TRF-011",
	})
	if err != nil {
		t.Fatalf("top-up payment failed: %v", err)
	}
	if settled.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected paid after top-up, got %s", settled.PaymentStatus)
	}
	if settled.AmountDueCents != 0 || settled.AmountPaidCents != 40800 {
		t.Fatalf("unexpected totals after top-up: due=%d paid=%d", settled.AmountDueCents, settled.AmountPaidCents)
	}
	if len(settled.Payments) != 2 {
		t.Fatalf("expected 2 payments on the sale, got %d", len(settled.Payments))
	}
}

func TestCashbackSaleRejectsCapitalShortfall(t *testing.T) {
	svc := newTestService()

	_, err := svc.AdjustCapital(adminCtx(), "main-branch", domain.AdjustCapitalRequest{
		AmountCents: -(5_000_000_00 - 100),
		Notes:       "drain for test",
	})
	if err != nil {
		t.Fatalf("capital adjustment failed: %v", err)
	}

	_, err = svc.CreateCashbackSale(cashierCtx(), domain.CreateCashbackSaleRequest{
		CashbackAmountCents: 400,
		ServiceChargeCents:  8,
		Payments:            []domain.PaymentInput{{Method: "transfer", AmountCents: 408, Reference: "TRF-002"}},
	})
	var capitalErr *store.InsufficientCapitalError
	if !errors.As(err, &capitalErr) {
		t.Fatalf("expected InsufficientCapitalError, got %v", err)
	}
	if capitalErr.Available != 100 || capitalErr.Required != 400 {
		t.Fatalf("unexpected amounts: available=%d required=%d", capitalErr.Available, capitalErr.Required)
	}

	branch, _ := svc.GetBranch(context.Background(), "main-branch")
	if branch.CashbackCapitalCents != 100 {
		t.Fatalf("pool must be rejected not clamped, got %d", branch.CashbackCapitalCents)
	}
}

func TestCashbackSaleRejectsCashPayment(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateCashbackSale(cashierCtx(), domain.CreateCashbackSaleRequest{
		CashbackAmountCents: 40000,
		ServiceChargeCents:  800,
		Payments:            []domain.PaymentInput{{Method: "cash", AmountCents: 40800}},
	})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected invalid request for cash-funded cashback, got %v", err)
	}
}

func TestSessionExclusivePerCashier(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	openSession(t, svc, ctx, 250000)

	_, err := svc.StartSession(ctx, domain.StartSessionRequest{
		BranchID:            "main-branch",
		OpeningBalanceCents: 100000,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate open session, got %v", err)
	}

	// A different cashier in the same branch is fine.
	otherCtx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	if _, err := svc.StartSession(otherCtx, domain.StartSessionRequest{BranchID: "main-branch"}); err != nil {
		t.Fatalf("expected second cashier to open a session, got %v", err)
	}
}

func TestSessionStartRaceAdmitsSingleWinner(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.StartSession(ctx, domain.StartSessionRequest{
				BranchID:            "main-branch",
				OpeningBalanceCents: 100000,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	opened := 0
	conflicts := 0
	for err := range errs {
		switch {
		case err == nil:
			opened++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error from concurrent start: %v", err)
		}
	}
	if opened != 1 || conflicts != attempts-1 {
		t.Fatalf("expected exactly one open out of %d, got opened=%d conflicts=%d", attempts, opened, conflicts)
	}
}

func TestAddPaymentRejectsSettledSale(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-air-01", Quantity: 1}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 3900}},
	})
	if err != nil {
		t.Fatalf("purchase sale failed: %v", err)
	}

	_, err = svc.AddPayment(ctx, sale.ID, domain.AddPaymentRequest{Method: "cash", AmountCents: 1000})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state for payment on settled sale, got %v", err)
	}
}

func TestReceiptDataRejectsCashbackSale(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	cashback, err := svc.CreateCashbackSale(ctx, domain.CreateCashbackSaleRequest{
		CashbackAmountCents: 40000,
		ServiceChargeCents:  800,
		Payments:            []domain.PaymentInput{{Method: "transfer", AmountCents: 40800, Reference: "TRF-003"}},
	})
	if err != nil {
		t.Fatalf("cashback sale failed: %v", err)
	}

	_, err = svc.BuildReceiptData(ctx, cashback.ID)
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state for cashback receipt, got %v", err)
	}

	purchase, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-air-01", Quantity: 1}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 3900}},
	})
	if err != nil {
		t.Fatalf("purchase sale failed: %v", err)
	}
	receipt, err := svc.BuildReceiptData(ctx, purchase.ID)
	if err != nil {
		t.Fatalf("receipt build failed: %v", err)
	}
	if receipt.Config.BusinessName != "Cabang Utama" {
		t.Fatalf("expected branch config on receipt, got %q", receipt.Config.BusinessName)
	}
	if receipt.ReceiptNumber != purchase.ReceiptNumber {
		t.Fatalf("receipt number mismatch")
	}
}

func TestSessionReconciliationBalances(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	openSession(t, svc, ctx, 500000)

	// Cash purchase: 2 x Kopi Sachet = 5200, tendered 6000, change 800.
	if _, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-kopi-01", Quantity: 2}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 6000}},
	}); err != nil {
		t.Fatalf("purchase sale failed: %v", err)
	}

	// Cashback funded by transfer: 40000 handed out of the drawer.
	if _, err := svc.CreateCashbackSale(ctx, domain.CreateCashbackSaleRequest{
		CashbackAmountCents: 40000,
		ServiceChargeCents:  800,
		Payments:            []domain.PaymentInput{{Method: "transfer", AmountCents: 40800, Reference: "TRF-010"}},
	}); err != nil {
		t.Fatalf("cashback sale failed: %v", err)
	}

	// Cash expense paid from the drawer.
	if _, err := svc.CreateExpense(ctx, domain.CreateExpenseRequest{
		Category:    "supplies",
		AmountCents: 2000,
		Description: "receipt paper",
	}); err != nil {
		t.Fatalf("expense failed: %v", err)
	}

	// expected = 500000 + (6000 - 800) - 40000 - 2000 = 463200
	session, err := svc.GetActiveSession(ctx, "main-branch")
	if err != nil {
		t.Fatalf("active session lookup failed: %v", err)
	}
	summary, err := svc.EndSession(ctx, domain.EndSessionRequest{
		SessionID:           session.ID,
		ClosingBalanceCents: 463200,
	})
	if err != nil {
		t.Fatalf("end session failed: %v", err)
	}

	recon := summary.Reconciliation
	if recon.CashSalesCents != 5200 {
		t.Fatalf("expected cash sales 5200, got %d", recon.CashSalesCents)
	}
	if recon.CashbackPaidCents != 40000 {
		t.Fatalf("expected cashback paid 40000, got %d", recon.CashbackPaidCents)
	}
	if recon.ExpensesPaidCents != 2000 {
		t.Fatalf("expected expenses 2000, got %d", recon.ExpensesPaidCents)
	}
	if recon.ExpectedCashCents != 463200 {
		t.Fatalf("expected cash 463200, got %d", recon.ExpectedCashCents)
	}
	if recon.VarianceCents != 0 || !recon.IsBalanced {
		t.Fatalf("expected zero variance and balanced, got variance=%d balanced=%v", recon.VarianceCents, recon.IsBalanced)
	}
	if summary.PurchaseCount != 1 || summary.PurchaseCents != 5200 {
		t.Fatalf("unexpected purchase rollup: count=%d cents=%d", summary.PurchaseCount, summary.PurchaseCents)
	}
	if summary.Cashback.Count != 1 || summary.Cashback.TotalGivenCents != 40000 || summary.Cashback.TotalServiceChargeCents != 800 {
		t.Fatalf("unexpected cashback rollup: %+v", summary.Cashback)
	}
	if summary.DurationMinutes == nil {
		t.Fatalf("expected duration for closed session")
	}
}

func TestSessionVarianceWithinTolerance(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	session := openSession(t, svc, ctx, 100000)

	summary, err := svc.EndSession(ctx, domain.EndSessionRequest{
		SessionID:           session.ID,
		ClosingBalanceCents: 100000 - 9999,
	})
	if err != nil {
		t.Fatalf("end session failed: %v", err)
	}
	if summary.Reconciliation.VarianceCents != -9999 {
		t.Fatalf("expected variance -9999, got %d", summary.Reconciliation.VarianceCents)
	}
	if !summary.Reconciliation.IsBalanced {
		t.Fatalf("variance within tolerance must count as balanced")
	}
}

func TestFullShiftReconciliationScenario(t *testing.T) {
	svc := newTestService()
	admin := adminCtx()
	ctx := cashierCtx()

	branch, err := svc.CreateBranch(admin, domain.BranchCreateRequest{
		Name:                 "Cabang Skenario",
		CashbackCapitalCents: 1000,
	})
	if err != nil {
		t.Fatalf("create branch failed: %v", err)
	}
	product, err := svc.CreateProduct(admin, domain.ProductCreateRequest{
		BranchID:   branch.ID,
		SKU:        "SKN-001",
		Name:       "Produk Skenario",
		Category:   "sembako",
		CostCents:  200,
		PriceCents: 300,
		Stock:      10,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}

	session, err := svc.StartSession(ctx, domain.StartSessionRequest{
		BranchID:            branch.ID,
		OpeningBalanceCents: 5000,
	})
	if err != nil {
		t.Fatalf("start session failed: %v", err)
	}

	sale, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		BranchID: branch.ID,
		Items:    []domain.SaleItemInput{{ProductID: product.ID, Quantity: 2}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 600}},
	})
	if err != nil {
		t.Fatalf("purchase sale failed: %v", err)
	}
	if sale.TotalCents != 600 || sale.ChangeGivenCents != 0 || sale.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("unexpected sale: total=%d change=%d status=%s", sale.TotalCents, sale.ChangeGivenCents, sale.PaymentStatus)
	}

	after, err := svc.repo.GetProductByID(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product failed: %v", err)
	}
	if after.Stock != 8 {
		t.Fatalf("expected stock 8 after selling 2 of 10, got %d", after.Stock)
	}
	logs, err := svc.ListInventoryLogs(ctx, domain.InventoryLogFilter{ProductID: product.ID})
	if err != nil {
		t.Fatalf("list inventory logs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].PreviousQuantity != 10 || logs[0].NewQuantity != 8 || logs[0].QuantityChange != -2 {
		t.Fatalf("unexpected ledger entries: %+v", logs)
	}

	if _, err := svc.CreateCashbackSale(ctx, domain.CreateCashbackSaleRequest{
		BranchID:            branch.ID,
		CashbackAmountCents: 400,
		ServiceChargeCents:  8,
		Payments:            []domain.PaymentInput{{Method: "transfer", AmountCents: 408, Reference: "TRF-SKN"}},
	}); err != nil {
		t.Fatalf("cashback sale failed: %v", err)
	}
	afterBranch, err := svc.GetBranch(ctx, branch.ID)
	if err != nil {
		t.Fatalf("get branch failed: %v", err)
	}
	if afterBranch.CashbackCapitalCents != 600 {
		t.Fatalf("expected capital 600 after cashback 400, got %d", afterBranch.CashbackCapitalCents)
	}

	summary, err := svc.EndSession(ctx, domain.EndSessionRequest{
		SessionID:           session.ID,
		ClosingBalanceCents: 5200,
	})
	if err != nil {
		t.Fatalf("end session failed: %v", err)
	}
	recon := summary.Reconciliation
	if recon.ExpectedCashCents != 5200 {
		t.Fatalf("expected drawer 5000+600-400=5200, got %d", recon.ExpectedCashCents)
	}
	if recon.VarianceCents != 0 || !recon.IsBalanced {
		t.Fatalf("expected balanced drawer, got variance=%d balanced=%v", recon.VarianceCents, recon.IsBalanced)
	}
}

func TestOpenSessionPreviewReconciliation(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	session := openSession(t, svc, ctx, 100000)

	preview := int64(100000 - 2500)
	detail, err := svc.GetSessionDetail(ctx, session.ID, &preview)
	if err != nil {
		t.Fatalf("session detail failed: %v", err)
	}

	recon := detail.Summary.Reconciliation
	if recon.ActualCashCents != preview {
		t.Fatalf("expected previewed drawer %d, got %d", preview, recon.ActualCashCents)
	}
	if recon.VarianceCents != -2500 {
		t.Fatalf("expected variance -2500 against preview, got %d", recon.VarianceCents)
	}
	if !recon.IsBalanced {
		t.Fatalf("preview within tolerance must count as balanced")
	}
	if detail.Summary.DurationMinutes != nil {
		t.Fatalf("open session must not report a duration")
	}

	withoutPreview, err := svc.GetSessionDetail(ctx, session.ID, nil)
	if err != nil {
		t.Fatalf("session detail failed: %v", err)
	}
	if withoutPreview.Summary.Reconciliation.ActualCashCents != 0 || withoutPreview.Summary.Reconciliation.VarianceCents != 0 {
		t.Fatalf("open session without preview must leave actual and variance unset")
	}
}

func TestEmptySessionReconciliationZeroes(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	session := openSession(t, svc, ctx, 250000)

	summary, err := svc.EndSession(ctx, domain.EndSessionRequest{
		SessionID:           session.ID,
		ClosingBalanceCents: 250000,
	})
	if err != nil {
		t.Fatalf("end session failed: %v", err)
	}

	recon := summary.Reconciliation
	if recon.CashSalesCents != 0 || recon.CashbackPaidCents != 0 || recon.ExpensesPaidCents != 0 {
		t.Fatalf("expected all-zero components for empty session, got %+v", recon)
	}
	if recon.ExpectedCashCents != 250000 || recon.VarianceCents != 0 {
		t.Fatalf("expected drawer to equal opening balance, got expected=%d variance=%d", recon.ExpectedCashCents, recon.VarianceCents)
	}
	if summary.PurchaseCount != 0 || len(summary.HourlySales) != 0 {
		t.Fatalf("expected empty rollups")
	}
}

func TestEndSessionRestrictedToOpenerOrAdmin(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()
	session := openSession(t, svc, ctx, 100000)

	strangerCtx := WithActor(context.Background(), domain.Actor{Username: "other-cashier", Role: "cashier"})
	_, err := svc.EndSession(strangerCtx, domain.EndSessionRequest{SessionID: session.ID, ClosingBalanceCents: 100000})
	if err == nil || !strings.Contains(err.Error(), "only the opening cashier") {
		t.Fatalf("expected closure rejection for non-opener, got %v", err)
	}

	if _, err := svc.EndSession(adminCtx(), domain.EndSessionRequest{SessionID: session.ID, ClosingBalanceCents: 100000}); err != nil {
		t.Fatalf("admin closure failed: %v", err)
	}

	_, err = svc.EndSession(adminCtx(), domain.EndSessionRequest{SessionID: session.ID, ClosingBalanceCents: 100000})
	if !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state for double close, got %v", err)
	}
}

func TestAdjustStockSignDerivation(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	restock, err := svc.AdjustStock(ctx, domain.AdjustStockRequest{
		ProductID:  "prod-roti-01",
		ChangeType: domain.ChangeTypeRestock,
		Quantity:   5,
		Reason:     "morning delivery",
	})
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if restock.QuantityChange != 5 || restock.NewQuantity != 45 {
		t.Fatalf("unexpected restock entry: change=%d new=%d", restock.QuantityChange, restock.NewQuantity)
	}

	expiry, err := svc.AdjustStock(ctx, domain.AdjustStockRequest{
		ProductID:  "prod-roti-01",
		ChangeType: domain.ChangeTypeExpiry,
		Quantity:   3,
		Reason:     "past best-before",
	})
	if err != nil {
		t.Fatalf("expiry failed: %v", err)
	}
	if expiry.QuantityChange != -3 || expiry.NewQuantity != 42 {
		t.Fatalf("unexpected expiry entry: change=%d new=%d", expiry.QuantityChange, expiry.NewQuantity)
	}

	adjustment, err := svc.AdjustStock(ctx, domain.AdjustStockRequest{
		ProductID:  "prod-roti-01",
		ChangeType: domain.ChangeTypeAdjustment,
		Quantity:   -2,
		Reason:     "recount",
	})
	if err != nil {
		t.Fatalf("adjustment failed: %v", err)
	}
	if adjustment.QuantityChange != -2 || adjustment.NewQuantity != 40 {
		t.Fatalf("unexpected adjustment entry: change=%d new=%d", adjustment.QuantityChange, adjustment.NewQuantity)
	}

	// Replaying the ledger from the seeded quantity reproduces current stock.
	logs, err := svc.ListInventoryLogs(ctx, domain.InventoryLogFilter{ProductID: "prod-roti-01"})
	if err != nil {
		t.Fatalf("list logs failed: %v", err)
	}
	sum := 0
	for _, entry := range logs {
		if entry.NewQuantity != entry.PreviousQuantity+entry.QuantityChange {
			t.Fatalf("ledger entry does not balance: %+v", entry)
		}
		sum += entry.QuantityChange
	}
	product, _ := svc.repo.GetProductByID(context.Background(), "prod-roti-01")
	if 40+sum != product.Stock {
		t.Fatalf("ledger replay mismatch: seeded 40 + sum %d != stock %d", sum, product.Stock)
	}
	if product.Stock != 40 {
		t.Fatalf("expected final stock 40, got %d", product.Stock)
	}
}

func TestAdjustStockRejectsNegativeResult(t *testing.T) {
	svc := newTestService()

	_, err := svc.AdjustStock(cashierCtx(), domain.AdjustStockRequest{
		ProductID:  "prod-roti-01",
		ChangeType: domain.ChangeTypeDamage,
		Quantity:   41,
		Reason:     "flood",
	})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}

	product, _ := svc.repo.GetProductByID(context.Background(), "prod-roti-01")
	if product.Stock != 40 {
		t.Fatalf("stock must be untouched, got %d", product.Stock)
	}
}

func TestDailySummaryProfitOverPaidPurchases(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	if _, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-mie-01", Quantity: 2}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 7000}},
	}); err != nil {
		t.Fatalf("purchase failed: %v", err)
	}

	// Cashback never contributes to the purchase profit line.
	if _, err := svc.CreateCashbackSale(ctx, domain.CreateCashbackSaleRequest{
		CashbackAmountCents: 40000,
		ServiceChargeCents:  800,
		Payments:            []domain.PaymentInput{{Method: "transfer", AmountCents: 40800, Reference: "TRF-020"}},
	}); err != nil {
		t.Fatalf("cashback failed: %v", err)
	}

	summary, err := svc.DailySummary(ctx, "main-branch", "", "")
	if err != nil {
		t.Fatalf("daily summary failed: %v", err)
	}
	if summary.TotalSales != 1 {
		t.Fatalf("expected 1 purchase sale, got %d", summary.TotalSales)
	}
	if summary.TotalRevenueCents != 7000 {
		t.Fatalf("expected revenue 7000, got %d", summary.TotalRevenueCents)
	}
	// (3500 - 2700) * 2
	if summary.TotalProfitCents != 1600 {
		t.Fatalf("expected profit 1600, got %d", summary.TotalProfitCents)
	}
}

func TestAdjustCapitalRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.AdjustCapital(cashierCtx(), "main-branch", domain.AdjustCapitalRequest{AmountCents: 10000})
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin requirement, got %v", err)
	}
}

func TestVariantSaleUsesVariantPriceAndStock(t *testing.T) {
	svc := newTestService()
	ctx := cashierCtx()

	sale, err := svc.CreatePurchaseSale(ctx, domain.CreatePurchaseSaleRequest{
		Items:    []domain.SaleItemInput{{ProductID: "prod-kopi-01", VariantID: "var-kopi-susu", Quantity: 3}},
		Payments: []domain.PaymentInput{{Method: "cash", AmountCents: 10000}},
	})
	if err != nil {
		t.Fatalf("variant sale failed: %v", err)
	}
	if sale.TotalCents != 9600 {
		t.Fatalf("expected variant total 9600, got %d", sale.TotalCents)
	}
	if sale.Items[0].Name != "Kopi Sachet - Kopi Susu" {
		t.Fatalf("unexpected item name %q", sale.Items[0].Name)
	}

	product, _ := svc.repo.GetProductByID(context.Background(), "prod-kopi-01")
	if product.Stock != 300 {
		t.Fatalf("parent stock must be untouched, got %d", product.Stock)
	}
	var variantStock int
	for _, v := range product.Variants {
		if v.ID == "var-kopi-susu" {
			variantStock = v.Stock
		}
	}
	if variantStock != 147 {
		t.Fatalf("expected variant stock 147, got %d", variantStock)
	}
}
