package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirpro/backend/internal/cache"
	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
	"kasirpro/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo                   store.Repository
	receiptCache           cache.ReceiptConfigCache
	defaultBranchID        string
	varianceToleranceCents int64
	receiptConfigTTL       time.Duration
}

func New(repo store.Repository, receiptCache cache.ReceiptConfigCache, defaultBranchID string, varianceToleranceCents int64, receiptConfigTTL time.Duration) *Service {
	if defaultBranchID == "" {
		defaultBranchID = "main-branch"
	}
	if receiptCache == nil {
		receiptCache = cache.NoopReceiptConfigCache{}
	}
	if varianceToleranceCents < 0 {
		varianceToleranceCents = 0
	}
	if receiptConfigTTL < time.Second {
		receiptConfigTTL = 10 * time.Minute
	}

	return &Service{
		repo:                   repo,
		receiptCache:           receiptCache,
		defaultBranchID:        defaultBranchID,
		varianceToleranceCents: varianceToleranceCents,
		receiptConfigTTL:       receiptConfigTTL,
	}
}

func (s *Service) ListBranches(ctx context.Context) ([]domain.Branch, error) {
	return s.repo.ListBranches(ctx)
}

func (s *Service) CreateBranch(ctx context.Context, req domain.BranchCreateRequest) (domain.Branch, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Branch{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CashbackCapitalCents < 0 {
		return domain.Branch{}, store.ErrInvalidRequest
	}

	branch := domain.Branch{
		ID:                   xid.New("branch"),
		Name:                 req.Name,
		Address:              strings.TrimSpace(req.Address),
		Phone:                strings.TrimSpace(req.Phone),
		Currency:             strings.TrimSpace(req.Currency),
		ReceiptFooter:        strings.TrimSpace(req.ReceiptFooter),
		CashbackCapitalCents: req.CashbackCapitalCents,
	}
	created, err := s.repo.CreateBranch(ctx, branch)
	if err != nil {
		return domain.Branch{}, err
	}

	s.logAudit(ctx, created.ID, "branch_create", "branch", created.ID, fmt.Sprintf("name=%s,capital=%d", created.Name, created.CashbackCapitalCents))
	return *created, nil
}

func (s *Service) GetBranch(ctx context.Context, branchID string) (domain.Branch, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	branch, err := s.repo.GetBranchByID(ctx, branchID)
	if err != nil {
		return domain.Branch{}, err
	}
	return *branch, nil
}

// AdjustCapital tops up or draws down a branch cashback pool. Withdrawals
// that would take the pool below zero are rejected by the store.
func (s *Service) AdjustCapital(ctx context.Context, branchID string, req domain.AdjustCapitalRequest) (domain.CapitalAdjustment, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.CapitalAdjustment{}, fmt.Errorf("admin role required")
	}
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if req.AmountCents == 0 {
		return domain.CapitalAdjustment{}, store.ErrInvalidRequest
	}

	adjustment, err := s.repo.AdjustCashbackCapital(ctx, branchID, req.AmountCents)
	if err != nil {
		return domain.CapitalAdjustment{}, err
	}

	s.logAudit(ctx, branchID, "capital_adjust", "branch", branchID, fmt.Sprintf("amount=%d,new=%d,notes=%s", req.AmountCents, adjustment.NewCapitalCents, strings.TrimSpace(req.Notes)))
	return *adjustment, nil
}

func (s *Service) ListProducts(ctx context.Context, branchID string) ([]domain.Product, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	return s.repo.ListProducts(ctx, branchID)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || req.PriceCents < 1 || req.CostCents < 0 || req.Stock < 0 {
		return domain.Product{}, store.ErrInvalidRequest
	}

	product := domain.Product{
		BranchID:   req.BranchID,
		SKU:        req.SKU,
		Name:       req.Name,
		Category:   req.Category,
		CostCents:  req.CostCents,
		PriceCents: req.PriceCents,
		Stock:      req.Stock,
		Active:     true,
	}
	for _, v := range req.Variants {
		if strings.TrimSpace(v.Name) == "" || v.PriceCents < 1 || v.CostCents < 0 || v.Stock < 0 {
			return domain.Product{}, store.ErrInvalidRequest
		}
		product.Variants = append(product.Variants, domain.ProductVariant{
			SKU:        v.SKU,
			Name:       strings.TrimSpace(v.Name),
			CostCents:  v.CostCents,
			PriceCents: v.PriceCents,
			Stock:      v.Stock,
			Active:     true,
		})
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, req.BranchID, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%d,stock=%d,variants=%d", created.Name, created.PriceCents, created.Stock, len(created.Variants)))
	return *created, nil
}

// CreatePurchaseSale creates a fully paid purchase sale. Item prices and
// costs are snapshotted from the catalog at creation, stock is decremented
// per line with a matching inventory log entry, and tendered payments must
// cover the total.
func (s *Service) CreatePurchaseSale(ctx context.Context, req domain.CreatePurchaseSaleRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authenticated cashier required")
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if len(req.Items) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale requires at least one item", store.ErrInvalidRequest)
	}
	if req.DiscountCents < 0 {
		return domain.Sale{}, store.ErrInvalidRequest
	}
	payments, paidCents, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.Sale{}, err
	}
	if len(payments) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale requires at least one payment", store.ErrInvalidRequest)
	}

	sessionID, err := s.activeSessionIDFor(ctx, req.BranchID, actor.Username)
	if err != nil {
		return domain.Sale{}, err
	}

	now := time.Now().UTC()
	subtotal := int64(0)
	items := make([]domain.SaleItem, 0, len(req.Items))
	deltas := make([]store.StockDelta, 0, len(req.Items))
	for _, input := range req.Items {
		if input.ProductID == "" || input.Quantity < 1 {
			return domain.Sale{}, store.ErrInvalidRequest
		}
		product, err := s.repo.GetProductByID(ctx, input.ProductID)
		if err != nil {
			return domain.Sale{}, err
		}
		if !product.Active || product.BranchID != req.BranchID {
			return domain.Sale{}, fmt.Errorf("%w: product %s unavailable in branch", store.ErrInvalidRequest, input.ProductID)
		}

		item := domain.SaleItem{
			ProductID:  product.ID,
			Name:       product.Name,
			SKU:        product.SKU,
			CostCents:  product.CostCents,
			PriceCents: product.PriceCents,
			Quantity:   input.Quantity,
		}
		deltaName := product.Name
		if input.VariantID != "" {
			variant := findVariant(product.Variants, input.VariantID)
			if variant == nil || !variant.Active {
				return domain.Sale{}, fmt.Errorf("%w: variant %s unavailable", store.ErrInvalidRequest, input.VariantID)
			}
			item.VariantID = variant.ID
			item.Name = product.Name + " - " + variant.Name
			item.SKU = variant.SKU
			item.CostCents = variant.CostCents
			item.PriceCents = variant.PriceCents
			deltaName = item.Name
		}
		item.TotalCents = item.PriceCents * int64(input.Quantity)
		subtotal += item.TotalCents
		items = append(items, item)

		deltas = append(deltas, store.StockDelta{
			ProductID: product.ID,
			VariantID: item.VariantID,
			Name:      deltaName,
			Quantity:  input.Quantity,
			LogEntry: domain.InventoryLogEntry{
				BranchID:   req.BranchID,
				ProductID:  product.ID,
				VariantID:  item.VariantID,
				ChangeType: domain.ChangeTypeSale,
				Reason:     "sale",
				RecordedBy: actor.Username,
				CreatedAt:  now,
			},
		})
	}

	if req.DiscountCents > subtotal {
		return domain.Sale{}, fmt.Errorf("%w: discount exceeds subtotal", store.ErrInvalidRequest)
	}
	total := subtotal - req.DiscountCents
	if paidCents < total {
		return domain.Sale{}, &store.InsufficientPaymentError{Paid: paidCents, Required: total}
	}

	sale := domain.Sale{
		BranchID:         req.BranchID,
		CashierID:        actor.Username,
		SessionID:        sessionID,
		CustomerName:     strings.TrimSpace(req.CustomerName),
		TransactionType:  domain.TxTypePurchase,
		SubtotalCents:    subtotal,
		DiscountCents:    req.DiscountCents,
		TotalCents:       total,
		AmountPaidCents:  paidCents,
		AmountDueCents:   0,
		ChangeGivenCents: paidCents - total,
		PaymentStatus:    domain.PaymentStatusPaid,
		CreatedAt:        now,
		Items:            items,
		Payments:         payments,
	}

	created, err := s.repo.CreateSale(ctx, sale, deltas, 0)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, req.BranchID, "sale_create", "sale", created.ID, fmt.Sprintf("receipt=%s,type=purchase,total=%d,items=%d", created.ReceiptNumber, created.TotalCents, len(created.Items)))
	return *created, nil
}

// CreateCashbackSale records a cashback disbursement: the customer pays
// cashback plus service charge by card or transfer and the cashier hands
// out cash from the branch capital pool. The pool decrement and the sale
// commit together.
func (s *Service) CreateCashbackSale(ctx context.Context, req domain.CreateCashbackSaleRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authenticated cashier required")
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if req.CashbackAmountCents < 1 || req.ServiceChargeCents < 0 {
		return domain.Sale{}, store.ErrInvalidRequest
	}
	payments, paidCents, err := normalizePayments(req.Payments)
	if err != nil {
		return domain.Sale{}, err
	}
	if len(payments) == 0 {
		return domain.Sale{}, fmt.Errorf("%w: cashback requires at least one payment", store.ErrInvalidRequest)
	}
	for _, payment := range payments {
		if payment.Method == domain.PaymentMethodCash {
			return domain.Sale{}, fmt.Errorf("%w: cashback must be paid by card, transfer or pos", store.ErrInvalidRequest)
		}
	}

	serviceCharge := req.ServiceChargeCents
	if serviceCharge == 0 && paidCents > req.CashbackAmountCents {
		serviceCharge = paidCents - req.CashbackAmountCents
	}

	// The customer owes cashback plus fee, but the sale total is the cashback
	// alone; the fee is margin carried in the subtotal. An underpaid cashback
	// is accepted as partial and topped up through AddPayment later.
	subtotal := req.CashbackAmountCents + serviceCharge
	due := subtotal - paidCents
	change := int64(0)
	if due < 0 {
		change = -due
		due = 0
	}
	status := domain.PaymentStatusPaid
	if due > 0 {
		status = domain.PaymentStatusPartial
	}

	sessionID, err := s.activeSessionIDFor(ctx, req.BranchID, actor.Username)
	if err != nil {
		return domain.Sale{}, err
	}

	sale := domain.Sale{
		BranchID:            req.BranchID,
		CashierID:           actor.Username,
		SessionID:           sessionID,
		CustomerName:        strings.TrimSpace(req.CustomerName),
		TransactionType:     domain.TxTypeCashback,
		SubtotalCents:       subtotal,
		TotalCents:          req.CashbackAmountCents,
		AmountPaidCents:     paidCents,
		AmountDueCents:      due,
		ChangeGivenCents:    change,
		CashbackAmountCents: req.CashbackAmountCents,
		ServiceChargeCents:  serviceCharge,
		PaymentStatus:       status,
		CreatedAt:           time.Now().UTC(),
		Payments:            payments,
	}

	created, err := s.repo.CreateSale(ctx, sale, nil, -req.CashbackAmountCents)
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, req.BranchID, "sale_create", "sale", created.ID, fmt.Sprintf("receipt=%s,type=cashback,amount=%d,fee=%d", created.ReceiptNumber, created.CashbackAmountCents, created.ServiceChargeCents))
	return *created, nil
}

func (s *Service) AddPayment(ctx context.Context, saleID string, req domain.AddPaymentRequest) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, store.ErrInvalidRequest
	}
	req.Method = strings.ToLower(strings.TrimSpace(req.Method))
	if !domain.IsSupportedPaymentMethod(req.Method) || req.AmountCents < 1 {
		return domain.Sale{}, store.ErrInvalidRequest
	}

	updated, err := s.repo.AddPayment(ctx, saleID, domain.Payment{
		Method:      req.Method,
		AmountCents: req.AmountCents,
		Reference:   strings.TrimSpace(req.Reference),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, updated.BranchID, "sale_payment_add", "sale", updated.ID, fmt.Sprintf("method=%s,amount=%d,status=%s", req.Method, req.AmountCents, updated.PaymentStatus))
	return *updated, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Sale{}, store.ErrInvalidRequest
	}
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.SaleListResponse, error) {
	if filter.BranchID == "" {
		filter.BranchID = s.defaultBranchID
	}
	resp, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleListResponse{}, err
	}
	return *resp, nil
}

// BuildReceiptData assembles printable receipt data for a purchase sale.
// Cashback disbursements have no itemized receipt and are rejected.
func (s *Service) BuildReceiptData(ctx context.Context, saleID string) (domain.ReceiptData, error) {
	sale, err := s.GetSale(ctx, saleID)
	if err != nil {
		return domain.ReceiptData{}, err
	}
	if sale.TransactionType == domain.TxTypeCashback {
		return domain.ReceiptData{}, fmt.Errorf("%w: cashback transactions have no printable receipt", store.ErrInvalidState)
	}

	config, err := s.receiptConfigFor(ctx, sale.BranchID)
	if err != nil {
		return domain.ReceiptData{}, err
	}

	return domain.ReceiptData{
		Config:        config,
		Sale:          sale,
		PrintedAt:     time.Now().UTC().Format(time.RFC3339),
		ReceiptNumber: sale.ReceiptNumber,
	}, nil
}

func (s *Service) receiptConfigFor(ctx context.Context, branchID string) (domain.ReceiptConfig, error) {
	cacheKey := "receipt-config:" + branchID
	if cached, found, err := s.receiptCache.Get(ctx, cacheKey); err == nil && found {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: receipt config cache get branch=%s: %v", branchID, err)
	}

	branch, err := s.repo.GetBranchByID(ctx, branchID)
	if err != nil {
		return domain.ReceiptConfig{}, err
	}
	config := domain.ReceiptConfig{
		BusinessName:    branch.Name,
		BusinessAddress: branch.Address,
		BusinessPhone:   branch.Phone,
		ReceiptFooter:   branch.ReceiptFooter,
		BranchName:      branch.Name,
		Currency:        branch.Currency,
	}
	if err := s.receiptCache.Set(ctx, cacheKey, &config, s.receiptConfigTTL); err != nil {
		log.Printf("[service] WARN: receipt config cache set branch=%s: %v", branchID, err)
	}
	return config, nil
}

func (s *Service) DailySummary(ctx context.Context, branchID string, cashierID string, date string) (domain.DailySummary, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	var day time.Time
	if strings.TrimSpace(date) == "" {
		day = time.Now().UTC()
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return domain.DailySummary{}, store.ErrInvalidRequest
		}
		day = parsed.UTC()
	}

	summary, err := s.repo.GetDailySummary(ctx, branchID, strings.TrimSpace(cashierID), day)
	if err != nil {
		return domain.DailySummary{}, err
	}
	return *summary, nil
}

// AdjustStock applies a manual stock correction and appends the matching
// ledger entry. Restocks and returns add, expiry and damage remove, and
// plain adjustments carry their own sign.
func (s *Service) AdjustStock(ctx context.Context, req domain.AdjustStockRequest) (domain.InventoryLogEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.InventoryLogEntry{}, fmt.Errorf("authenticated user required")
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	req.ChangeType = strings.ToLower(strings.TrimSpace(req.ChangeType))
	if req.ProductID == "" || !domain.IsManualChangeType(req.ChangeType) {
		return domain.InventoryLogEntry{}, store.ErrInvalidRequest
	}

	change := req.Quantity
	switch req.ChangeType {
	case domain.ChangeTypeRestock, domain.ChangeTypeReturn:
		if change < 1 {
			return domain.InventoryLogEntry{}, store.ErrInvalidRequest
		}
	case domain.ChangeTypeExpiry, domain.ChangeTypeDamage:
		if change < 1 {
			return domain.InventoryLogEntry{}, store.ErrInvalidRequest
		}
		change = -change
	default:
		if change == 0 {
			return domain.InventoryLogEntry{}, store.ErrInvalidRequest
		}
	}

	entry, err := s.repo.AdjustStock(ctx, domain.InventoryLogEntry{
		BranchID:       req.BranchID,
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		ChangeType:     req.ChangeType,
		QuantityChange: change,
		Reason:         strings.TrimSpace(req.Reason),
		RecordedBy:     actor.Username,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.InventoryLogEntry{}, err
	}

	s.logAudit(ctx, req.BranchID, "stock_adjust", "product", req.ProductID, fmt.Sprintf("type=%s,change=%d,new=%d", entry.ChangeType, entry.QuantityChange, entry.NewQuantity))
	return *entry, nil
}

func (s *Service) ListInventoryLogs(ctx context.Context, filter domain.InventoryLogFilter) ([]domain.InventoryLogEntry, error) {
	if filter.BranchID == "" {
		filter.BranchID = s.defaultBranchID
	}
	return s.repo.ListInventoryLogs(ctx, filter)
}

func (s *Service) StockSnapshot(ctx context.Context, branchID string) (domain.StockSnapshot, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	snapshot, err := s.repo.GetStockSnapshot(ctx, branchID)
	if err != nil {
		return domain.StockSnapshot{}, err
	}
	return *snapshot, nil
}

// StartSession opens the cashier's working session. A cashier can hold at
// most one open session per branch; a concurrent duplicate loses on the
// store's uniqueness guarantee and surfaces as a conflict.
func (s *Service) StartSession(ctx context.Context, req domain.StartSessionRequest) (domain.Session, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Session{}, fmt.Errorf("authenticated cashier required")
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	if req.OpeningBalanceCents < 0 {
		return domain.Session{}, store.ErrInvalidRequest
	}

	now := time.Now().UTC()
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Sesi " + now.Format("2006-01-02 15:04")
	}

	session, err := s.repo.CreateSession(ctx, domain.Session{
		BranchID:            req.BranchID,
		Name:                name,
		OpenedByID:          actor.Username,
		OpeningBalanceCents: req.OpeningBalanceCents,
		StartTime:           now,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Session{}, fmt.Errorf("%w: session already open for this cashier", store.ErrConflict)
		}
		return domain.Session{}, err
	}

	s.logAudit(ctx, req.BranchID, "session_start", "session", session.ID, fmt.Sprintf("opening_balance=%d", req.OpeningBalanceCents))
	return *session, nil
}

// EndSession closes a session against the counted drawer and returns the
// reconciliation summary. Only the opener or an admin may close it.
func (s *Service) EndSession(ctx context.Context, req domain.EndSessionRequest) (domain.SessionSummary, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.SessionSummary{}, fmt.Errorf("authenticated cashier required")
	}
	if strings.TrimSpace(req.SessionID) == "" || req.ClosingBalanceCents < 0 {
		return domain.SessionSummary{}, store.ErrInvalidRequest
	}

	session, err := s.repo.GetSessionByID(ctx, req.SessionID)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	if session.Status != domain.SessionStatusOpen {
		return domain.SessionSummary{}, fmt.Errorf("%w: session already closed", store.ErrInvalidState)
	}
	if session.OpenedByID != actor.Username && actor.Role != "admin" {
		return domain.SessionSummary{}, fmt.Errorf("only the opening cashier or an admin can close this session")
	}

	closed, err := s.repo.CloseSession(ctx, req.SessionID, actor.Username, req.ClosingBalanceCents, time.Now().UTC())
	if err != nil {
		return domain.SessionSummary{}, err
	}

	summary, err := s.BuildSessionSummary(ctx, *closed, nil)
	if err != nil {
		return domain.SessionSummary{}, err
	}

	s.logAudit(ctx, closed.BranchID, "session_end", "session", closed.ID, fmt.Sprintf("closing_balance=%d,expected=%d,variance=%d", req.ClosingBalanceCents, summary.Reconciliation.ExpectedCashCents, summary.Reconciliation.VarianceCents))
	return summary, nil
}

func (s *Service) GetActiveSession(ctx context.Context, branchID string) (domain.Session, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Session{}, fmt.Errorf("authenticated cashier required")
	}
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	session, err := s.repo.GetActiveSession(ctx, branchID, actor.Username)
	if err != nil {
		return domain.Session{}, err
	}
	return *session, nil
}

func (s *Service) ListSessions(ctx context.Context, branchID string, status string, limit int) ([]domain.Session, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != domain.SessionStatusOpen && status != domain.SessionStatusClosed {
		return nil, store.ErrInvalidRequest
	}
	return s.repo.ListSessions(ctx, branchID, status, limit)
}

// GetSessionDetail returns the full summary plus the raw sales and expenses
// behind it. previewClosingBalanceCents, when set, reconciles a still-open
// session against a drawer count without closing it.
func (s *Service) GetSessionDetail(ctx context.Context, sessionID string, previewClosingBalanceCents *int64) (domain.SessionDetailResponse, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.SessionDetailResponse{}, store.ErrInvalidRequest
	}

	session, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		return domain.SessionDetailResponse{}, err
	}

	summary, err := s.BuildSessionSummary(ctx, *session, previewClosingBalanceCents)
	if err != nil {
		return domain.SessionDetailResponse{}, err
	}

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{SessionID: session.ID, BranchID: session.BranchID, Limit: sessionAggregateLimit})
	if err != nil {
		return domain.SessionDetailResponse{}, err
	}
	expenses, err := s.repo.ListExpenses(ctx, session.BranchID, session.ID, time.Time{}, time.Time{}, sessionAggregateLimit)
	if err != nil {
		return domain.SessionDetailResponse{}, err
	}

	return domain.SessionDetailResponse{
		Summary:  summary,
		Sales:    sales.Sales,
		Expenses: expenses,
	}, nil
}

// CreateExpense records a cash expense paid out of the drawer. It attaches
// to the cashier's active session when one exists so that reconciliation
// can account for it.
func (s *Service) CreateExpense(ctx context.Context, req domain.CreateExpenseRequest) (domain.Expense, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Expense{}, fmt.Errorf("authenticated user required")
	}
	if req.BranchID == "" {
		req.BranchID = s.defaultBranchID
	}
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if req.Category == "" || req.AmountCents < 1 {
		return domain.Expense{}, store.ErrInvalidRequest
	}

	sessionID := ""
	if session, err := s.repo.GetActiveSession(ctx, req.BranchID, actor.Username); err == nil {
		sessionID = session.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Expense{}, err
	}

	expense, err := s.repo.CreateExpense(ctx, domain.Expense{
		BranchID:    req.BranchID,
		SessionID:   sessionID,
		Category:    req.Category,
		AmountCents: req.AmountCents,
		Description: strings.TrimSpace(req.Description),
		PaidAt:      time.Now().UTC(),
		RecordedBy:  actor.Username,
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, req.BranchID, "expense_create", "expense", expense.ID, fmt.Sprintf("category=%s,amount=%d,session=%s", expense.Category, expense.AmountCents, sessionID))
	return *expense, nil
}

func (s *Service) ListExpenses(ctx context.Context, branchID string, sessionID string, date string, limit int) ([]domain.Expense, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	var from, to time.Time
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidRequest
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}
	return s.repo.ListExpenses(ctx, branchID, strings.TrimSpace(sessionID), from, to, limit)
}

func (s *Service) ListAuditLogs(ctx context.Context, branchID string, date string, limit int) ([]domain.AuditLog, error) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidRequest
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, branchID, from, to, limit)
}

// activeSessionIDFor attaches the cashier's open session to a sale when one
// exists. Selling without a session is tolerated; the sale simply carries no
// session id and stays out of reconciliation.
func (s *Service) activeSessionIDFor(ctx context.Context, branchID string, cashier string) (string, error) {
	session, err := s.repo.GetActiveSession(ctx, branchID, cashier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return session.ID, nil
}

func (s *Service) logAudit(ctx context.Context, branchID string, action string, entityType string, entityID string, detail string) {
	if branchID == "" {
		branchID = s.defaultBranchID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		BranchID:      branchID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func normalizePayments(inputs []domain.PaymentInput) ([]domain.Payment, int64, error) {
	now := time.Now().UTC()
	payments := make([]domain.Payment, 0, len(inputs))
	total := int64(0)
	for _, input := range inputs {
		method := strings.ToLower(strings.TrimSpace(input.Method))
		if !domain.IsSupportedPaymentMethod(method) || input.AmountCents < 1 {
			return nil, 0, store.ErrInvalidRequest
		}
		reference := strings.TrimSpace(input.Reference)
		if method != domain.PaymentMethodCash && reference == "" {
			return nil, 0, fmt.Errorf("%w: %s payment requires a reference", store.ErrInvalidRequest, method)
		}
		payments = append(payments, domain.Payment{
			Method:      method,
			AmountCents: input.AmountCents,
			Reference:   reference,
			CreatedAt:   now,
		})
		total += input.AmountCents
	}
	return payments, total, nil
}

func findVariant(variants []domain.ProductVariant, variantID string) *domain.ProductVariant {
	for i := range variants {
		if variants[i].ID == variantID {
			return &variants[i]
		}
	}
	return nil
}
