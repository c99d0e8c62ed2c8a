package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"kasirpro/backend/internal/domain"
	"kasirpro/backend/internal/store"
	"kasirpro/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	branchesByID    map[string]domain.Branch
	productsByID    map[string]domain.Product
	variantsByID    map[string]domain.ProductVariant
	salesByID       map[string]*domain.Sale
	inventoryLogs   []domain.InventoryLogEntry
	sessionsByID    map[string]domain.Session
	activeSessions  map[string]string
	expensesByID    map[string]domain.Expense
	auditLogs       []domain.AuditLog
	receiptCounters map[string]int64
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
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

func NewSeeded() *Store {
	branch := domain.Branch{
		ID:                   "main-branch",
		Name:                 "Cabang Utama",
		Address:              "Jl. Merdeka No. 1",
		Phone:                "021-555-0100",
		Currency:             "IDR",
		ReceiptFooter:        "Terima kasih atas kunjungan Anda",
		CashbackCapitalCents: 5_000_000_00,
	}

	products := []domain.Product{
		{ID: "prod-mie-01", BranchID: branch.ID, SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", Category: "grocery", CostCents: 2700, PriceCents: 3500, Stock: 120, Active: true},
		{ID: "prod-telur-01", BranchID: branch.ID, SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", Category: "grocery", CostCents: 23000, PriceCents: 26500, Stock: 80, Active: true},
		{ID: "prod-susu-01", BranchID: branch.ID, SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", Category: "dairy", CostCents: 13600, PriceCents: 18900, Stock: 60, Active: true},
		{ID: "prod-roti-01", BranchID: branch.ID, SKU: "SKU-ROTI-01", Name: "Roti Tawar", Category: "bakery", CostCents: 12500, PriceCents: 17800, Stock: 40, Active: true},
		{ID: "prod-kopi-01", BranchID: branch.ID, SKU: "SKU-KOPI-01", Name: "Kopi Sachet", Category: "beverage", CostCents: 1700, PriceCents: 2600, Stock: 300, Active: true},
		{ID: "prod-gula-01", BranchID: branch.ID, SKU: "SKU-GULA-01", Name: "Gula 1kg", Category: "grocery", CostCents: 15300, PriceCents: 17400, Stock: 90, Active: true},
		{ID: "prod-air-01", BranchID: branch.ID, SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", Category: "beverage", CostCents: 3200, PriceCents: 3900, Stock: 200, Active: true},
		{ID: "prod-keripik-01", BranchID: branch.ID, SKU: "SKU-KERIPIK-01", Name: "Keripik Singkong", Category: "snack", CostCents: 8100, PriceCents: 12800, Stock: 70, Active: true},
	}

	variants := []domain.ProductVariant{
		{ID: "var-kopi-hitam", ProductID: "prod-kopi-01", SKU: "SKU-KOPI-01-H", Name: "Kopi Hitam", CostCents: 1700, PriceCents: 2600, Stock: 150, Active: true},
		{ID: "var-kopi-susu", ProductID: "prod-kopi-01", SKU: "SKU-KOPI-01-S", Name: "Kopi Susu", CostCents: 2100, PriceCents: 3200, Stock: 150, Active: true},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}
	variantMap := make(map[string]domain.ProductVariant, len(variants))
	for _, v := range variants {
		variantMap[v.ID] = v
	}

	return &Store{
		branchesByID:    map[string]domain.Branch{branch.ID: branch},
		productsByID:    productMap,
		variantsByID:    variantMap,
		salesByID:       make(map[string]*domain.Sale),
		inventoryLogs:   make([]domain.InventoryLogEntry, 0, 256),
		sessionsByID:    make(map[string]domain.Session),
		activeSessions:  make(map[string]string),
		expensesByID:    make(map[string]domain.Expense),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		receiptCounters: make(map[string]int64),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListBranches(_ context.Context) ([]domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branches := make([]domain.Branch, 0, len(s.branchesByID))
	for _, b := range s.branchesByID {
		branches = append(branches, b)
	}
	slices.SortFunc(branches, func(a, b domain.Branch) int {
		return cmpString(a.Name, b.Name)
	})
	return branches, nil
}

func (s *Store) GetBranchByID(_ context.Context, branchID string) (*domain.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, exists := s.branchesByID[branchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyBranch := branch
	return &copyBranch, nil
}

func (s *Store) CreateBranch(_ context.Context, branch domain.Branch) (*domain.Branch, error) {
	if strings.TrimSpace(branch.Name) == "" || branch.CashbackCapitalCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.ID == "" {
		branch.ID = xid.New("branch")
	}
	if branch.Currency == "" {
		branch.Currency = "IDR"
	}
	if _, exists := s.branchesByID[branch.ID]; exists {
		return nil, store.ErrConflict
	}
	s.branchesByID[branch.ID] = branch
	created := branch
	return &created, nil
}

func (s *Store) AdjustCashbackCapital(_ context.Context, branchID string, amountCents int64) (*domain.CapitalAdjustment, error) {
	if amountCents == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	branch, exists := s.branchesByID[branchID]
	if !exists {
		return nil, store.ErrNotFound
	}
	next := branch.CashbackCapitalCents + amountCents
	if next < 0 {
		return nil, &store.InsufficientCapitalError{Available: branch.CashbackCapitalCents, Required: -amountCents}
	}

	adjustment := &domain.CapitalAdjustment{
		BranchID:             branchID,
		PreviousCapitalCents: branch.CashbackCapitalCents,
		AdjustmentCents:      amountCents,
		NewCapitalCents:      next,
	}
	branch.CashbackCapitalCents = next
	s.branchesByID[branchID] = branch
	return adjustment, nil
}

func (s *Store) ListProducts(_ context.Context, branchID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if !p.Active {
			continue
		}
		if branchID != "" && p.BranchID != branchID {
			continue
		}
		p.Variants = s.variantsForProduct(p.ID, true)
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProductByID(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	product.Variants = s.variantsForProduct(productID, false)
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.BranchID == "" || strings.TrimSpace(product.Name) == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.branchesByID[product.BranchID]; !exists {
		return nil, store.ErrNotFound
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.SKU = strings.ToUpper(strings.TrimSpace(product.SKU))
	product.Active = true

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
		variants = append(variants, v)
	}

	s.productsByID[product.ID] = domain.Product{
		ID: product.ID, BranchID: product.BranchID, SKU: product.SKU, Name: product.Name,
		Category: product.Category, CostCents: product.CostCents, PriceCents: product.PriceCents,
		Stock: product.Stock, Active: true,
	}
	for _, v := range variants {
		s.variantsByID[v.ID] = v
	}
	product.Variants = variants
	created := product
	return &created, nil
}

func (s *Store) GetStockSnapshot(_ context.Context, branchID string) (*domain.StockSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := &domain.StockSnapshot{
		Products: make([]domain.Product, 0, len(s.productsByID)),
		Variants: make([]domain.ProductVariant, 0, len(s.variantsByID)),
	}
	for _, p := range s.productsByID {
		if !p.Active {
			continue
		}
		if branchID != "" && p.BranchID != branchID {
			continue
		}
		snapshot.Products = append(snapshot.Products, p)
	}
	slices.SortFunc(snapshot.Products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	for _, v := range s.variantsByID {
		if !v.Active {
			continue
		}
		parent, ok := s.productsByID[v.ProductID]
		if !ok {
			continue
		}
		if branchID != "" && parent.BranchID != branchID {
			continue
		}
		snapshot.Variants = append(snapshot.Variants, v)
	}
	slices.SortFunc(snapshot.Variants, func(a, b domain.ProductVariant) int {
		return cmpString(a.Name, b.Name)
	})
	return snapshot, nil
}

// CreateSale validates every stock delta and the capital delta before
// mutating anything, so a shortfall partway through leaves no partial state.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale, stockDeltas []store.StockDelta, capitalDeltaCents int64) (*domain.Sale, error) {
	if sale.BranchID == "" || sale.CashierID == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	branch, exists := s.branchesByID[sale.BranchID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Requested quantities accumulate per stock row so that two lines for
	// the same product cannot jointly oversell what each fits alone.
	requested := map[string]int{}
	for _, delta := range stockDeltas {
		current, err := s.currentStock(delta)
		if err != nil {
			return nil, err
		}
		key := delta.ProductID
		if delta.VariantID != "" {
			key = delta.VariantID
		}
		requested[key] += delta.Quantity
		if current < requested[key] {
			return nil, &store.InsufficientStockError{Item: delta.Name, Available: current, Requested: requested[key]}
		}
	}

	if capitalDeltaCents != 0 && branch.CashbackCapitalCents+capitalDeltaCents < 0 {
		return nil, &store.InsufficientCapitalError{Available: branch.CashbackCapitalCents, Required: -capitalDeltaCents}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	day := nowDateUTC(sale.CreatedAt)
	counterKey := sale.BranchID + "::" + day.Format("20060102")
	s.receiptCounters[counterKey]++
	sale.ReceiptNumber = domain.FormatReceiptNumber(day, s.receiptCounters[counterKey])

	for _, delta := range stockDeltas {
		current, _ := s.currentStock(delta)
		next := current - delta.Quantity
		s.setStock(delta, next)

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
		s.inventoryLogs = append(s.inventoryLogs, entry)
	}

	if capitalDeltaCents != 0 {
		branch.CashbackCapitalCents += capitalDeltaCents
		s.branchesByID[sale.BranchID] = branch
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	return cloneSale(saved), nil
}

func (s *Store) GetSaleByID(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) (*domain.SaleListResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	matched := make([]*domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if filter.BranchID != "" && sale.BranchID != filter.BranchID {
			continue
		}
		if filter.CashierID != "" && sale.CashierID != filter.CashierID {
			continue
		}
		if filter.SessionID != "" && sale.SessionID != filter.SessionID {
			continue
		}
		if filter.TransactionType != "" && sale.TransactionType != filter.TransactionType {
			continue
		}
		if filter.PaymentStatus != "" && sale.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if !filter.From.IsZero() && sale.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sale.CreatedAt.Before(filter.To) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(sale.ReceiptNumber), search) &&
			!strings.Contains(strings.ToLower(sale.CustomerName), search) {
			continue
		}
		matched = append(matched, sale)
	}

	slices.SortFunc(matched, func(a, b *domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	total := len(matched)
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	sales := make([]domain.Sale, 0, len(matched))
	for _, sale := range matched {
		sales = append(sales, *cloneSale(sale))
	}
	return &domain.SaleListResponse{Sales: sales, Total: total, Limit: limit, Offset: offset}, nil
}

func (s *Store) AddPayment(_ context.Context, saleID string, payment domain.Payment) (*domain.Sale, error) {
	if payment.AmountCents < 1 || !domain.IsSupportedPaymentMethod(payment.Method) {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, exists := s.salesByID[saleID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.PaymentStatus == domain.PaymentStatusPaid {
		return nil, store.ErrInvalidState
	}

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	payment.SaleID = saleID
	sale.Payments = append(sale.Payments, payment)

	sale.AmountPaidCents += payment.AmountCents
	due := sale.AmountDueCents - payment.AmountCents
	if due < 0 {
		sale.ChangeGivenCents += -due
		due = 0
	}
	sale.AmountDueCents = due
	if due == 0 {
		sale.PaymentStatus = domain.PaymentStatusPaid
	} else {
		sale.PaymentStatus = domain.PaymentStatusPartial
	}

	return cloneSale(sale), nil
}

func (s *Store) GetDailySummary(_ context.Context, branchID string, cashierID string, day time.Time) (*domain.DailySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := nowDateUTC(day)
	dayEnd := dayStart.Add(24 * time.Hour)

	summary := &domain.DailySummary{
		BranchID:  branchID,
		CashierID: cashierID,
		Date:      dayStart.Format("2006-01-02"),
		ByPayment: make([]domain.PaymentMethodBreakdown, 0, 4),
	}
	byPayment := map[string]*domain.PaymentMethodBreakdown{}

	for _, sale := range s.salesByID {
		if branchID != "" && sale.BranchID != branchID {
			continue
		}
		if cashierID != "" && sale.CashierID != cashierID {
			continue
		}
		if sale.TransactionType != domain.TxTypePurchase || sale.PaymentStatus != domain.PaymentStatusPaid {
			continue
		}
		if sale.CreatedAt.Before(dayStart) || !sale.CreatedAt.Before(dayEnd) {
			continue
		}

		summary.TotalSales++
		summary.TotalRevenueCents += sale.TotalCents
		for _, item := range sale.Items {
			summary.TotalProfitCents += (item.PriceCents - item.CostCents) * int64(item.Quantity)
		}
		for _, payment := range sale.Payments {
			row := byPayment[payment.Method]
			if row == nil {
				row = &domain.PaymentMethodBreakdown{Method: payment.Method}
				byPayment[payment.Method] = row
			}
			row.Count++
			row.AmountCents += payment.AmountCents
		}
	}

	for _, row := range byPayment {
		summary.ByPayment = append(summary.ByPayment, *row)
	}
	slices.SortFunc(summary.ByPayment, func(a, b domain.PaymentMethodBreakdown) int {
		return cmpString(a.Method, b.Method)
	})
	return summary, nil
}

func (s *Store) AdjustStock(_ context.Context, entry domain.InventoryLogEntry) (*domain.InventoryLogEntry, error) {
	if entry.BranchID == "" || entry.ProductID == "" || entry.QuantityChange == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delta := store.StockDelta{ProductID: entry.ProductID, VariantID: entry.VariantID}
	current, err := s.currentStock(delta)
	if err != nil {
		return nil, err
	}
	itemName := s.itemName(delta)

	next := current + entry.QuantityChange
	if next < 0 {
		return nil, &store.InsufficientStockError{Item: itemName, Available: current, Requested: -entry.QuantityChange}
	}
	s.setStock(delta, next)

	entry.PreviousQuantity = current
	entry.NewQuantity = next
	if entry.ID == "" {
		entry.ID = xid.New("invlog")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.inventoryLogs = append(s.inventoryLogs, entry)
	saved := entry
	return &saved, nil
}

func (s *Store) ListInventoryLogs(_ context.Context, filter domain.InventoryLogFilter) ([]domain.InventoryLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	result := make([]domain.InventoryLogEntry, 0, limit)
	for _, entry := range s.inventoryLogs {
		if filter.BranchID != "" && entry.BranchID != filter.BranchID {
			continue
		}
		if filter.ProductID != "" && entry.ProductID != filter.ProductID {
			continue
		}
		if filter.VariantID != "" && entry.VariantID != filter.VariantID {
			continue
		}
		if filter.ChangeType != "" && entry.ChangeType != filter.ChangeType {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.InventoryLogEntry) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if offset > len(result) {
		offset = len(result)
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.Session) (*domain.Session, error) {
	if session.BranchID == "" || session.OpenedByID == "" || session.OpeningBalanceCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionMapKey(session.BranchID, session.OpenedByID)
	if _, exists := s.activeSessions[key]; exists {
		return nil, store.ErrConflict
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

	s.sessionsByID[session.ID] = session
	s.activeSessions[key] = session.ID
	saved := session
	return &saved, nil
}

func (s *Store) GetSessionByID(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) GetActiveSession(_ context.Context, branchID string, openedByID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.activeSessions[sessionMapKey(branchID, openedByID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	session, exists := s.sessionsByID[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) CloseSession(_ context.Context, sessionID string, closedByID string, closingBalanceCents int64, endTime time.Time) (*domain.Session, error) {
	if closingBalanceCents < 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessionsByID[sessionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if session.Status != domain.SessionStatusOpen {
		return nil, store.ErrInvalidState
	}
	if endTime.IsZero() {
		endTime = time.Now().UTC()
	}

	session.Status = domain.SessionStatusClosed
	session.ClosedByID = closedByID
	session.ClosingBalanceCents = closingBalanceCents
	session.EndTime = &endTime

	delete(s.activeSessions, sessionMapKey(session.BranchID, session.OpenedByID))
	s.sessionsByID[sessionID] = session
	copySession := session
	return &copySession, nil
}

func (s *Store) ListSessions(_ context.Context, branchID string, status string, limit int) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}

	result := make([]domain.Session, 0, limit)
	for _, session := range s.sessionsByID {
		if branchID != "" && session.BranchID != branchID {
			continue
		}
		if status != "" && session.Status != status {
			continue
		}
		result = append(result, session)
	}
	slices.SortFunc(result, func(a, b domain.Session) int {
		if a.StartTime.Equal(b.StartTime) {
			return cmpString(b.ID, a.ID)
		}
		if a.StartTime.After(b.StartTime) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.BranchID == "" || expense.AmountCents < 1 || strings.TrimSpace(expense.Category) == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.PaidAt.IsZero() {
		expense.PaidAt = time.Now().UTC()
	}
	s.expensesByID[expense.ID] = expense
	saved := expense
	return &saved, nil
}

func (s *Store) ListExpenses(_ context.Context, branchID string, sessionID string, from time.Time, to time.Time, limit int) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}

	result := make([]domain.Expense, 0, limit)
	for _, expense := range s.expensesByID {
		if branchID != "" && expense.BranchID != branchID {
			continue
		}
		if sessionID != "" && expense.SessionID != sessionID {
			continue
		}
		if !from.IsZero() && expense.PaidAt.Before(from) {
			continue
		}
		if !to.IsZero() && !expense.PaidAt.Before(to) {
			continue
		}
		result = append(result, expense)
	}
	slices.SortFunc(result, func(a, b domain.Expense) int {
		if a.PaidAt.Equal(b.PaidAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.PaidAt.After(b.PaidAt) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
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

func (s *Store) ListAuditLogs(_ context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if branchID != "" && entry.BranchID != branchID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRequest
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRequest
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// callers must hold s.mu
func (s *Store) currentStock(delta store.StockDelta) (int, error) {
	if delta.VariantID != "" {
		variant, exists := s.variantsByID[delta.VariantID]
		if !exists {
			return 0, store.ErrNotFound
		}
		return variant.Stock, nil
	}
	product, exists := s.productsByID[delta.ProductID]
	if !exists {
		return 0, store.ErrNotFound
	}
	return product.Stock, nil
}

func (s *Store) setStock(delta store.StockDelta, qty int) {
	if delta.VariantID != "" {
		variant := s.variantsByID[delta.VariantID]
		variant.Stock = qty
		s.variantsByID[delta.VariantID] = variant
		return
	}
	product := s.productsByID[delta.ProductID]
	product.Stock = qty
	s.productsByID[delta.ProductID] = product
}

func (s *Store) itemName(delta store.StockDelta) string {
	if delta.VariantID != "" {
		if variant, exists := s.variantsByID[delta.VariantID]; exists {
			return variant.Name
		}
	}
	if product, exists := s.productsByID[delta.ProductID]; exists {
		return product.Name
	}
	return delta.ProductID
}

func (s *Store) variantsForProduct(productID string, activeOnly bool) []domain.ProductVariant {
	variants := make([]domain.ProductVariant, 0, 4)
	for _, v := range s.variantsByID {
		if v.ProductID != productID {
			continue
		}
		if activeOnly && !v.Active {
			continue
		}
		variants = append(variants, v)
	}
	slices.SortFunc(variants, func(a, b domain.ProductVariant) int {
		return cmpString(a.Name, b.Name)
	})
	if len(variants) == 0 {
		return nil
	}
	return variants
}

func sessionMapKey(branchID string, openedByID string) string {
	return branchID + "::" + openedByID
}

func nowDateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleItem, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	payments := make([]domain.Payment, len(src.Payments))
	copy(payments, src.Payments)
	dup.Payments = payments
	return &dup
}
