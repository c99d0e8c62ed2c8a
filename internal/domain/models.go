package domain

import (
	"fmt"
	"time"
)

type Branch struct {
	ID                   string `json:"id"`
	Name                 string `json:"name"`
	Address              string `json:"address"`
	Phone                string `json:"phone"`
	Currency             string `json:"currency"`
	ReceiptFooter        string `json:"receipt_footer"`
	CashbackCapitalCents int64  `json:"cashback_capital_cents"`
}

type BranchCreateRequest struct {
	Name                 string `json:"name"`
	Address              string `json:"address"`
	Phone                string `json:"phone"`
	Currency             string `json:"currency"`
	ReceiptFooter        string `json:"receipt_footer"`
	CashbackCapitalCents int64  `json:"cashback_capital_cents"`
}

type Product struct {
	ID         string           `json:"id"`
	BranchID   string           `json:"branch_id"`
	SKU        string           `json:"sku"`
	Name       string           `json:"name"`
	Category   string           `json:"category"`
	CostCents  int64            `json:"cost_cents"`
	PriceCents int64            `json:"price_cents"`
	Stock      int              `json:"stock"`
	Active     bool             `json:"active"`
	Variants   []ProductVariant `json:"variants,omitempty"`
}

type ProductVariant struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	CostCents  int64  `json:"cost_cents"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
	Active     bool   `json:"active"`
}

type ProductCreateRequest struct {
	BranchID   string                 `json:"branch_id"`
	SKU        string                 `json:"sku"`
	Name       string                 `json:"name"`
	Category   string                 `json:"category"`
	CostCents  int64                  `json:"cost_cents"`
	PriceCents int64                  `json:"price_cents"`
	Stock      int                    `json:"stock"`
	Variants   []VariantCreateRequest `json:"variants,omitempty"`
}

type VariantCreateRequest struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	CostCents  int64  `json:"cost_cents"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

const (
	TxTypePurchase = "purchase"
	TxTypeCashback = "cashback"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

const (
	PaymentMethodCash     = "cash"
	PaymentMethodCard     = "card"
	PaymentMethodTransfer = "transfer"
	PaymentMethodPOS      = "pos"
)

type Sale struct {
	ID                  string     `json:"id"`
	ReceiptNumber       string     `json:"receipt_number"`
	BranchID            string     `json:"branch_id"`
	CashierID           string     `json:"cashier_id"`
	SessionID           string     `json:"session_id,omitempty"`
	CustomerName        string     `json:"customer_name,omitempty"`
	TransactionType     string     `json:"transaction_type"`
	SubtotalCents       int64      `json:"subtotal_cents"`
	TaxCents            int64      `json:"tax_cents"`
	DiscountCents       int64      `json:"discount_cents"`
	TotalCents          int64      `json:"total_cents"`
	AmountPaidCents     int64      `json:"amount_paid_cents"`
	AmountDueCents      int64      `json:"amount_due_cents"`
	ChangeGivenCents    int64      `json:"change_given_cents"`
	CashbackAmountCents int64      `json:"cashback_amount_cents,omitempty"`
	ServiceChargeCents  int64      `json:"service_charge_cents,omitempty"`
	PaymentStatus       string     `json:"payment_status"`
	CreatedAt           time.Time  `json:"created_at"`
	Items               []SaleItem `json:"items,omitempty"`
	Payments            []Payment  `json:"payments,omitempty"`
}

// SaleItem is a denormalized snapshot of the product or variant at sale
// time. Later product edits never change what a receipt says was sold.
type SaleItem struct {
	SaleID     string `json:"sale_id,omitempty"`
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	Name       string `json:"name"`
	SKU        string `json:"sku"`
	CostCents  int64  `json:"cost_cents"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
	TaxCents   int64  `json:"tax_cents"`
	TotalCents int64  `json:"total_cents"`
}

type Payment struct {
	SaleID      string    `json:"sale_id,omitempty"`
	Method      string    `json:"method"`
	AmountCents int64     `json:"amount_cents"`
	Reference   string    `json:"reference,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type SaleItemInput struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type PaymentInput struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type CreatePurchaseSaleRequest struct {
	BranchID      string          `json:"branch_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	DiscountCents int64           `json:"discount_cents"`
	Items         []SaleItemInput `json:"items"`
	Payments      []PaymentInput  `json:"payments"`
}

type CreateCashbackSaleRequest struct {
	BranchID            string         `json:"branch_id"`
	CustomerName        string         `json:"customer_name,omitempty"`
	CashbackAmountCents int64          `json:"cashback_amount_cents"`
	ServiceChargeCents  int64          `json:"service_charge_cents"`
	Payments            []PaymentInput `json:"payments"`
}

type AddPaymentRequest struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type SaleFilter struct {
	BranchID        string
	CashierID       string
	SessionID       string
	TransactionType string
	PaymentStatus   string
	Search          string
	From            time.Time
	To              time.Time
	Limit           int
	Offset          int
}

type SaleListResponse struct {
	Sales  []Sale `json:"sales"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

const (
	ChangeTypeRestock    = "restock"
	ChangeTypeSale       = "sale"
	ChangeTypeAdjustment = "adjustment"
	ChangeTypeExpiry     = "expiry"
	ChangeTypeDamage     = "damage"
	ChangeTypeReturn     = "return"
)

// InventoryLogEntry is an append-only ledger row. Entries are never edited
// or deleted; NewQuantity == PreviousQuantity + QuantityChange always holds,
// and replaying entries in creation order reproduces current stock.
type InventoryLogEntry struct {
	ID               string    `json:"id"`
	BranchID         string    `json:"branch_id"`
	ProductID        string    `json:"product_id"`
	VariantID        string    `json:"variant_id,omitempty"`
	ChangeType       string    `json:"change_type"`
	QuantityChange   int       `json:"quantity_change"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	Reason           string    `json:"reason"`
	SaleID           string    `json:"sale_id,omitempty"`
	RecordedBy       string    `json:"recorded_by"`
	CreatedAt        time.Time `json:"created_at"`
}

type AdjustStockRequest struct {
	BranchID   string `json:"branch_id"`
	ProductID  string `json:"product_id"`
	VariantID  string `json:"variant_id,omitempty"`
	ChangeType string `json:"change_type"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
}

type InventoryLogFilter struct {
	BranchID   string
	ProductID  string
	VariantID  string
	ChangeType string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

type StockSnapshot struct {
	Products []Product        `json:"products"`
	Variants []ProductVariant `json:"variants"`
}

type AdjustCapitalRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Notes       string `json:"notes"`
}

type CapitalAdjustment struct {
	BranchID             string `json:"branch_id"`
	PreviousCapitalCents int64  `json:"previous_capital_cents"`
	AdjustmentCents      int64  `json:"adjustment_cents"`
	NewCapitalCents      int64  `json:"new_capital_cents"`
}

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

type Session struct {
	ID                  string     `json:"id"`
	BranchID            string     `json:"branch_id"`
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	OpenedByID          string     `json:"opened_by_id"`
	ClosedByID          string     `json:"closed_by_id,omitempty"`
	OpeningBalanceCents int64      `json:"opening_balance_cents"`
	ClosingBalanceCents int64      `json:"closing_balance_cents"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             *time.Time `json:"end_time,omitempty"`
}

type StartSessionRequest struct {
	BranchID            string `json:"branch_id"`
	Name                string `json:"name"`
	OpeningBalanceCents int64  `json:"opening_balance_cents"`
}

type EndSessionRequest struct {
	SessionID           string `json:"session_id"`
	ClosingBalanceCents int64  `json:"closing_balance_cents"`
}

type Expense struct {
	ID          string    `json:"id"`
	BranchID    string    `json:"branch_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Category    string    `json:"category"`
	AmountCents int64     `json:"amount_cents"`
	Description string    `json:"description"`
	PaidAt      time.Time `json:"paid_at"`
	RecordedBy  string    `json:"recorded_by"`
}

type CreateExpenseRequest struct {
	BranchID    string `json:"branch_id"`
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

type PaymentMethodBreakdown struct {
	Method      string `json:"method"`
	Count       int64  `json:"count"`
	AmountCents int64  `json:"amount_cents"`
}

type DailySummary struct {
	BranchID          string                   `json:"branch_id"`
	CashierID         string                   `json:"cashier_id,omitempty"`
	Date              string                   `json:"date"`
	TotalSales        int64                    `json:"total_sales"`
	TotalRevenueCents int64                    `json:"total_revenue_cents"`
	TotalProfitCents  int64                    `json:"total_profit_cents"`
	ByPayment         []PaymentMethodBreakdown `json:"by_payment"`
}

type CashbackSummary struct {
	Count                   int64 `json:"count"`
	TotalGivenCents         int64 `json:"total_given_cents"`
	TotalServiceChargeCents int64 `json:"total_service_charge_cents"`
	TotalReceivedCents      int64 `json:"total_received_cents"`
}

type ExpenseCategoryTotal struct {
	Category    string `json:"category"`
	AmountCents int64  `json:"amount_cents"`
}

type ExpenseSummary struct {
	TotalCents int64                  `json:"total_cents"`
	ByCategory []ExpenseCategoryTotal `json:"by_category"`
}

// CashReconciliation proves that logged cash-affecting events account for
// the counted drawer at session end.
type CashReconciliation struct {
	OpeningBalanceCents int64   `json:"opening_balance_cents"`
	CashSalesCents      int64   `json:"cash_sales_cents"`
	CashbackPaidCents   int64   `json:"cashback_paid_cents"`
	ExpensesPaidCents   int64   `json:"expenses_paid_cents"`
	ExpectedCashCents   int64   `json:"expected_cash_cents"`
	ActualCashCents     int64   `json:"actual_cash_cents"`
	VarianceCents       int64   `json:"variance_cents"`
	VariancePercentage  float64 `json:"variance_percentage"`
	IsBalanced          bool    `json:"is_balanced"`
}

type HourlySalesBucket struct {
	Hour       int   `json:"hour"`
	Count      int64 `json:"count"`
	TotalCents int64 `json:"total_cents"`
}

type TopProduct struct {
	ProductID    string `json:"product_id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	RevenueCents int64  `json:"revenue_cents"`
}

type CategoryRevenue struct {
	Category     string `json:"category"`
	RevenueCents int64  `json:"revenue_cents"`
}

type SessionSummary struct {
	Session         Session                  `json:"session"`
	PurchaseCount   int64                    `json:"purchase_count"`
	PurchaseCents   int64                    `json:"purchase_cents"`
	ByPayment       []PaymentMethodBreakdown `json:"by_payment"`
	Cashback        CashbackSummary          `json:"cashback"`
	Expenses        ExpenseSummary           `json:"expenses"`
	Reconciliation  CashReconciliation       `json:"reconciliation"`
	HourlySales     []HourlySalesBucket      `json:"hourly_sales"`
	TopProducts     []TopProduct             `json:"top_products"`
	CategoryRevenue []CategoryRevenue        `json:"category_revenue"`
	DurationMinutes *int64                   `json:"duration_minutes,omitempty"`
}

type SessionDetailResponse struct {
	Summary  SessionSummary `json:"summary"`
	Sales    []Sale         `json:"sales"`
	Expenses []Expense      `json:"expenses"`
}

type ReceiptConfig struct {
	BusinessName    string `json:"business_name"`
	BusinessAddress string `json:"business_address"`
	BusinessPhone   string `json:"business_phone"`
	ReceiptFooter   string `json:"receipt_footer"`
	BranchName      string `json:"branch_name"`
	Currency        string `json:"currency"`
}

type ReceiptData struct {
	Config        ReceiptConfig `json:"config"`
	Sale          Sale          `json:"sale"`
	PrintedAt     string        `json:"printed_at"`
	ReceiptNumber string        `json:"receipt_number"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	BranchID      string    `json:"branch_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// FormatReceiptNumber renders the day-scoped receipt identifier for the
// given daily sequence value, e.g. RCP-20260901-0007.
func FormatReceiptNumber(day time.Time, seq int64) string {
	return fmt.Sprintf("RCP-%s-%04d", day.UTC().Format("20060102"), seq)
}

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer, PaymentMethodPOS:
		return true
	default:
		return false
	}
}

func IsManualChangeType(changeType string) bool {
	switch changeType {
	case ChangeTypeRestock, ChangeTypeAdjustment, ChangeTypeExpiry, ChangeTypeDamage, ChangeTypeReturn:
		return true
	default:
		return false
	}
}
