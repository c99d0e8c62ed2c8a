package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasirpro/backend/internal/domain"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrConflict             = errors.New("conflict")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInsufficientResource = errors.New("insufficient resource")
)

// InsufficientStockError reports a stock shortfall for one sale item.
// It unwraps to ErrInsufficientResource.
type InsufficientStockError struct {
	Item      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.Item, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientResource }

// InsufficientCapitalError reports a cashback capital shortfall.
type InsufficientCapitalError struct {
	Available int64
	Required  int64
}

func (e *InsufficientCapitalError) Error() string {
	return fmt.Sprintf("insufficient cashback capital: available %d, required %d", e.Available, e.Required)
}

func (e *InsufficientCapitalError) Unwrap() error { return ErrInsufficientResource }

// InsufficientPaymentError reports that tendered payments do not cover a
// purchase total.
type InsufficientPaymentError struct {
	Paid     int64
	Required int64
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: paid %d, required %d", e.Paid, e.Required)
}

func (e *InsufficientPaymentError) Unwrap() error { return ErrInsufficientResource }

type Repository interface {
	ListBranches(ctx context.Context) ([]domain.Branch, error)
	GetBranchByID(ctx context.Context, branchID string) (*domain.Branch, error)
	CreateBranch(ctx context.Context, branch domain.Branch) (*domain.Branch, error)
	AdjustCashbackCapital(ctx context.Context, branchID string, amountCents int64) (*domain.CapitalAdjustment, error)

	ListProducts(ctx context.Context, branchID string) ([]domain.Product, error)
	GetProductByID(ctx context.Context, productID string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetStockSnapshot(ctx context.Context, branchID string) (*domain.StockSnapshot, error)

	CreateSale(ctx context.Context, sale domain.Sale, stockDeltas []StockDelta, capitalDeltaCents int64) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) (*domain.SaleListResponse, error)
	AddPayment(ctx context.Context, saleID string, payment domain.Payment) (*domain.Sale, error)
	GetDailySummary(ctx context.Context, branchID string, cashierID string, day time.Time) (*domain.DailySummary, error)

	AdjustStock(ctx context.Context, entry domain.InventoryLogEntry) (*domain.InventoryLogEntry, error)
	ListInventoryLogs(ctx context.Context, filter domain.InventoryLogFilter) ([]domain.InventoryLogEntry, error)

	CreateSession(ctx context.Context, session domain.Session) (*domain.Session, error)
	GetSessionByID(ctx context.Context, sessionID string) (*domain.Session, error)
	GetActiveSession(ctx context.Context, branchID string, openedByID string) (*domain.Session, error)
	CloseSession(ctx context.Context, sessionID string, closedByID string, closingBalanceCents int64, endTime time.Time) (*domain.Session, error)
	ListSessions(ctx context.Context, branchID string, status string, limit int) ([]domain.Session, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, branchID string, sessionID string, from time.Time, to time.Time, limit int) ([]domain.Expense, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, branchID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// StockDelta describes one stock mutation a sale must apply atomically,
// together with the ledger entry that records it.
type StockDelta struct {
	ProductID string
	VariantID string
	Name      string
	Quantity  int
	LogEntry  domain.InventoryLogEntry
}
