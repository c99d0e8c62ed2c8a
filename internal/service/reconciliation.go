package service

import (
	"context"
	"slices"
	"time"

	"kasirpro/backend/internal/domain"
)

// sessionAggregateLimit bounds how many sales and expenses a single
// session summary walks. A session is one cashier's shift, so this is
// far above anything a real drawer produces.
const sessionAggregateLimit = 10000

// BuildSessionSummary aggregates every sale and expense attached to the
// session and derives the cash reconciliation. Expected cash is the opening
// balance plus net cash tendered, minus cashback handed out and cash
// expenses. Variance against the drawer is filled in once the session is
// closed, or early when the caller supplies a counted preview balance for a
// still-open session.
func (s *Service) BuildSessionSummary(ctx context.Context, session domain.Session, previewClosingBalanceCents *int64) (domain.SessionSummary, error) {
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{
		BranchID:  session.BranchID,
		SessionID: session.ID,
		Limit:     sessionAggregateLimit,
	})
	if err != nil {
		return domain.SessionSummary{}, err
	}
	expenses, err := s.repo.ListExpenses(ctx, session.BranchID, session.ID, time.Time{}, time.Time{}, sessionAggregateLimit)
	if err != nil {
		return domain.SessionSummary{}, err
	}

	summary := domain.SessionSummary{
		Session:         session,
		ByPayment:       []domain.PaymentMethodBreakdown{},
		HourlySales:     []domain.HourlySalesBucket{},
		TopProducts:     []domain.TopProduct{},
		CategoryRevenue: []domain.CategoryRevenue{},
		Expenses:        domain.ExpenseSummary{ByCategory: []domain.ExpenseCategoryTotal{}},
	}

	byPayment := map[string]*domain.PaymentMethodBreakdown{}
	hourly := map[int]*domain.HourlySalesBucket{}
	topProducts := map[string]*domain.TopProduct{}
	categories := map[string]int64{}
	categoryByProduct := map[string]string{}

	cashTendered := int64(0)
	changeGiven := int64(0)

	for _, sale := range sales.Sales {
		if sale.PaymentStatus != domain.PaymentStatusPaid {
			continue
		}

		for _, payment := range sale.Payments {
			bucket, ok := byPayment[payment.Method]
			if !ok {
				bucket = &domain.PaymentMethodBreakdown{Method: payment.Method}
				byPayment[payment.Method] = bucket
			}
			bucket.Count++
			bucket.AmountCents += payment.AmountCents
			if payment.Method == domain.PaymentMethodCash {
				cashTendered += payment.AmountCents
			}
		}
		changeGiven += sale.ChangeGivenCents

		switch sale.TransactionType {
		case domain.TxTypeCashback:
			summary.Cashback.Count++
			summary.Cashback.TotalGivenCents += sale.CashbackAmountCents
			summary.Cashback.TotalServiceChargeCents += sale.ServiceChargeCents
			summary.Cashback.TotalReceivedCents += sale.AmountPaidCents - sale.ChangeGivenCents
		default:
			summary.PurchaseCount++
			summary.PurchaseCents += sale.TotalCents

			hour := sale.CreatedAt.UTC().Hour()
			hb, ok := hourly[hour]
			if !ok {
				hb = &domain.HourlySalesBucket{Hour: hour}
				hourly[hour] = hb
			}
			hb.Count++
			hb.TotalCents += sale.TotalCents

			for _, item := range sale.Items {
				tp, ok := topProducts[item.ProductID]
				if !ok {
					tp = &domain.TopProduct{ProductID: item.ProductID, Name: item.Name}
					topProducts[item.ProductID] = tp
				}
				tp.Quantity += item.Quantity
				tp.RevenueCents += item.TotalCents

				category, ok := categoryByProduct[item.ProductID]
				if !ok {
					category = s.productCategory(ctx, item.ProductID)
					categoryByProduct[item.ProductID] = category
				}
				categories[category] += item.TotalCents
			}
		}
	}

	expensesPaid := int64(0)
	expenseCategories := map[string]int64{}
	for _, expense := range expenses {
		expensesPaid += expense.AmountCents
		expenseCategories[expense.Category] += expense.AmountCents
	}
	summary.Expenses.TotalCents = expensesPaid
	for category, amount := range expenseCategories {
		summary.Expenses.ByCategory = append(summary.Expenses.ByCategory, domain.ExpenseCategoryTotal{
			Category:    category,
			AmountCents: amount,
		})
	}
	slices.SortFunc(summary.Expenses.ByCategory, func(a, b domain.ExpenseCategoryTotal) int {
		return cmpString(a.Category, b.Category)
	})

	for _, bucket := range byPayment {
		summary.ByPayment = append(summary.ByPayment, *bucket)
	}
	slices.SortFunc(summary.ByPayment, func(a, b domain.PaymentMethodBreakdown) int {
		return cmpString(a.Method, b.Method)
	})

	for _, bucket := range hourly {
		summary.HourlySales = append(summary.HourlySales, *bucket)
	}
	slices.SortFunc(summary.HourlySales, func(a, b domain.HourlySalesBucket) int {
		return a.Hour - b.Hour
	})

	for _, tp := range topProducts {
		summary.TopProducts = append(summary.TopProducts, *tp)
	}
	slices.SortFunc(summary.TopProducts, func(a, b domain.TopProduct) int {
		if a.Quantity != b.Quantity {
			return b.Quantity - a.Quantity
		}
		if a.RevenueCents != b.RevenueCents {
			if a.RevenueCents > b.RevenueCents {
				return -1
			}
			return 1
		}
		return cmpString(a.ProductID, b.ProductID)
	})
	if len(summary.TopProducts) > 5 {
		summary.TopProducts = summary.TopProducts[:5]
	}

	for category, revenue := range categories {
		summary.CategoryRevenue = append(summary.CategoryRevenue, domain.CategoryRevenue{
			Category:     category,
			RevenueCents: revenue,
		})
	}
	slices.SortFunc(summary.CategoryRevenue, func(a, b domain.CategoryRevenue) int {
		return cmpString(a.Category, b.Category)
	})

	recon := domain.CashReconciliation{
		OpeningBalanceCents: session.OpeningBalanceCents,
		CashSalesCents:      cashTendered - changeGiven,
		CashbackPaidCents:   summary.Cashback.TotalGivenCents,
		ExpensesPaidCents:   expensesPaid,
	}
	recon.ExpectedCashCents = recon.OpeningBalanceCents + recon.CashSalesCents - recon.CashbackPaidCents - recon.ExpensesPaidCents

	counted := false
	switch {
	case session.Status == domain.SessionStatusClosed:
		recon.ActualCashCents = session.ClosingBalanceCents
		counted = true
	case previewClosingBalanceCents != nil:
		recon.ActualCashCents = *previewClosingBalanceCents
		counted = true
	}
	if counted {
		recon.VarianceCents = recon.ActualCashCents - recon.ExpectedCashCents
		if recon.ExpectedCashCents != 0 {
			recon.VariancePercentage = float64(recon.VarianceCents) / float64(recon.ExpectedCashCents) * 100
		}
		variance := recon.VarianceCents
		if variance < 0 {
			variance = -variance
		}
		recon.IsBalanced = variance <= s.varianceToleranceCents
	}
	if session.Status == domain.SessionStatusClosed && session.EndTime != nil {
		minutes := int64(session.EndTime.Sub(session.StartTime) / time.Minute)
		summary.DurationMinutes = &minutes
	}
	summary.Reconciliation = recon

	return summary, nil
}

func (s *Service) productCategory(ctx context.Context, productID string) string {
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return "unknown"
	}
	if product.Category == "" {
		return "uncategorized"
	}
	return product.Category
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
