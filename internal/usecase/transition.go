package usecase

import (
	"context"
	"fmt"
	"time"

	"qpay-bridge/internal/domain"
	"qpay-bridge/internal/repository"

	"go.uber.org/zap"
)

// OrderUpdater is the downstream order-management surface notified when a
// payment reaches a terminal state. Implemented by pkg/client.ShopifyClient.
type OrderUpdater interface {
	MarkPaid(ctx context.Context, orderID string, amount int64, currency, gatewayTxID string) error
	MarkFailed(ctx context.Context, orderID string, reason string) error
}

// statusTransitioner applies terminal status transitions and fires the
// order-update side effect exactly once per transition. Shared by the
// webhook reconciler (push) and the status poll path (pull).
type statusTransitioner struct {
	repo   repository.PaymentRepository
	orders OrderUpdater
	logger *zap.Logger
}

// settle moves a pending record to a terminal state via the repository's
// compare-and-swap and, only when this call won the swap, notifies the order
// system. A downstream failure is recorded for manual follow-up, never
// propagated: the local payment state is the source of truth.
func (t *statusTransitioner) settle(ctx context.Context, record *domain.PaymentRecord, to domain.PaymentStatus, gatewayTxID *string, paidAt *time.Time, reason string) (*domain.PaymentRecord, error) {
	applied, err := t.repo.TransitionStatus(ctx, record.InvoiceID, to, paidAt, gatewayTxID)
	if err != nil {
		return nil, fmt.Errorf("failed to transition payment status: %w", err)
	}
	if !applied {
		// A concurrent delivery already settled this record.
		t.logger.Info("status transition already applied, skipping notification",
			zap.String("invoice_id", record.InvoiceID),
			zap.String("order_id", record.OrderID),
			zap.String("target_status", string(to)))
		return t.repo.GetByInvoiceID(ctx, record.InvoiceID)
	}

	t.logger.Info("payment status transitioned",
		zap.String("invoice_id", record.InvoiceID),
		zap.String("order_id", record.OrderID),
		zap.String("status", string(to)))

	var notifyErr error
	switch to {
	case domain.PaymentStatusPaid:
		txID := ""
		if gatewayTxID != nil {
			txID = *gatewayTxID
		}
		notifyErr = t.orders.MarkPaid(ctx, record.OrderID, record.Amount, record.Currency, txID)
	case domain.PaymentStatusFailed:
		notifyErr = t.orders.MarkFailed(ctx, record.OrderID, reason)
	}

	if notifyErr != nil {
		t.logger.Error("order update failed after payment transition, flagging for manual follow-up",
			zap.String("invoice_id", record.InvoiceID),
			zap.String("order_id", record.OrderID),
			zap.String("status", string(to)),
			zap.Error(notifyErr))
		note := fmt.Sprintf("order update failed: %v", notifyErr)
		if err := t.repo.SetErrorNote(ctx, record.InvoiceID, note); err != nil {
			t.logger.Error("failed to record order-update failure",
				zap.String("invoice_id", record.InvoiceID),
				zap.Error(err))
		}
	}

	return t.repo.GetByInvoiceID(ctx, record.InvoiceID)
}

// parsePaidDate maps the gateway's paid_date to a timestamp, defaulting to
// now when absent or unparseable.
func parsePaidDate(raw *string) *time.Time {
	now := time.Now()
	if raw == nil || *raw == "" {
		return &now
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, *raw); err == nil {
			return &t
		}
	}
	return &now
}
