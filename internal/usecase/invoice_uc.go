package usecase

import (
	"context"
	"errors"
	"fmt"

	"qpay-bridge/config"
	"qpay-bridge/internal/domain"
	"qpay-bridge/internal/provider/qpay"
	"qpay-bridge/internal/repository"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// InvoiceWorkflow creates gateway invoices for orders and answers status
// lookups. Creation is idempotent per order: while an invoice is pending or
// paid, repeated calls return the existing one.
type InvoiceWorkflow struct {
	repo    repository.PaymentRepository
	gateway *qpay.Client
	cfg     config.QPayConfig
	logger  *zap.Logger

	transitioner *statusTransitioner
}

func NewInvoiceWorkflow(
	repo repository.PaymentRepository,
	gateway *qpay.Client,
	orders OrderUpdater,
	cfg config.QPayConfig,
	logger *zap.Logger,
) *InvoiceWorkflow {
	return &InvoiceWorkflow{
		repo:    repo,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger,
		transitioner: &statusTransitioner{
			repo:   repo,
			orders: orders,
			logger: logger,
		},
	}
}

// CreateInvoice validates the request, creates a gateway invoice and
// persists a pending payment record. An existing non-failed record for the
// order is returned as-is instead of creating a duplicate.
func (w *InvoiceWorkflow) CreateInvoice(ctx context.Context, orderID string, amount int64, currency string, lineItems []domain.LineItem, receiver *domain.ReceiverInfo) (*domain.InvoiceResult, error) {
	req := &domain.InvoiceRequest{
		OrderID:     orderID,
		Amount:      amount,
		Currency:    currency,
		CallbackURL: w.cfg.CallbackURL,
		LineItems:   lineItems,
	}
	if receiver != nil {
		req.Receiver = *receiver
	}
	if err := req.Validate(); err != nil {
		w.logger.Warn("invoice request rejected",
			zap.String("order_id", orderID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return nil, err
	}

	if existing, err := w.repo.GetByOrderID(ctx, orderID); err == nil {
		if existing.Status != domain.PaymentStatusFailed {
			w.logger.Info("invoice already exists for order, returning it",
				zap.String("order_id", orderID),
				zap.String("invoice_id", existing.InvoiceID),
				zap.String("status", string(existing.Status)))
			return resultFromRecord(existing, true), nil
		}
		w.logger.Info("previous invoice failed, creating a fresh one",
			zap.String("order_id", orderID),
			zap.String("failed_invoice_id", existing.InvoiceID))
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up payment record: %w", err)
	}

	invoice, err := w.gateway.CreateInvoice(ctx, req)
	if err != nil {
		w.logger.Error("gateway invoice creation failed",
			zap.String("order_id", orderID),
			zap.Int64("amount", amount),
			zap.Error(err))
		return nil, classifyGatewayFailure(err)
	}

	record := &domain.PaymentRecord{
		PaymentRef: newPaymentRef(),
		OrderID:    orderID,
		InvoiceID:  invoice.InvoiceID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		QRText:     invoice.QRText,
		QRImage:    invoice.QRImage,
		Deeplinks:  invoice.Deeplinks,
	}

	if err := w.repo.CreatePending(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// A concurrent request won the race. Void the invoice we just
			// created and return the winner's.
			w.logger.Info("concurrent invoice creation detected, cancelling losing invoice",
				zap.String("order_id", orderID),
				zap.String("invoice_id", invoice.InvoiceID))
			if cancelErr := w.gateway.CancelInvoice(ctx, invoice.InvoiceID); cancelErr != nil {
				w.logger.Warn("failed to cancel superseded invoice",
					zap.String("invoice_id", invoice.InvoiceID),
					zap.Error(cancelErr))
			}
			existing, getErr := w.repo.GetByOrderID(ctx, orderID)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load existing payment record: %w", getErr)
			}
			return resultFromRecord(existing, true), nil
		}
		return nil, fmt.Errorf("failed to persist payment record: %w", err)
	}

	w.logger.Info("invoice created",
		zap.String("order_id", orderID),
		zap.String("invoice_id", invoice.InvoiceID),
		zap.String("payment_ref", record.PaymentRef),
		zap.Int64("amount", record.Amount),
		zap.String("currency", record.Currency))

	return resultFromRecord(record, false), nil
}

// CheckStatus resolves a record by order id or invoice id. Terminal records
// are answered from the store without contacting the gateway; pending ones
// are reconciled against the gateway's payment-check endpoint first.
func (w *InvoiceWorkflow) CheckStatus(ctx context.Context, ref string) (*domain.PaymentRecord, error) {
	record, err := w.repo.GetByOrderID(ctx, ref)
	if errors.Is(err, repository.ErrNotFound) {
		record, err = w.repo.GetByInvoiceID(ctx, ref)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment record: %w", err)
	}

	if record.Status.Terminal() {
		return record, nil
	}

	check, err := w.gateway.CheckPayment(ctx, record.InvoiceID)
	if err != nil {
		w.logger.Error("gateway payment check failed",
			zap.String("invoice_id", record.InvoiceID),
			zap.Error(err))
		return nil, classifyGatewayFailure(err)
	}

	for _, row := range check.Rows {
		switch row.PaymentStatus {
		case domain.GatewayStatusPaid:
			paymentID := row.PaymentID
			paidAt := parsePaidDate(&row.PaymentDate)
			return w.transitioner.settle(ctx, record, domain.PaymentStatusPaid, &paymentID, paidAt, "")
		case domain.GatewayStatusCancelled, domain.GatewayStatusFailed:
			reason := fmt.Sprintf("gateway reported %s", row.PaymentStatus)
			return w.transitioner.settle(ctx, record, domain.PaymentStatusFailed, nil, nil, reason)
		}
	}

	return record, nil
}

func resultFromRecord(record *domain.PaymentRecord, existing bool) *domain.InvoiceResult {
	return &domain.InvoiceResult{
		InvoiceID:  record.InvoiceID,
		PaymentRef: record.PaymentRef,
		OrderID:    record.OrderID,
		Amount:     record.Amount,
		Currency:   record.Currency,
		Status:     record.Status,
		QRText:     record.QRText,
		QRImage:    record.QRImage,
		Deeplinks:  record.Deeplinks,
		Existing:   existing,
	}
}

// classifyGatewayFailure keeps the caller's error taxonomy intact: auth and
// network errors pass through, anything else from the gateway is wrapped.
func classifyGatewayFailure(err error) error {
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		return fmt.Errorf("gateway rejected request: %w", err)
	}
	return err
}

func newPaymentRef() string {
	return "QP" + ulid.Make().String()
}
