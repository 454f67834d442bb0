package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"qpay-bridge/internal/cache"
	"qpay-bridge/internal/domain"
	"qpay-bridge/internal/repository"

	"go.uber.org/zap"
)

// WebhookReconciler verifies inbound payment notifications and applies the
// resulting status transition at most once. Deliveries are at-least-once, so
// every path after signature verification must be an idempotent ack.
type WebhookReconciler struct {
	repo    repository.PaymentRepository
	secret  string
	deduper *cache.NotificationDeduper
	logger  *zap.Logger

	transitioner *statusTransitioner
}

// NewWebhookReconciler wires the reconciler. secret may be empty, which
// disables signature verification; deduper may be nil, which disables the
// Redis fast path and leaves the database compare-and-swap as the only
// duplicate filter.
func NewWebhookReconciler(
	repo repository.PaymentRepository,
	orders OrderUpdater,
	secret string,
	deduper *cache.NotificationDeduper,
	logger *zap.Logger,
) *WebhookReconciler {
	return &WebhookReconciler{
		repo:    repo,
		secret:  secret,
		deduper: deduper,
		logger:  logger,
		transitioner: &statusTransitioner{
			repo:   repo,
			orders: orders,
			logger: logger,
		},
	}
}

// HandleNotification processes one raw notification body. A nil return means
// the gateway should receive a success acknowledgment; replays of processed
// notifications are cheap no-ops, never errors.
func (r *WebhookReconciler) HandleNotification(ctx context.Context, rawBody []byte, signatureHeader string) error {
	if err := r.verifySignature(rawBody, signatureHeader); err != nil {
		return err
	}

	var notification domain.PaymentNotification
	if err := json.Unmarshal(rawBody, &notification); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if err := notification.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	r.logger.Info("payment notification received",
		zap.String("invoice_id", notification.InvoiceID),
		zap.String("payment_status", notification.PaymentStatus))

	if notification.PaymentStatus == domain.GatewayStatusPending {
		return nil
	}

	marked := false
	if r.deduper != nil {
		first, err := r.deduper.MarkOnce(ctx, notification.InvoiceID, notification.PaymentStatus)
		if err != nil {
			// Cache trouble is not a reason to drop a notification; the
			// database transition still filters duplicates.
			r.logger.Warn("notification dedup unavailable, falling through",
				zap.String("invoice_id", notification.InvoiceID),
				zap.Error(err))
		} else if !first {
			r.logger.Info("duplicate notification short-circuited",
				zap.String("invoice_id", notification.InvoiceID),
				zap.String("payment_status", notification.PaymentStatus))
			return nil
		} else {
			marked = true
		}
	}

	known, err := r.reconcile(ctx, &notification)
	if marked && (err != nil || !known) {
		// Release the key when reconciliation failed, or when the record
		// was not there yet: the invoice may still be mid-creation, and a
		// gateway redelivery must run the full path again.
		if forgetErr := r.deduper.Forget(ctx, notification.InvoiceID, notification.PaymentStatus); forgetErr != nil {
			r.logger.Warn("failed to release dedup key",
				zap.String("invoice_id", notification.InvoiceID),
				zap.Error(forgetErr))
		}
	}
	return err
}

// reconcile applies the notification to the matching payment record. The
// bool reports whether a record was found; an unknown invoice is acked with
// a nil error but must not leave a dedup mark behind.
func (r *WebhookReconciler) reconcile(ctx context.Context, notification *domain.PaymentNotification) (bool, error) {
	record, err := r.repo.GetByInvoiceID(ctx, notification.InvoiceID)
	if errors.Is(err, repository.ErrNotFound) {
		// Stale or duplicate notification for an invoice we never issued.
		// Ack it: the gateway will not retry forever and there is nothing
		// to roll back.
		r.logger.Warn("notification for unknown invoice acknowledged",
			zap.String("invoice_id", notification.InvoiceID),
			zap.String("payment_status", notification.PaymentStatus))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up payment record: %w", err)
	}

	if record.Status.Terminal() {
		r.logger.Info("record already terminal, notification is a no-op",
			zap.String("invoice_id", record.InvoiceID),
			zap.String("status", string(record.Status)))
		return true, nil
	}

	switch notification.PaymentStatus {
	case domain.GatewayStatusPaid:
		paidAt := parsePaidDate(notification.PaidDate)
		_, err = r.transitioner.settle(ctx, record, domain.PaymentStatusPaid, notification.PaymentID, paidAt, "")
	case domain.GatewayStatusCancelled, domain.GatewayStatusFailed:
		reason := fmt.Sprintf("gateway reported %s", notification.PaymentStatus)
		_, err = r.transitioner.settle(ctx, record, domain.PaymentStatusFailed, notification.PaymentID, nil, reason)
	}
	return true, err
}

// verifySignature checks the HMAC-SHA256 of the raw body against the header,
// accepting hex or base64 encodings. Comparison is constant time. An empty
// configured secret skips verification entirely.
func (r *WebhookReconciler) verifySignature(rawBody []byte, signatureHeader string) error {
	if r.secret == "" {
		return nil
	}

	mac := hmac.New(sha256.New, []byte(r.secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	hexMatch := hmac.Equal([]byte(hex.EncodeToString(expected)), []byte(signatureHeader))
	b64Match := hmac.Equal([]byte(base64.StdEncoding.EncodeToString(expected)), []byte(signatureHeader))
	if !hexMatch && !b64Match {
		r.logger.Warn("webhook signature mismatch",
			zap.Int("body_size", len(rawBody)))
		return domain.ErrInvalidSignature
	}
	return nil
}
