package repository

import (
	"context"
	"sync"
	"time"

	"qpay-bridge/internal/domain"
)

// MemoryPaymentRepository keeps records in process memory. It mirrors the
// Postgres implementation's unique-key and compare-and-swap behavior and
// backs tests and local development without a database.
type MemoryPaymentRepository struct {
	mu        sync.Mutex
	nextID    int64
	byOrder   map[string][]*domain.PaymentRecord
	byInvoice map[string]*domain.PaymentRecord
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{
		nextID:    1,
		byOrder:   make(map[string][]*domain.PaymentRecord),
		byInvoice: make(map[string]*domain.PaymentRecord),
	}
}

func (r *MemoryPaymentRepository) CreatePending(ctx context.Context, record *domain.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A failed record does not block a fresh invoice for the same order,
	// matching the partial unique index in the Postgres schema. Old failed
	// attempts stay stored, like the rows they stand in for.
	for _, existing := range r.byOrder[record.OrderID] {
		if existing.Status != domain.PaymentStatusFailed {
			return ErrDuplicateKey
		}
	}
	if _, ok := r.byInvoice[record.InvoiceID]; ok {
		return ErrDuplicateKey
	}

	now := time.Now()
	record.ID = r.nextID
	r.nextID++
	record.Status = domain.PaymentStatusPending
	record.CreatedAt = now
	record.UpdatedAt = now

	stored := *record
	r.byOrder[record.OrderID] = append(r.byOrder[record.OrderID], &stored)
	r.byInvoice[record.InvoiceID] = &stored
	return nil
}

func (r *MemoryPaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := r.byOrder[orderID]
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	// Prefer the live record over failed attempts; among failed attempts
	// only, the most recent one wins. Same ordering as the SQL lookup.
	var latestFailed *domain.PaymentRecord
	for _, record := range records {
		if record.Status != domain.PaymentStatusFailed {
			copied := *record
			return &copied, nil
		}
		latestFailed = record
	}
	copied := *latestFailed
	return &copied, nil
}

func (r *MemoryPaymentRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.PaymentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byInvoice[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *MemoryPaymentRepository) TransitionStatus(ctx context.Context, invoiceID string, to domain.PaymentStatus, paidAt *time.Time, gatewayTxID *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byInvoice[invoiceID]
	if !ok {
		return false, nil
	}
	if record.Status != domain.PaymentStatusPending {
		return false, nil
	}

	record.Status = to
	if paidAt != nil {
		record.PaidAt = paidAt
	}
	if gatewayTxID != nil {
		record.GatewayTxID = gatewayTxID
	}
	record.UpdatedAt = time.Now()
	return true, nil
}

func (r *MemoryPaymentRepository) SetErrorNote(ctx context.Context, invoiceID string, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.byInvoice[invoiceID]
	if !ok {
		return ErrNotFound
	}
	record.ErrorNote = &note
	record.UpdatedAt = time.Now()
	return nil
}
