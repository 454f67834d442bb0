package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"qpay-bridge/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound means no payment record matches the lookup key.
	ErrNotFound = errors.New("payment record not found")

	// ErrDuplicateKey means the unique constraint on order_id or invoice_id
	// rejected an insert. This constraint, not the workflow's read-before-
	// create check, is the real duplicate-invoice guarantee.
	ErrDuplicateKey = errors.New("payment record already exists")
)

// PaymentRepository stores payment records keyed uniquely by order id and by
// invoice id. TransitionStatus is a compare-and-swap out of pending: the
// returned bool reports whether this call applied the transition, so
// concurrent duplicate deliveries settle on exactly one winner.
type PaymentRepository interface {
	GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentRecord, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.PaymentRecord, error)
	CreatePending(ctx context.Context, record *domain.PaymentRecord) error
	TransitionStatus(ctx context.Context, invoiceID string, to domain.PaymentStatus, paidAt *time.Time, gatewayTxID *string) (bool, error)
	SetErrorNote(ctx context.Context, invoiceID string, note string) error
}

const uniqueViolation = "23505"

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &paymentRepo{db: db}
}

const paymentColumns = `
    id, payment_ref, order_id, invoice_id, amount, currency, status,
    qr_text, qr_image, deeplinks, gateway_tx_id, error_note,
    created_at, updated_at, paid_at
`

func (r *paymentRepo) CreatePending(ctx context.Context, record *domain.PaymentRecord) error {
	query := `
        INSERT INTO payment_records (
            payment_ref, order_id, invoice_id, amount, currency, status,
            qr_text, qr_image, deeplinks
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id, created_at, updated_at
    `

	deeplinksJSON, _ := json.Marshal(record.Deeplinks)

	record.Status = domain.PaymentStatusPending
	err := r.db.QueryRow(ctx, query,
		record.PaymentRef,
		record.OrderID,
		record.InvoiceID,
		record.Amount,
		record.Currency,
		record.Status,
		record.QRText,
		record.QRImage,
		deeplinksJSON,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateKey
	}
	return err
}

func (r *paymentRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.PaymentRecord, error) {
	// The partial unique index lets a failed row coexist with one live row
	// for the same order. Prefer the live row; with only failed rows,
	// return the most recent attempt.
	query := `SELECT ` + paymentColumns + ` FROM payment_records
        WHERE order_id = $1
        ORDER BY (status <> 'failed') DESC, created_at DESC
        LIMIT 1`
	return r.scanOne(ctx, query, orderID)
}

func (r *paymentRepo) GetByInvoiceID(ctx context.Context, invoiceID string) (*domain.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment_records WHERE invoice_id = $1`
	return r.scanOne(ctx, query, invoiceID)
}

func (r *paymentRepo) scanOne(ctx context.Context, query string, arg interface{}) (*domain.PaymentRecord, error) {
	var record domain.PaymentRecord
	var deeplinksJSON []byte

	err := r.db.QueryRow(ctx, query, arg).Scan(
		&record.ID,
		&record.PaymentRef,
		&record.OrderID,
		&record.InvoiceID,
		&record.Amount,
		&record.Currency,
		&record.Status,
		&record.QRText,
		&record.QRImage,
		&deeplinksJSON,
		&record.GatewayTxID,
		&record.ErrorNote,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.PaidAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(deeplinksJSON) > 0 {
		_ = json.Unmarshal(deeplinksJSON, &record.Deeplinks)
	}

	return &record, nil
}

func (r *paymentRepo) TransitionStatus(ctx context.Context, invoiceID string, to domain.PaymentStatus, paidAt *time.Time, gatewayTxID *string) (bool, error) {
	// The status = 'pending' guard makes this a compare-and-swap: a record
	// already in a terminal state is never touched.
	query := `
        UPDATE payment_records
        SET
            status = $1,
            paid_at = COALESCE($2, paid_at),
            gateway_tx_id = COALESCE($3, gateway_tx_id),
            updated_at = NOW()
        WHERE invoice_id = $4 AND status = 'pending'
    `

	tag, err := r.db.Exec(ctx, query, to, paidAt, gatewayTxID, invoiceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *paymentRepo) SetErrorNote(ctx context.Context, invoiceID string, note string) error {
	query := `
        UPDATE payment_records
        SET error_note = $1, updated_at = NOW()
        WHERE invoice_id = $2
    `

	_, err := r.db.Exec(ctx, query, note, invoiceID)
	return err
}
