package domain

import (
	"errors"
	"fmt"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Terminal reports whether no further transition is permitted from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusFailed
}

// PaymentRecord tracks the payment lifecycle of one order. Exactly one
// non-terminal record may exist per order id; order_id and invoice_id carry
// unique constraints at the storage layer.
type PaymentRecord struct {
	ID          int64          `json:"id" db:"id"`
	PaymentRef  string         `json:"payment_ref" db:"payment_ref"`
	OrderID     string         `json:"order_id" db:"order_id"`
	InvoiceID   string         `json:"invoice_id" db:"invoice_id"`
	Amount      int64          `json:"amount" db:"amount"`
	Currency    string         `json:"currency" db:"currency"`
	Status      PaymentStatus  `json:"status" db:"status"`
	QRText      string         `json:"qr_text" db:"qr_text"`
	QRImage     string         `json:"qr_image,omitempty" db:"qr_image"`
	Deeplinks   []BankDeeplink `json:"deeplinks,omitempty" db:"deeplinks"`
	GatewayTxID *string        `json:"gateway_tx_id,omitempty" db:"gateway_tx_id"`
	ErrorNote   *string        `json:"error_note,omitempty" db:"error_note"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
	PaidAt      *time.Time     `json:"paid_at,omitempty" db:"paid_at"`
}

// BankDeeplink is a bank-app payment link returned by the gateway alongside
// the QR payload.
type BankDeeplink struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Logo        string `json:"logo,omitempty"`
	Link        string `json:"link"`
}

// LineItem is one billed line of an invoice. Quantity must be >= 1 and
// UnitPrice >= 0, both in whole currency units (MNT has no subunit).
type LineItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

// ReceiverInfo is optional payer metadata forwarded to the gateway.
type ReceiverInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// InvoiceRequest is the validated input for creating a gateway invoice.
// It is built per call and never persisted.
type InvoiceRequest struct {
	OrderID     string       `json:"order_id"`
	Amount      int64        `json:"amount"`
	Currency    string       `json:"currency"`
	Description string       `json:"description"`
	CallbackURL string       `json:"callback_url"`
	LineItems   []LineItem   `json:"line_items,omitempty"`
	Receiver    ReceiverInfo `json:"receiver,omitempty"`
}

// Validate enforces the amount and line-item invariants before any network
// call. When no line items are supplied a single synthetic line covering the
// full amount is added.
func (r *InvoiceRequest) Validate() error {
	if r.OrderID == "" {
		return NewValidationError("order_id is required")
	}
	if r.Amount <= 0 {
		return NewValidationError("amount must be greater than 0")
	}
	if r.Currency == "" {
		r.Currency = "MNT"
	}
	if len(r.LineItems) == 0 {
		desc := r.Description
		if desc == "" {
			desc = fmt.Sprintf("Payment for order %s", r.OrderID)
		}
		r.LineItems = []LineItem{{Description: desc, Quantity: 1, UnitPrice: r.Amount}}
		return nil
	}
	var sum int64
	for i, item := range r.LineItems {
		if item.Quantity < 1 {
			return NewValidationError(fmt.Sprintf("line item %d: quantity must be at least 1", i))
		}
		if item.UnitPrice < 0 {
			return NewValidationError(fmt.Sprintf("line item %d: unit price must not be negative", i))
		}
		sum += item.Quantity * item.UnitPrice
	}
	if sum != r.Amount {
		return NewValidationError(fmt.Sprintf("line items total %d does not match amount %d", sum, r.Amount))
	}
	return nil
}

// PaymentNotification is the inbound gateway webhook payload.
type PaymentNotification struct {
	InvoiceID       string  `json:"invoice_id"`
	PaymentStatus   string  `json:"payment_status"`
	PaymentAmount   *int64  `json:"payment_amount,omitempty"`
	PaymentCurrency *string `json:"payment_currency,omitempty"`
	PaymentID       *string `json:"payment_id,omitempty"`
	PaidDate        *string `json:"paid_date,omitempty"`
}

// Gateway payment_status values carried by notifications and payment-check rows.
const (
	GatewayStatusPaid      = "PAID"
	GatewayStatusPending   = "PENDING"
	GatewayStatusCancelled = "CANCELLED"
	GatewayStatusFailed    = "FAILED"
)

func (n *PaymentNotification) Validate() error {
	if n.InvoiceID == "" {
		return errors.New("invoice_id is required")
	}
	switch n.PaymentStatus {
	case GatewayStatusPaid, GatewayStatusPending, GatewayStatusCancelled, GatewayStatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown payment_status: %q", n.PaymentStatus)
	}
}

// InvoiceResult is returned to callers of invoice creation.
type InvoiceResult struct {
	InvoiceID  string         `json:"invoice_id"`
	PaymentRef string         `json:"payment_ref"`
	OrderID    string         `json:"order_id"`
	Amount     int64          `json:"amount"`
	Currency   string         `json:"currency"`
	Status     PaymentStatus  `json:"status"`
	QRText     string         `json:"qr_text"`
	QRImage    string         `json:"qr_image,omitempty"`
	Deeplinks  []BankDeeplink `json:"deeplinks,omitempty"`
	Existing   bool           `json:"existing"`
}
