package qpay

import "qpay-bridge/internal/domain"

type tokenResponse struct {
	TokenType        string `json:"token_type"`
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
}

type invoiceLine struct {
	LineDescription string `json:"line_description"`
	LineQuantity    int64  `json:"line_quantity"`
	LineUnitPrice   int64  `json:"line_unit_price"`
}

type invoiceRequest struct {
	InvoiceCode         string        `json:"invoice_code"`
	SenderInvoiceNo     string        `json:"sender_invoice_no"`
	InvoiceReceiverCode string        `json:"invoice_receiver_code"`
	InvoiceDescription  string        `json:"invoice_description"`
	Amount              int64         `json:"amount"`
	CallbackURL         string        `json:"callback_url"`
	Lines               []invoiceLine `json:"lines"`
}

// InvoiceResponse is the gateway reply to invoice creation.
type InvoiceResponse struct {
	InvoiceID string                `json:"invoice_id"`
	QRText    string                `json:"qr_text"`
	QRImage   string                `json:"qr_image"`
	Deeplinks []domain.BankDeeplink `json:"deeplinks"`
}

type paymentCheckOffset struct {
	PageNumber int `json:"page_number"`
	PageLimit  int `json:"page_limit"`
}

type paymentCheckRequest struct {
	ObjectType string             `json:"object_type"`
	ObjectID   string             `json:"object_id"`
	Offset     paymentCheckOffset `json:"offset"`
}

// PaymentRow is one settled or attempted payment against an invoice.
type PaymentRow struct {
	PaymentID       string `json:"payment_id"`
	PaymentStatus   string `json:"payment_status"`
	PaymentAmount   int64  `json:"payment_amount"`
	PaymentCurrency string `json:"payment_currency"`
	PaymentDate     string `json:"payment_date,omitempty"`
}

// PaymentCheckResponse lists payments recorded against an invoice.
type PaymentCheckResponse struct {
	Count      int          `json:"count"`
	PaidAmount int64        `json:"paid_amount"`
	Rows       []PaymentRow `json:"rows"`
}
