package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"qpay-bridge/internal/domain"
	"qpay-bridge/internal/usecase"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type InvoiceHandler struct {
	workflow *usecase.InvoiceWorkflow
	logger   *zap.Logger
}

func NewInvoiceHandler(workflow *usecase.InvoiceWorkflow, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{
		workflow: workflow,
		logger:   logger,
	}
}

type createInvoiceRequest struct {
	OrderID   string               `json:"order_id"`
	Amount    int64                `json:"amount"`
	Currency  string               `json:"currency"`
	LineItems []domain.LineItem    `json:"line_items,omitempty"`
	Receiver  *domain.ReceiverInfo `json:"receiver,omitempty"`
}

// HandleCreateInvoice creates a gateway invoice for an order. Repeated calls
// for the same order return the existing invoice.
func (h *InvoiceHandler) HandleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode invoice request", zap.Error(err))
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := h.workflow.CreateInvoice(ctx, req.OrderID, req.Amount, req.Currency, req.LineItems, req.Receiver)
	if err != nil {
		h.logger.Error("failed to create invoice",
			zap.String("order_id", req.OrderID),
			zap.Error(err))
		sendError(w, statusForWorkflowError(err), "failed to create invoice", err)
		return
	}

	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	sendSuccess(w, status, "invoice ready", result)
}

// HandleCheckStatus looks up a payment by order id or invoice id, polling
// the gateway when the record is still pending.
func (h *InvoiceHandler) HandleCheckStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ref := chi.URLParam(r, "ref")
	if ref == "" {
		sendError(w, http.StatusBadRequest, "missing payment reference", nil)
		return
	}

	record, err := h.workflow.CheckStatus(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			sendError(w, http.StatusNotFound, "payment not found", err)
			return
		}
		h.logger.Error("failed to check payment status",
			zap.String("ref", ref),
			zap.Error(err))
		sendError(w, statusForWorkflowError(err), "failed to check payment status", err)
		return
	}

	sendSuccess(w, http.StatusOK, "payment status", record)
}

// statusForWorkflowError maps the workflow error taxonomy onto HTTP codes:
// validation means the caller's request was bad, auth and gateway trouble is
// an upstream failure.
func statusForWorkflowError(err error) int {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, domain.ErrAuthRetryExhausted) || errors.Is(err, domain.ErrInvalidCredentials) {
		return http.StatusBadGateway
	}
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		return http.StatusBadGateway
	}
	var netErr *domain.NetworkError
	if errors.As(err, &netErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"success": false,
		"message": message,
	}
	if err != nil {
		response["error"] = err.Error()
	}

	json.NewEncoder(w).Encode(response)
}
