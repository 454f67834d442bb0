package handler

import (
	"errors"
	"io"
	"net/http"

	"qpay-bridge/internal/domain"
	"qpay-bridge/internal/usecase"

	"go.uber.org/zap"
)

// SignatureHeader is the vendor header carrying the HMAC of the raw body.
const SignatureHeader = "X-QPay-Signature"

type WebhookHandler struct {
	reconciler *usecase.WebhookReconciler
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler *usecase.WebhookReconciler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// HandlePaymentNotification receives payment notifications from the gateway.
// The body is read raw so the signature covers the exact bytes sent. The
// gateway retries on non-2xx, so anything already processed acks with 200.
func (h *WebhookHandler) HandlePaymentNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read notification body", zap.Error(err))
		sendError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}

	err = h.reconciler.HandleNotification(ctx, rawBody, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		sendSuccess(w, http.StatusOK, "notification processed", map[string]interface{}{
			"received": true,
		})
	case errors.Is(err, domain.ErrInvalidSignature):
		h.logger.Warn("rejected notification with bad signature",
			zap.String("remote_addr", r.RemoteAddr))
		sendError(w, http.StatusUnauthorized, "invalid signature", err)
	case errors.Is(err, domain.ErrMalformedPayload):
		sendError(w, http.StatusBadRequest, "malformed notification", err)
	default:
		h.logger.Error("failed to process notification", zap.Error(err))
		sendError(w, http.StatusInternalServerError, "failed to process notification", err)
	}
}
