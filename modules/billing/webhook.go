package billing

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billsync/pkg/billing"
	"github.com/dmitrymomot/billsync/pkg/logger"
)

// SignatureHeader carries the provider's event signature.
const SignatureHeader = "Stripe-Signature"

type webhookHandler struct {
	intake   EventProcessor
	secret   string
	maxBytes int64
	log      *slog.Logger
}

func (h *webhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.secret == "" {
		h.reject(w, r, billing.ErrMissingWebhookSecret)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		h.reject(w, r, errors.Join(billing.ErrMalformedEvent, err))
		return
	}

	if err := h.intake.Process(ctx, payload, r.Header.Get(SignatureHeader)); err != nil {
		h.reject(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *webhookHandler) reject(w http.ResponseWriter, r *http.Request, err error) {
	h.log.WarnContext(r.Context(), "webhook rejected", logger.Component("webhook"), logger.Error(err))
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}
