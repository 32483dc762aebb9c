package billing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billsync/pkg/billing"
	"github.com/dmitrymomot/billsync/pkg/logger"
)

// CheckoutErrorCode is the only error code the checkout endpoint reports.
const CheckoutErrorCode = "CHECKOUT_ERROR"

var errInvalidBody = errors.New("invalid checkout request body")

type checkoutRequest struct {
	CompanyID     string `json:"companyId"`
	PlanType      string `json:"planType"`
	BillingPeriod string `json:"billingPeriod"`
	Email         string `json:"email"`
	CompanyName   string `json:"companyName"`
}

type checkoutResponse struct {
	SubscriptionID string             `json:"subscriptionId"`
	CustomerID     string             `json:"customerId"`
	ClientSecret   string             `json:"clientSecret"`
	PlanConfig     billing.PlanConfig `json:"planConfig"`
	Status         billing.Status     `json:"status"`
}

type checkoutHandler struct {
	runner      CheckoutRunner
	allowOrigin string
	log         *slog.Logger
}

func (h *checkoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w, h.allowOrigin)

	var body checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.fail(w, r, errors.Join(errInvalidBody, err))
		return
	}

	res, err := h.runner.Checkout(r.Context(), billing.CheckoutRequest{
		AccountID:   body.CompanyID,
		Tier:        billing.Tier(body.PlanType),
		Period:      billing.Period(body.BillingPeriod),
		Email:       body.Email,
		AccountName: body.CompanyName,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		SubscriptionID: res.SubscriptionID,
		CustomerID:     res.CustomerID,
		ClientSecret:   res.ClientSecret,
		PlanConfig:     res.Plan,
		Status:         res.Status,
	})
}

func (h *checkoutHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.log.ErrorContext(r.Context(), "checkout request failed", logger.Component("checkout"), logger.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]ErrorDetail{
		"error": {Code: CheckoutErrorCode, Message: err.Error()},
	})
}
