package billing

import (
	"net/http"

	"github.com/dmitrymomot/billsync/pkg/billing"
)

func plansHandler(catalog billing.Catalog) http.HandlerFunc {
	body := map[string]any{
		"plans":    catalog.Plans(),
		"currency": billing.DefaultCurrency,
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, body)
	}
}
