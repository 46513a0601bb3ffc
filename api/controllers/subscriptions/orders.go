package subscriptions

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pro-cess/subscriptions-backend/api/responses"
	subsvc "github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

// AdminOrderProcess provisions subscriptions for a paid order. It is the
// manual counterpart of the checkout hook and is safe to re-run.
func AdminOrderProcess(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		rawOrderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
		if rawOrderID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "order id is required"))
			return
		}
		orderID, err := uuid.Parse(rawOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		subs, err := svc.CreateForOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newSubscriptionListResponse(subs, nil))
	}
}
