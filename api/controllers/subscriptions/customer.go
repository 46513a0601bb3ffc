package subscriptions

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pro-cess/subscriptions-backend/api/middleware"
	"github.com/pro-cess/subscriptions-backend/api/responses"
	"github.com/pro-cess/subscriptions-backend/api/validators"
	subsvc "github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
	"github.com/pro-cess/subscriptions-backend/pkg/pagination"
)

// CustomerSubscriptionList returns the authenticated customer's own
// subscriptions, newest first.
func CustomerSubscriptionList(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		query, err := listQueryFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query.UserID = &userID

		subs, next, err := svc.List(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionListResponse(subs, next))
	}
}

// CustomerSubscriptionCancel schedules a period-end cancellation on a
// subscription the caller owns. Customers never cancel immediately; paid-for
// time runs out before access is lost.
func CustomerSubscriptionCancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := requireUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subID, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Get(r.Context(), subID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if sub.UserID != userID {
			// Not found rather than forbidden so ownership is not probeable.
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found"))
			return
		}

		updated, err := svc.Cancel(r.Context(), subID, false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(updated))
	}
}

func requireUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid credentials")
	}
	return userID, nil
}

func subscriptionIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "subscriptionId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id is required")
	}
	subID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription id")
	}
	return subID, nil
}

func listQueryFromRequest(r *http.Request) (subsvc.ListQuery, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return subsvc.ListQuery{}, err
	}
	cursor, err := pagination.ParseCursor(strings.TrimSpace(r.URL.Query().Get("cursor")))
	if err != nil {
		return subsvc.ListQuery{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return subsvc.ListQuery{Limit: limit, Cursor: cursor}, nil
}
