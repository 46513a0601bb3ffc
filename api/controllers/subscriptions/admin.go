package subscriptions

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pro-cess/subscriptions-backend/api/responses"
	"github.com/pro-cess/subscriptions-backend/api/validators"
	subsvc "github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

// licenseManager is the slice of the license sync consumer the admin
// endpoints drive by hand.
type licenseManager interface {
	SetupTrialAddon(ctx context.Context, subscriptionID uuid.UUID, addon enums.LicenseAddon, tier string) error
	ConvertTrial(ctx context.Context, subscriptionID uuid.UUID, addon enums.LicenseAddon, tier string) error
	ExtendLicense(ctx context.Context, subscriptionID uuid.UUID, days int) error
	Revoke(ctx context.Context, subscriptionID uuid.UUID, reason string) error
}

type adminCancelRequest struct {
	Immediate bool `json:"immediate"`
}

type adminSetStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type adminAddonRequest struct {
	Addon string `json:"addon" validate:"required"`
	Tier  string `json:"tier,omitempty"`
}

type adminExtendLicenseRequest struct {
	Days int `json:"days" validate:"required,min=1"`
}

type adminRevokeRequest struct {
	Reason string `json:"reason,omitempty"`
}

// AdminSubscriptionList returns subscriptions across all customers with
// optional user and status filters.
func AdminSubscriptionList(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		query, err := listQueryFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if raw := strings.TrimSpace(r.URL.Query().Get("user_id")); raw != "" {
			userID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
				return
			}
			query.UserID = &userID
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseSubscriptionStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			query.Status = &status
		}

		subs, next, err := svc.List(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionListResponse(subs, next))
	}
}

func AdminSubscriptionGet(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
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
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

// AdminSubscriptionCancel cancels a subscription, immediately when the body
// asks for it and at period end otherwise.
func AdminSubscriptionCancel(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		subID, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload adminCancelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Cancel(r.Context(), subID, payload.Immediate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

// AdminSubscriptionPurge hard-deletes the local row regardless of status. It
// does not touch the processor or the license service.
func AdminSubscriptionPurge(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		subID, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Purge(r.Context(), subID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

// AdminSubscriptionSetStatus is the support escape hatch: it forces any
// status onto any row, bypassing the lifecycle rules.
func AdminSubscriptionSetStatus(svc subsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		subID, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload adminSetStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := enums.ParseSubscriptionStatus(payload.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		sub, err := svc.SetStatus(r.Context(), subID, status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

func AdminSubscriptionTrialAddon(licenses licenseManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if licenses == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "license manager unavailable"))
			return
		}

		subID, addon, tier, err := addonRequestFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := licenses.SetupTrialAddon(r.Context(), subID, addon, tier); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func AdminSubscriptionConvertTrial(licenses licenseManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if licenses == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "license manager unavailable"))
			return
		}

		subID, addon, tier, err := addonRequestFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := licenses.ConvertTrial(r.Context(), subID, addon, tier); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func AdminSubscriptionExtendLicense(licenses licenseManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if licenses == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "license manager unavailable"))
			return
		}

		subID, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload adminExtendLicenseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := licenses.ExtendLicense(r.Context(), subID, payload.Days); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func AdminSubscriptionRevokeLicense(licenses licenseManager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if licenses == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "license manager unavailable"))
			return
		}

		subID, err := subscriptionIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload adminRevokeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason := validators.SanitizeString(payload.Reason, 200)

		if err := licenses.Revoke(r.Context(), subID, reason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func addonRequestFromRequest(r *http.Request) (uuid.UUID, enums.LicenseAddon, string, error) {
	subID, err := subscriptionIDFromPath(r)
	if err != nil {
		return uuid.Nil, "", "", err
	}

	var payload adminAddonRequest
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		return uuid.Nil, "", "", err
	}
	addon, err := enums.ParseLicenseAddon(payload.Addon)
	if err != nil {
		return uuid.Nil, "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid addon")
	}
	return subID, addon, payload.Tier, nil
}
