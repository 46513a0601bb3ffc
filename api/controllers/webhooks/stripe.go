package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/pro-cess/subscriptions-backend/internal/webhooks/stripe"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (bool, error)
}

type signingSecretSource interface {
	SigningSecret() string
}

type webhookReceipt struct {
	Received bool `json:"received"`
	Handled  bool `json:"handled"`
}

type webhookFailure struct {
	Error string `json:"error"`
}

// StripeWebhook verifies and dispatches processor events. The response is
// always 200 once the event reached the reconciler; downstream side-effect
// failures are not the processor's problem and must not trigger its retries.
func StripeWebhook(svc StripeWebhookService, secrets signingSecretSource, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			writeWebhookFailure(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeWebhookFailure(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		secret := ""
		if secrets != nil {
			secret = secrets.SigningSecret()
		}
		if secret == "" {
			// Unsigned mode for local development only.
			logg.Warn(ctx, "webhook signing secret not configured, skipping verification")
		} else {
			header := r.Header.Get(stripewebhook.SignatureHeader)
			if err := stripewebhook.VerifySignature(payload, header, secret, time.Now(), stripewebhook.DefaultTolerance); err != nil {
				writeWebhookFailure(ctx, logg, w, err)
				return
			}
		}

		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil {
			writeWebhookFailure(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		handled, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			writeWebhookFailure(ctx, logg, w, err)
			return
		}

		writeReceipt(w, webhookReceipt{Received: true, Handled: handled})
	}
}

func writeReceipt(w http.ResponseWriter, receipt webhookReceipt) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(receipt); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode webhook receipt","err":"%v"}`, err)
	}
}

// writeWebhookFailure answers the processor with the flat {"error": string}
// shape its webhook client expects, not the API's error envelope.
func writeWebhookFailure(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	if logg != nil {
		logg.Error(ctx, "webhook.error", err)
	}

	meta := pkgerrors.MetadataFor(typed.Code())
	msg := meta.PublicMessage
	switch typed.Code() {
	case pkgerrors.CodeValidation, pkgerrors.CodeUnauthorized, pkgerrors.CodeNotFound, pkgerrors.CodeStateConflict:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(meta.HTTPStatus)
	if encodeErr := json.NewEncoder(w).Encode(webhookFailure{Error: msg}); encodeErr != nil {
		log.Printf(`{"level":"error","msg":"failed to encode webhook failure","err":"%v"}`, encodeErr)
	}
}
