package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/pro-cess/subscriptions-backend/internal/webhooks/stripe"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

type stubWebhookService struct {
	handled bool
	err     error
	events  []string
}

func (s *stubWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) (bool, error) {
	s.events = append(s.events, string(event.Type))
	return s.handled, s.err
}

type staticSecret string

func (s staticSecret) SigningSecret() string { return string(s) }

func webhookTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func eventPayload(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":   "evt_123",
		"type": "invoice.payment_failed",
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return payload
}

func TestStripeWebhookUnsignedModeProcesses(t *testing.T) {
	service := &stubWebhookService{handled: true}
	handler := StripeWebhook(service, staticSecret(""), webhookTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/process-subscriptions/v1/webhook", bytes.NewReader(eventPayload(t)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var receipt webhookReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if !receipt.Received || !receipt.Handled {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(service.events) != 1 || service.events[0] != "invoice.payment_failed" {
		t.Fatalf("unexpected dispatched events %v", service.events)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	service := &stubWebhookService{}
	handler := StripeWebhook(service, staticSecret("whsec_test"), webhookTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/process-subscriptions/v1/webhook", bytes.NewReader(eventPayload(t)))
	req.Header.Set(stripewebhook.SignatureHeader, "t=1,v1=deadbeef")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if len(service.events) != 0 {
		t.Fatal("unverified event must not reach the reconciler")
	}
	if msg := decodeWebhookFailure(t, resp); msg == "" {
		t.Fatal("failure body must carry an error string")
	}
}

// Failure bodies are the flat {"error": string} shape the processor's webhook
// client expects, not the API's error envelope.
func decodeWebhookFailure(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failure body: %v", err)
	}
	raw, ok := body["error"]
	if !ok {
		t.Fatalf("missing error field: %s", resp.Body.String())
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("error field must be a plain string, got %s", raw)
	}
	return msg
}

func TestStripeWebhookAcceptsValidSignature(t *testing.T) {
	const secret = "whsec_test"
	payload := eventPayload(t)
	service := &stubWebhookService{handled: true}
	handler := StripeWebhook(service, staticSecret(secret), webhookTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/process-subscriptions/v1/webhook", bytes.NewReader(payload))
	req.Header.Set(stripewebhook.SignatureHeader, stripewebhook.ComputeSignatureHeader(payload, secret, time.Now()))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(service.events) != 1 {
		t.Fatalf("expected one dispatched event, got %v", service.events)
	}
}

func TestStripeWebhookReconcilerFailurePropagates(t *testing.T) {
	service := &stubWebhookService{err: pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")}
	handler := StripeWebhook(service, staticSecret(""), webhookTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/process-subscriptions/v1/webhook", bytes.NewReader(eventPayload(t)))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code == http.StatusOK {
		t.Fatalf("expected error status, got 200: %s", resp.Body.String())
	}
	decodeWebhookFailure(t, resp)
}

func TestStripeWebhookRejectsMalformedBody(t *testing.T) {
	handler := StripeWebhook(&stubWebhookService{}, staticSecret(""), webhookTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/process-subscriptions/v1/webhook", bytes.NewReader([]byte("not-json")))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if msg := decodeWebhookFailure(t, resp); msg == "" {
		t.Fatal("failure body must carry an error string")
	}
}
