package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pro-cess/subscriptions-backend/api/middleware"
	subsvc "github.com/pro-cess/subscriptions-backend/internal/subscriptions"
	"github.com/pro-cess/subscriptions-backend/pkg/db/models"
	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
	"github.com/pro-cess/subscriptions-backend/pkg/pagination"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

type stubService struct {
	subsvc.Service

	listQuery    subsvc.ListQuery
	listResult   []models.Subscription
	listNext     *pagination.Cursor
	listErr      error
	getResult    *models.Subscription
	getErr       error
	cancelled    []uuid.UUID
	cancelledImm []bool
	cancelResult *models.Subscription
	cancelErr    error
	setStatusTo  *enums.SubscriptionStatus
	purged       []uuid.UUID
	createdFor   []uuid.UUID
	createResult []models.Subscription
	createErr    error
}

func (s *stubService) List(ctx context.Context, query subsvc.ListQuery) ([]models.Subscription, *pagination.Cursor, error) {
	s.listQuery = query
	return s.listResult, s.listNext, s.listErr
}

func (s *stubService) Get(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return s.getResult, s.getErr
}

func (s *stubService) Cancel(ctx context.Context, id uuid.UUID, immediate bool) (*models.Subscription, error) {
	s.cancelled = append(s.cancelled, id)
	s.cancelledImm = append(s.cancelledImm, immediate)
	if s.cancelResult != nil {
		return s.cancelResult, s.cancelErr
	}
	return &models.Subscription{ID: id, Status: enums.SubscriptionStatusPendingCancel}, s.cancelErr
}

func (s *stubService) SetStatus(ctx context.Context, id uuid.UUID, status enums.SubscriptionStatus) (*models.Subscription, error) {
	s.setStatusTo = &status
	return &models.Subscription{ID: id, Status: status}, nil
}

func (s *stubService) Purge(ctx context.Context, id uuid.UUID) error {
	s.purged = append(s.purged, id)
	return nil
}

func (s *stubService) CreateForOrder(ctx context.Context, orderID uuid.UUID) ([]models.Subscription, error) {
	s.createdFor = append(s.createdFor, orderID)
	return s.createResult, s.createErr
}

type stubLicenseManager struct {
	trialSubID   uuid.UUID
	trialAddon   enums.LicenseAddon
	trialTier    string
	converted    bool
	extendedDays int
	revokeReason string
	err          error
}

func (s *stubLicenseManager) SetupTrialAddon(ctx context.Context, subscriptionID uuid.UUID, addon enums.LicenseAddon, tier string) error {
	s.trialSubID = subscriptionID
	s.trialAddon = addon
	s.trialTier = tier
	return s.err
}

func (s *stubLicenseManager) ConvertTrial(ctx context.Context, subscriptionID uuid.UUID, addon enums.LicenseAddon, tier string) error {
	s.converted = true
	s.trialAddon = addon
	return s.err
}

func (s *stubLicenseManager) ExtendLicense(ctx context.Context, subscriptionID uuid.UUID, days int) error {
	s.extendedDays = days
	return s.err
}

func (s *stubLicenseManager) Revoke(ctx context.Context, subscriptionID uuid.UUID, reason string) error {
	s.revokeReason = reason
	return s.err
}

func TestCustomerSubscriptionListScopesToCaller(t *testing.T) {
	userID := uuid.New()
	service := &stubService{
		listResult: []models.Subscription{{
			ID:       uuid.New(),
			UserID:   userID,
			Status:   enums.SubscriptionStatusActive,
			Currency: "GBP",
		}},
	}
	handler := CustomerSubscriptionList(service, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	req = req.WithContext(middleware.WithUserID(req.Context(), userID.String()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if service.listQuery.UserID == nil || *service.listQuery.UserID != userID {
		t.Fatalf("list should be scoped to the caller, got %v", service.listQuery.UserID)
	}

	var envelope struct {
		Data subscriptionListResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(envelope.Data.Subscriptions) != 1 {
		t.Fatalf("expected one subscription, got %d", len(envelope.Data.Subscriptions))
	}
}

func TestCustomerSubscriptionListRequiresAuth(t *testing.T) {
	handler := CustomerSubscriptionList(&stubService{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestCustomerSubscriptionCancelRejectsForeignSubscription(t *testing.T) {
	owner := uuid.New()
	subID := uuid.New()
	service := &stubService{
		getResult: &models.Subscription{ID: subID, UserID: owner, Status: enums.SubscriptionStatusActive},
	}
	handler := CustomerSubscriptionCancel(service, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/"+subID.String()+"/cancel", nil)
	req = withURLParam(req, "subscriptionId", subID.String())
	req = req.WithContext(middleware.WithUserID(req.Context(), uuid.NewString()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign subscription, got %d", resp.Code)
	}
	if len(service.cancelled) != 0 {
		t.Fatal("cancel should not reach the service")
	}
}

func TestCustomerSubscriptionCancelIsPeriodEnd(t *testing.T) {
	owner := uuid.New()
	subID := uuid.New()
	service := &stubService{
		getResult: &models.Subscription{ID: subID, UserID: owner, Status: enums.SubscriptionStatusActive},
	}
	handler := CustomerSubscriptionCancel(service, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions/"+subID.String()+"/cancel", nil)
	req = withURLParam(req, "subscriptionId", subID.String())
	req = req.WithContext(middleware.WithUserID(req.Context(), owner.String()))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(service.cancelled) != 1 || service.cancelled[0] != subID {
		t.Fatalf("expected cancel for %s, got %v", subID, service.cancelled)
	}
	if service.cancelledImm[0] {
		t.Fatal("customer cancel must be period-end, not immediate")
	}
}

func TestAdminSubscriptionListForwardsFilters(t *testing.T) {
	userID := uuid.New()
	service := &stubService{}
	handler := AdminSubscriptionList(service, testLogger())

	target := "/api/admin/v1/subscriptions?user_id=" + userID.String() + "&status=past_due&limit=10"
	req := httptest.NewRequest(http.MethodGet, target, nil)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if service.listQuery.UserID == nil || *service.listQuery.UserID != userID {
		t.Fatalf("user filter not forwarded: %v", service.listQuery.UserID)
	}
	if service.listQuery.Status == nil || *service.listQuery.Status != enums.SubscriptionStatusPastDue {
		t.Fatalf("status filter not forwarded: %v", service.listQuery.Status)
	}
	if service.listQuery.Limit != 10 {
		t.Fatalf("limit not forwarded: %d", service.listQuery.Limit)
	}
}

func TestAdminSubscriptionListRejectsUnknownStatus(t *testing.T) {
	handler := AdminSubscriptionList(&stubService{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/subscriptions?status=bogus", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestAdminSubscriptionListEncodesNextCursor(t *testing.T) {
	next := &pagination.Cursor{CreatedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), ID: uuid.New()}
	service := &stubService{listNext: next}
	handler := AdminSubscriptionList(service, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/subscriptions", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	var envelope struct {
		Data subscriptionListResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.NextCursor != pagination.EncodeCursor(*next) {
		t.Fatalf("unexpected cursor %q", envelope.Data.NextCursor)
	}
}

func TestAdminSubscriptionCancelImmediate(t *testing.T) {
	subID := uuid.New()
	service := &stubService{}
	handler := AdminSubscriptionCancel(service, testLogger())

	body := bytes.NewReader([]byte(`{"immediate":true}`))
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/subscriptions/"+subID.String()+"/cancel", body)
	req = withURLParam(req, "subscriptionId", subID.String())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(service.cancelledImm) != 1 || !service.cancelledImm[0] {
		t.Fatalf("expected immediate cancel, got %v", service.cancelledImm)
	}
}

func TestAdminSubscriptionSetStatusRejectsUnknown(t *testing.T) {
	subID := uuid.New()
	service := &stubService{}
	handler := AdminSubscriptionSetStatus(service, testLogger())

	body := bytes.NewReader([]byte(`{"status":"bogus"}`))
	req := httptest.NewRequest(http.MethodPut, "/api/admin/v1/subscriptions/"+subID.String()+"/status", body)
	req = withURLParam(req, "subscriptionId", subID.String())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if service.setStatusTo != nil {
		t.Fatal("set status should not reach the service")
	}
}

func TestAdminSubscriptionPurge(t *testing.T) {
	subID := uuid.New()
	service := &stubService{}
	handler := AdminSubscriptionPurge(service, testLogger())

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/v1/subscriptions/"+subID.String(), nil)
	req = withURLParam(req, "subscriptionId", subID.String())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if len(service.purged) != 1 || service.purged[0] != subID {
		t.Fatalf("expected purge of %s, got %v", subID, service.purged)
	}
}

func TestAdminSubscriptionTrialAddonParsesAddon(t *testing.T) {
	subID := uuid.New()
	licenses := &stubLicenseManager{}
	handler := AdminSubscriptionTrialAddon(licenses, testLogger())

	body := bytes.NewReader([]byte(`{"addon":"route_optimization","tier":"pro"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/subscriptions/"+subID.String()+"/trial-addon", body)
	req = withURLParam(req, "subscriptionId", subID.String())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if licenses.trialSubID != subID {
		t.Fatalf("expected trial setup for %s, got %s", subID, licenses.trialSubID)
	}
	if licenses.trialAddon != enums.LicenseAddonRouteOptimization || licenses.trialTier != "pro" {
		t.Fatalf("unexpected addon payload %s/%s", licenses.trialAddon, licenses.trialTier)
	}
}

func TestAdminSubscriptionTrialAddonRejectsUnknownAddon(t *testing.T) {
	subID := uuid.New()
	handler := AdminSubscriptionTrialAddon(&stubLicenseManager{}, testLogger())

	body := bytes.NewReader([]byte(`{"addon":"bogus"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/subscriptions/"+subID.String()+"/trial-addon", body)
	req = withURLParam(req, "subscriptionId", subID.String())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestAdminSubscriptionExtendLicenseValidatesDays(t *testing.T) {
	subID := uuid.New()
	licenses := &stubLicenseManager{}
	handler := AdminSubscriptionExtendLicense(licenses, testLogger())

	body := bytes.NewReader([]byte(`{"days":0}`))
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/subscriptions/"+subID.String()+"/extend-license", body)
	req = withURLParam(req, "subscriptionId", subID.String())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if licenses.extendedDays != 0 {
		t.Fatal("extend should not reach the license manager")
	}
}

func TestAdminSubscriptionConvertTrial(t *testing.T) {
	subID := uuid.New()
	licenses := &stubLicenseManager{}
	handler := AdminSubscriptionConvertTrial(licenses, testLogger())

	body := bytes.NewReader([]byte(`{"addon":"gpt4o"}`))
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/subscriptions/"+subID.String()+"/convert-trial", body)
	req = withURLParam(req, "subscriptionId", subID.String())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !licenses.converted {
		t.Fatal("convert should reach the license manager")
	}
}

func TestAdminOrderProcessCreates(t *testing.T) {
	orderID := uuid.New()
	service := &stubService{
		createResult: []models.Subscription{{ID: uuid.New(), OrderID: orderID}},
	}
	handler := AdminOrderProcess(service, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/orders/"+orderID.String()+"/process", nil)
	req = withURLParam(req, "orderId", orderID.String())

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if len(service.createdFor) != 1 || service.createdFor[0] != orderID {
		t.Fatalf("expected create for %s, got %v", orderID, service.createdFor)
	}
}

func TestAdminOrderProcessRejectsBadID(t *testing.T) {
	handler := AdminOrderProcess(&stubService{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/orders/not-a-uuid/process", nil)
	req = withURLParam(req, "orderId", "not-a-uuid")

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
