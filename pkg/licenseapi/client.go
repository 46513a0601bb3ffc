package licenseapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pro-cess/subscriptions-backend/pkg/config"
	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	pkgerrors "github.com/pro-cess/subscriptions-backend/pkg/errors"
)

const (
	createLicensePath = "/create-license"
	updateLicensePath = "/update-license"
	addonPath         = "/addon-subscription"

	defaultTimeout = 15 * time.Second
)

// AddonAction is the verb sent to the addon endpoint.
type AddonAction string

const (
	AddonActionSetupTrial AddonAction = "setup_trial"
	AddonActionActivate   AddonAction = "activate"
	AddonActionCancel     AddonAction = "cancel"
)

var errNotConfigured = errors.New("license api is not configured")

// CreateLicenseRequest provisions a new license for a paid subscription.
type CreateLicenseRequest struct {
	Email          string  `json:"email"`
	CustomerName   string  `json:"customer_name"`
	PluginSlug     string  `json:"plugin_slug"`
	LicenseType    string  `json:"license_type"`
	OrderID        string  `json:"order_id"`
	SubscriptionID string  `json:"subscription_id"`
	TrialExpiresAt *string `json:"trial_expires_at,omitempty"`
	StaffLimit     *int    `json:"staff_limit,omitempty"`
}

// CreateLicenseResponse carries the key minted by the license server.
type CreateLicenseResponse struct {
	SerialKey string `json:"serial_key"`
}

// UpdateLicenseRequest mutates an existing license. Zero-valued fields are
// omitted so the server treats the update as partial.
type UpdateLicenseRequest struct {
	LicenseKey string              `json:"license_key"`
	Status     enums.LicenseStatus `json:"status,omitempty"`
	ExtendDays int                 `json:"extend_days,omitempty"`
	Reason     string              `json:"reason,omitempty"`
}

// AddonRequest drives addon lifecycle on a license.
type AddonRequest struct {
	LicenseKey string             `json:"license_key"`
	AddonType  enums.LicenseAddon `json:"addon_type"`
	Action     AddonAction        `json:"action"`
	Tier       string             `json:"tier,omitempty"`
}

// Client is a thin JSON client for the downstream license server. Every call
// is a single attempt with a bounded timeout; retries are left to the daily
// sweep, which re-derives desired license state from local rows.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a license API client from config. A client is returned
// even when the integration is unconfigured; calls then fail with a
// dependency error the caller is expected to skip on.
func NewClient(cfg config.LicenseAPIConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether the client has enough configuration to reach the
// license server.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

// CreateLicense mints a license and returns its serial key.
func (c *Client) CreateLicense(ctx context.Context, req CreateLicenseRequest) (string, error) {
	if req.Email == "" || req.PluginSlug == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email and plugin slug are required")
	}
	var resp CreateLicenseResponse
	if err := c.post(ctx, createLicensePath, req, &resp); err != nil {
		return "", err
	}
	if resp.SerialKey == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "license server returned no serial key")
	}
	return resp.SerialKey, nil
}

// UpdateLicense applies a status change and/or expiry extension.
func (c *Client) UpdateLicense(ctx context.Context, req UpdateLicenseRequest) error {
	if req.LicenseKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "license key is required")
	}
	return c.post(ctx, updateLicensePath, req, nil)
}

// Addon performs an addon action (trial setup, activation, cancellation).
func (c *Client) Addon(ctx context.Context, req AddonRequest) error {
	if req.LicenseKey == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "license key is required")
	}
	if !req.AddonType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid addon type %q", req.AddonType))
	}
	return c.post(ctx, addonPath, req, nil)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	if !c.Enabled() {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, errNotConfigured, "license api call skipped")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding license api request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building license api request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "license api request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading license api response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("license api %s returned %d: %s", path, resp.StatusCode, truncate(raw, 256)))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding license api response")
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
