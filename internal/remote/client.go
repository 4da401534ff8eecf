// Package remote is the HTTP client for the POS backend, the system of
// record that assigns canonical identities to locally created shifts and
// till sessions.
//
// Every creation call carries the record's local id as clientId. The
// backend is expected to be idempotent on clientId: replaying a push for a
// record it already accepted (crash between push and the local synced mark)
// must return the same server identity instead of a duplicate. That
// contract belongs to the API, not to this client.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tillbook/tillbook/internal/report"
)

// Error reports a failed remote call: a transport fault or a non-2xx
// response. The reconciler swallows these; they never reach the operator.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("remote %s: unexpected status %d", e.Op, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Config holds client settings.
type Config struct {
	// BaseURL of the POS backend, without trailing slash.
	BaseURL string

	// Timeout bounds each request. Zero means 10 seconds.
	Timeout time.Duration

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client issues the /pos calls.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a backend client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: cfg.BaseURL, http: httpClient}
}

// ClockInRequest is the body of POST /pos/clock-in.
type ClockInRequest struct {
	BranchID string `json:"branchId"`
	BrandID  string `json:"brandId,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	ClientID string `json:"clientId"`
}

// ClockInResponse carries the server-assigned shift identity.
type ClockInResponse struct {
	ShiftID string `json:"shiftId"`
}

// ClockIn registers a shift and returns the server-assigned shift id.
func (c *Client) ClockIn(ctx context.Context, req ClockInRequest) (string, error) {
	var resp ClockInResponse
	if err := c.post(ctx, "clock-in", "/pos/clock-in", req, &resp); err != nil {
		return "", err
	}
	return resp.ShiftID, nil
}

// ClockOutRequest is the body of POST /pos/clock-out.
type ClockOutRequest struct {
	BranchID string `json:"branchId"`
	BrandID  string `json:"brandId,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
}

// ClockOut closes the device's shift server-side.
func (c *Client) ClockOut(ctx context.Context, req ClockOutRequest) error {
	return c.post(ctx, "clock-out", "/pos/clock-out", req, nil)
}

// TillOpenRequest is the body of POST /pos/till/open.
type TillOpenRequest struct {
	OpeningCash float64 `json:"openingCash"`
	BranchID    string  `json:"branchId"`
	BrandID     string  `json:"brandId,omitempty"`
	DeviceID    string  `json:"deviceId,omitempty"`
	ClientID    string  `json:"clientId"`
}

// TillOpenResponse carries the server-assigned till session identity.
type TillOpenResponse struct {
	TillID string `json:"tillId"`
}

// TillOpen registers a till session and returns the server-assigned id.
func (c *Client) TillOpen(ctx context.Context, req TillOpenRequest) (string, error) {
	var resp TillOpenResponse
	if err := c.post(ctx, "till-open", "/pos/till/open", req, &resp); err != nil {
		return "", err
	}
	return resp.TillID, nil
}

// TillCloseRequest is the body of POST /pos/till/close. Report is forwarded
// unchanged from the report collaborator when one was generated.
type TillCloseRequest struct {
	BranchID    string             `json:"branchId"`
	BrandID     string             `json:"brandId,omitempty"`
	DeviceID    string             `json:"deviceId,omitempty"`
	ClientID    string             `json:"clientId"`
	ClosingCash float64            `json:"closingCash"`
	Report      *report.TillReport `json:"report,omitempty"`
}

// TillClose closes a till session server-side.
func (c *Client) TillClose(ctx context.Context, req TillCloseRequest) error {
	return c.post(ctx, "till-close", "/pos/till/close", req, nil)
}

func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &Error{Op: op, Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
	}
	return nil
}
