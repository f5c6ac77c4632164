// Package mifos checks connectivity to a partner's Mifos X / Fineract server.
package mifos

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiPrefix = "/fineract-provider/api/v1"

// Config identifies one tenant on a Fineract host.
type Config struct {
	HostURL  string
	Username string
	Password string
	TenantID string
}

// Result is the outcome of TestConnection.
type Result struct {
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
	LoanProductsCount int    `json:"loan_products_count"`
	AuthMethod        string `json:"auth_method,omitempty"`
}

// Client talks to Fineract.
type Client struct {
	http *http.Client
}

// NewClient returns a client with a per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

// TestConnection authenticates and lists loan products. When the
// authentication endpoint is unavailable it retries loan products with
// plain Basic auth before giving up.
func (c *Client) TestConnection(ctx context.Context, cfg Config) Result {
	base := strings.TrimRight(cfg.HostURL, "/") + apiPrefix
	basic := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))

	key, authErr := c.authenticate(ctx, base, cfg)
	if authErr != nil {
		count, err := c.loanProducts(ctx, base, cfg.TenantID, basic)
		if err != nil {
			return Result{Error: fmt.Sprintf("authentication failed (%v) and loan products failed (%v)", authErr, err)}
		}
		return Result{Success: true, Message: "Mifos X reachable with Basic auth", LoanProductsCount: count, AuthMethod: "basic"}
	}

	count, err := c.loanProducts(ctx, base, cfg.TenantID, key)
	if err != nil {
		return Result{Error: fmt.Sprintf("loan products request failed: %v", err)}
	}
	return Result{Success: true, Message: "Mifos X connection successful", LoanProductsCount: count, AuthMethod: "authentication"}
}

func (c *Client) authenticate(ctx context.Context, base string, cfg Config) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": cfg.Username, "password": cfg.Password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/authentication", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	setHeaders(req, cfg.TenantID)

	var out struct {
		Authenticated bool   `json:"authenticated"`
		Key           string `json:"base64EncodedAuthenticationKey"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Key == "" {
		return "", fmt.Errorf("no authentication key returned")
	}
	return out.Key, nil
}

func (c *Client) loanProducts(ctx context.Context, base, tenant, basic string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/loanproducts", nil)
	if err != nil {
		return 0, err
	}
	setHeaders(req, tenant)
	req.Header.Set("Authorization", "Basic "+basic)

	var products []json.RawMessage
	if err := c.do(req, &products); err != nil {
		return 0, err
	}
	return len(products), nil
}

func setHeaders(req *http.Request, tenant string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Fineract-Platform-TenantId", tenant)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	return json.Unmarshal(raw, out)
}
