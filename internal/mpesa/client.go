// Package mpesa is a small client for the Safaricom Daraja API.
package mpesa

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

	"github.com/shopspring/decimal"

	"github.com/hongminglow/payvault-be/internal/models"
)

const (
	ProductionURL = "https://api.safaricom.co.ke"
	SandboxURL    = "https://sandbox.safaricom.co.ke"

	commandBusinessPayment = "BusinessPayment"
	commandAccountBalance  = "AccountBalance"
	defaultInitiator       = "testapi"
)

// APIError is a non-2xx response from Daraja.
type APIError struct {
	Status int
	Code   string
	Body   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mpesa: status %d: %s: %s", e.Status, e.Code, e.Body)
	}
	return fmt.Sprintf("mpesa: status %d: %s", e.Status, e.Body)
}

// BaseURL returns the Daraja host for an environment name.
func BaseURL(environment string) string {
	if environment == models.EnvProduction {
		return ProductionURL
	}
	return SandboxURL
}

// Client calls Daraja. BaseURLOverride replaces the environment host when set.
type Client struct {
	http            *http.Client
	BaseURLOverride string
}

// NewClient returns a client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{http: &http.Client{Timeout: timeout}}
}

func (c *Client) baseURL(creds models.MpesaCredentials) string {
	if c.BaseURLOverride != "" {
		return strings.TrimRight(c.BaseURLOverride, "/")
	}
	return BaseURL(creds.Environment)
}

// AccessToken exchanges the consumer key and secret for a bearer token.
func (c *Client) AccessToken(ctx context.Context, creds models.MpesaCredentials) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL(creds)+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("mpesa token: %w", err)
	}
	if out.AccessToken == "" {
		return "", errors.New("mpesa token: empty access token")
	}
	return out.AccessToken, nil
}

// B2CRequest describes one payout.
type B2CRequest struct {
	DisbursementID string
	MSISDN         string
	Amount         decimal.Decimal
	ResultURL      string
	TimeoutURL     string
}

// B2CResponse is Daraja's synchronous acknowledgement.
type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// Accepted reports whether Daraja queued the request.
func (r B2CResponse) Accepted() bool {
	return r.ResponseCode == "0"
}

// B2CPayment submits a BusinessPayment B2C request.
func (c *Client) B2CPayment(ctx context.Context, creds models.MpesaCredentials, in B2CRequest) (B2CResponse, error) {
	token, err := c.AccessToken(ctx, creds)
	if err != nil {
		return B2CResponse{}, err
	}
	payload := map[string]any{
		"InitiatorName":      initiator(creds),
		"SecurityCredential": creds.SecurityCredential,
		"CommandID":          commandBusinessPayment,
		"Amount":             in.Amount.StringFixed(0),
		"PartyA":             creds.Shortcode,
		"PartyB":             in.MSISDN,
		"Remarks":            "Disbursement " + in.DisbursementID,
		"QueueTimeOutURL":    in.TimeoutURL,
		"ResultURL":          in.ResultURL,
		"Occasion":           in.DisbursementID,
	}
	var out B2CResponse
	if err := c.post(ctx, c.baseURL(creds)+"/mpesa/b2c/v1/paymentrequest", token, payload, &out); err != nil {
		return B2CResponse{}, fmt.Errorf("mpesa b2c: %w", err)
	}
	return out, nil
}

// AccountBalance starts an asynchronous balance query; the figures arrive
// later on resultURL.
func (c *Client) AccountBalance(ctx context.Context, creds models.MpesaCredentials, resultURL, timeoutURL string) (B2CResponse, error) {
	token, err := c.AccessToken(ctx, creds)
	if err != nil {
		return B2CResponse{}, err
	}
	payload := map[string]any{
		"Initiator":          initiator(creds),
		"SecurityCredential": creds.SecurityCredential,
		"CommandID":          commandAccountBalance,
		"PartyA":             creds.Shortcode,
		"IdentifierType":     "4",
		"Remarks":            "Balance inquiry",
		"QueueTimeOutURL":    timeoutURL,
		"ResultURL":          resultURL,
	}
	var out B2CResponse
	if err := c.post(ctx, c.baseURL(creds)+"/mpesa/accountbalance/v1/query", token, payload, &out); err != nil {
		return B2CResponse{}, fmt.Errorf("mpesa balance: %w", err)
	}
	return out, nil
}

func initiator(creds models.MpesaCredentials) string {
	if creds.InitiatorName != "" {
		return creds.InitiatorName
	}
	return defaultInitiator
}

func (c *Client) post(ctx context.Context, url, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
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
		var fault struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		_ = json.Unmarshal(raw, &fault)
		msg := strings.TrimSpace(string(raw))
		if fault.ErrorMessage != "" {
			msg = fault.ErrorMessage
		}
		return &APIError{Status: resp.StatusCode, Code: fault.ErrorCode, Body: msg}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
