package disbursement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/mpesa"
	"github.com/hongminglow/payvault-be/internal/vault"
)

// DispatchRequest is handed to a Dispatcher once a row is queued.
type DispatchRequest struct {
	Disbursement models.Disbursement
	Shortcode    models.PartnerShortcode
}

// DispatchResult is the synchronous answer from the B2C backend.
type DispatchResult struct {
	Accepted                 bool
	ConversationID           string
	OriginatorConversationID string
	ErrorCode                string
	ErrorMessage             string
}

// Dispatcher sends a queued disbursement to M-Pesa. A non-nil error means the
// backend could not be reached; a rejection is reported in DispatchResult.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// RemoteDispatcher forwards requests to an external B2C function over HTTP.
type RemoteDispatcher struct {
	url    string
	key    string
	client *http.Client
}

// NewRemoteDispatcher targets url, authenticating with a bearer key.
func NewRemoteDispatcher(url, key string, timeout time.Duration) *RemoteDispatcher {
	return &RemoteDispatcher{url: url, key: key, client: &http.Client{Timeout: timeout}}
}

type remotePayload struct {
	Amount          float64   `json:"amount"`
	MSISDN          string    `json:"msisdn"`
	TenantID        string    `json:"tenant_id"`
	CustomerID      string    `json:"customer_id"`
	ClientRequestID string    `json:"client_request_id"`
	PartnerID       uuid.UUID `json:"partner_id"`
	ShortcodeID     uuid.UUID `json:"shortcode_id"`
}

type remoteReply struct {
	Status                   string `json:"status"`
	ConversationID           string `json:"conversation_id"`
	OriginatorConversationID string `json:"originator_conversation_id"`
	ErrorCode                string `json:"error_code"`
	ErrorMessage             string `json:"error_message"`
}

func (d *RemoteDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	row := req.Disbursement
	body, err := json.Marshal(remotePayload{
		Amount:          row.Amount.InexactFloat64(),
		MSISDN:          row.MSISDN,
		TenantID:        row.TenantID,
		CustomerID:      row.CustomerID,
		ClientRequestID: row.ClientRequestID,
		PartnerID:       row.PartnerID,
		ShortcodeID:     req.Shortcode.ID,
	})
	if err != nil {
		return DispatchResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return DispatchResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.key)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("remote dispatch: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return DispatchResult{}, fmt.Errorf("remote dispatch: %w", err)
	}
	var reply remoteReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		if resp.StatusCode >= 500 {
			return DispatchResult{}, fmt.Errorf("remote dispatch: status %d", resp.StatusCode)
		}
		return DispatchResult{}, fmt.Errorf("remote dispatch: decode reply: %w", err)
	}

	if reply.Status == models.StatusAccepted {
		return DispatchResult{
			Accepted:                 true,
			ConversationID:           reply.ConversationID,
			OriginatorConversationID: reply.OriginatorConversationID,
		}, nil
	}
	msg := reply.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("Request rejected (status %d)", resp.StatusCode)
	}
	return DispatchResult{ErrorCode: reply.ErrorCode, ErrorMessage: msg}, nil
}

// PartnerGetter loads the partner whose credentials back a shortcode.
type PartnerGetter interface {
	GetPartner(ctx context.Context, id uuid.UUID) (models.Partner, error)
}

// MpesaDispatcher calls Daraja directly with credentials from the vault.
type MpesaDispatcher struct {
	client     *mpesa.Client
	vault      *vault.Vault
	partners   PartnerGetter
	resultURL  string
	timeoutURL string
}

// NewMpesaDispatcher wires a Daraja dispatcher. resultURL and timeoutURL are
// the public callback endpoints of this service.
func NewMpesaDispatcher(client *mpesa.Client, v *vault.Vault, partners PartnerGetter, resultURL, timeoutURL string) *MpesaDispatcher {
	return &MpesaDispatcher{client: client, vault: v, partners: partners, resultURL: resultURL, timeoutURL: timeoutURL}
}

func (d *MpesaDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	creds, err := d.credentials(ctx, req.Shortcode)
	if err != nil {
		return DispatchResult{ErrorCode: "CONFIG", ErrorMessage: err.Error()}, nil
	}

	row := req.Disbursement
	resp, err := d.client.B2CPayment(ctx, creds, mpesa.B2CRequest{
		DisbursementID: row.ID.String(),
		MSISDN:         row.MSISDN,
		Amount:         row.Amount,
		ResultURL:      d.resultURL,
		TimeoutURL:     d.timeoutURL,
	})
	var apiErr *mpesa.APIError
	switch {
	case errors.As(err, &apiErr):
		return DispatchResult{ErrorCode: apiErr.Code, ErrorMessage: apiErr.Body}, nil
	case err != nil:
		return DispatchResult{}, err
	case !resp.Accepted():
		return DispatchResult{ErrorCode: resp.ResponseCode, ErrorMessage: resp.ResponseDescription}, nil
	}
	return DispatchResult{
		Accepted:                 true,
		ConversationID:           resp.ConversationID,
		OriginatorConversationID: resp.OriginatorConversationID,
	}, nil
}

// credentials prefers the shortcode's own vault entry and falls back to the
// partner's primary credentials.
func (d *MpesaDispatcher) credentials(ctx context.Context, sc models.PartnerShortcode) (models.MpesaCredentials, error) {
	var creds models.MpesaCredentials
	if sc.EncryptedCredentials != "" {
		if err := d.vault.Decrypt(sc.EncryptedCredentials, &creds); err != nil {
			return creds, fmt.Errorf("decrypt shortcode credentials: %w", err)
		}
	} else {
		partner, err := d.partners.GetPartner(ctx, sc.PartnerID)
		if err != nil {
			return creds, fmt.Errorf("load partner: %w", err)
		}
		if partner.EncryptedCredentials == "" {
			return creds, errors.New("M-Pesa credentials missing")
		}
		if err := d.vault.Decrypt(partner.EncryptedCredentials, &creds); err != nil {
			return creds, fmt.Errorf("decrypt partner credentials: %w", err)
		}
	}
	if creds.Shortcode == "" {
		creds.Shortcode = sc.Shortcode
	}
	if creds.Environment == "" {
		creds.Environment = sc.Environment
	}
	if creds.InitiatorName == "" {
		creds.InitiatorName = sc.InitiatorName
	}
	if !creds.Complete() {
		return creds, errors.New("M-Pesa credentials incomplete")
	}
	return creds, nil
}
