package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/disbursement"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
)

type disburseFixture struct {
	*fixture
	acme      models.Partner
	shortcode models.PartnerShortcode
	apiKey    string
	token     string
}

func newDisburseFixture(t *testing.T) *disburseFixture {
	f := newFixture(t)
	key, hash, prefix, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	p, err := f.store.CreatePartner(context.Background(), models.Partner{
		Name: "Acme", ShortCode: "ACME", IsActive: true, APIKeyHash: hash, APIKeyPrefix: prefix,
	})
	require.NoError(t, err)
	sc, err := f.store.CreateShortcode(context.Background(), models.PartnerShortcode{
		PartnerID: p.ID, Shortcode: "600100", IsActive: true, IsMpesaConfigured: true,
	})
	require.NoError(t, err)
	_, token := f.partnerUser(t, p)
	return &disburseFixture{fixture: f, acme: p, shortcode: sc, apiKey: key, token: token}
}

func (f *disburseFixture) body(clientRequestID string) map[string]any {
	return map[string]any{
		"amount":            250,
		"msisdn":            "254712345678",
		"tenant_id":         "t-1",
		"customer_id":       "c-1",
		"client_request_id": clientRequestID,
		"shortcode_id":      f.shortcode.ID.String(),
	}
}

func TestDisburseWithAPIKey(t *testing.T) {
	f := newDisburseFixture(t)

	send := func(key string, body map[string]any) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/disburse", jsonBody(t, body))
		if key != "" {
			req.Header.Set(middleware.APIKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, send("", f.body("r-1")).Code)
	assert.Equal(t, http.StatusUnauthorized, send("pv_wrong", f.body("r-1")).Code)

	rec := send(f.apiKey, f.body("r-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "AG_1", body["conversation_id"])
	assert.Equal(t, models.StatusAccepted, body["status"])
	assert.Equal(t, disbursement.MsgAccepted, body["message"])

	id := uuid.MustParse(body["disbursement_id"].(string))
	stored := f.store.Disbursements[id]
	assert.Equal(t, models.OriginAPI, stored.Origin)
	assert.True(t, decimal.NewFromInt(250).Equal(stored.Amount))

	rec = send(f.apiKey, f.body("r-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	dup := decodeBody(t, rec)
	assert.Equal(t, disbursement.MsgDuplicate, dup["message"])
	assert.Equal(t, id.String(), dup["disbursement_id"])
	assert.Equal(t, 1, f.dispatcher.calls)
}

func TestPartnerDisburseOutcomes(t *testing.T) {
	f := newDisburseFixture(t)

	t.Run("ui origin", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("ui-1"))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		id := uuid.MustParse(decodeBody(t, rec)["disbursement_id"].(string))
		assert.Equal(t, models.OriginUI, f.store.Disbursements[id].Origin)
	})

	t.Run("validation", func(t *testing.T) {
		body := f.body("v-1")
		body["msisdn"] = "0712345678"
		rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid MSISDN format. Use format: 254XXXXXXXXX", decodeBody(t, rec)["error"])

		body = f.body("v-2")
		delete(body, "tenant_id")
		rec = f.do(t, http.MethodPost, "/api/partner/disburse", f.token, body)
		assert.Equal(t, "Missing required fields", decodeBody(t, rec)["error"])

		body = f.body("v-3")
		body["amount"] = 100.5
		rec = f.do(t, http.MethodPost, "/api/partner/disburse", f.token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Amount must be a whole number of KES", decodeBody(t, rec)["error"])
		for _, d := range f.store.Disbursements {
			assert.NotEqual(t, "v-3", d.ClientRequestID)
		}
	})

	t.Run("foreign shortcode", func(t *testing.T) {
		body := f.body("s-1")
		body["shortcode_id"] = uuid.NewString()
		rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejected", func(t *testing.T) {
		f.dispatcher.result = disbursement.DispatchResult{ErrorCode: "2001", ErrorMessage: "The initiator information is invalid."}
		rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("x-1"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "2001", body["error_code"])
	})

	t.Run("unavailable", func(t *testing.T) {
		f.dispatcher.err = errors.New("connection refused")
		rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("x-2"))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, disbursement.MsgServiceUnavailable, decodeBody(t, rec)["error"])
	})
}

func TestDisbursementListing(t *testing.T) {
	f := newDisburseFixture(t)
	_, adminToken := f.admin(t)
	other := f.partner(t, "other")
	_, otherToken := f.partnerUser(t, other)

	rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("l-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody(t, rec)["disbursement_id"].(string)

	rec = f.do(t, http.MethodGet, "/api/partner/disbursements", f.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["disbursements"], 1)

	rec = f.do(t, http.MethodGet, "/api/partner/disbursements", otherToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["disbursements"], 0)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/partner/disbursements/"+id, f.token, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/partner/disbursements/"+id, otherToken, nil).Code)

	rec = f.do(t, http.MethodGet, "/api/disbursements?status=accepted&partner_id="+f.acme.ID.String(), adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["disbursements"], 1)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/disbursements", f.token, nil).Code)
}

func TestRetryDisbursement(t *testing.T) {
	f := newDisburseFixture(t)
	_, adminToken := f.admin(t)

	f.dispatcher.result = disbursement.DispatchResult{ErrorCode: "2001", ErrorMessage: "The initiator information is invalid."}
	rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("retry-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	id := decodeBody(t, rec)["disbursement_id"].(string)

	retry := map[string]any{"disbursement_id": id}
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/disburse/retry", f.token, retry).Code)

	f.dispatcher.result = disbursement.DispatchResult{Accepted: true, ConversationID: "AG_R"}
	rec = f.do(t, http.MethodPost, "/api/disburse/retry", adminToken, retry)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "AG_R", body["conversation_id"])
	stored := f.store.Disbursements[uuid.MustParse(id)]
	assert.Equal(t, models.StatusAccepted, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)

	rec = f.do(t, http.MethodPost, "/api/disburse/retry", adminToken, retry)
	assert.Equal(t, http.StatusConflict, rec.Code)

	stored.Status = models.StatusSuccess
	f.store.Disbursements[stored.ID] = stored
	rec = f.do(t, http.MethodPost, "/api/disburse/retry", adminToken, map[string]any{"disbursement_id": id, "force_retry": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Disbursement already successful", decodeBody(t, rec)["error"])

	stored.Status = models.StatusFailed
	stored.RetryCount = stored.MaxRetries
	f.store.Disbursements[stored.ID] = stored
	rec = f.do(t, http.MethodPost, "/api/disburse/retry", adminToken, retry)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Maximum retry attempts exceeded", decodeBody(t, rec)["error"])

	rec = f.do(t, http.MethodPost, "/api/disburse/retry", adminToken, map[string]any{"disbursement_id": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryFailedDisbursementsBatch(t *testing.T) {
	f := newDisburseFixture(t)
	_, adminToken := f.admin(t)

	f.dispatcher.result = disbursement.DispatchResult{ErrorCode: "2001", ErrorMessage: "rejected"}
	for _, ref := range []string{"b-1", "b-2"} {
		require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body(ref)).Code)
	}

	f.dispatcher.result = disbursement.DispatchResult{Accepted: true, ConversationID: "AG_B"}
	rec := f.do(t, http.MethodPost, "/api/disburse/retry", adminToken, map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["processed"])
	assert.EqualValues(t, 2, body["success_count"])
	assert.EqualValues(t, 0, body["failure_count"])
	for _, d := range f.store.Disbursements {
		assert.Equal(t, models.StatusAccepted, d.Status)
	}
}

func TestDeletePartnerWithDisbursementHistory(t *testing.T) {
	f := newDisburseFixture(t)
	_, adminToken := f.admin(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("keep-1")).Code)

	rec := f.do(t, http.MethodDelete, "/api/partners/"+f.acme.ID.String(), adminToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Partner is still referenced by other records", decodeBody(t, rec)["message"])
	assert.Contains(t, f.store.Partners, f.acme.ID)

	empty := f.partner(t, "empty")
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/partners/"+empty.ID.String(), adminToken, nil).Code)
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}
