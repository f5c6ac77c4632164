package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/models"
)

func postCallback(f *fixture, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func assertAcked(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 0, body["ResultCode"])
	assert.Equal(t, "Accepted", body["ResultDesc"])
}

const successResult = `{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"The service request is processed successfully.",
"OriginatorConversationID":"OC_1","ConversationID":"AG_1","TransactionID":"QKX1",
"ResultParameters":{"ResultParameter":[
{"Key":"TransactionReceipt","Value":"QKX1"},
{"Key":"ReceiverPartyPublicName","Value":"254712345678 - Jane Doe"},
{"Key":"B2CWorkingAccountAvailableFunds","Value":9000.00},
{"Key":"B2CUtilityAccountAvailableFunds","Value":120.50},
{"Key":"B2CChargesPaidAccountAvailableFunds","Value":0}]}}}`

func TestResultCallback(t *testing.T) {
	f := newDisburseFixture(t)
	rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("cb-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	assertAcked(t, postCallback(f.fixture, "/api/mpesa-callback/result", successResult))

	var d models.Disbursement
	for _, row := range f.store.Disbursements {
		d = row
	}
	assert.Equal(t, models.StatusSuccess, d.Status)
	assert.Equal(t, "QKX1", d.TransactionReceipt)
	require.Len(t, f.store.Callbacks, 1)
	assert.Equal(t, "result", f.store.Callbacks[0].CallbackType)
	assert.Len(t, f.store.History, 1)
}

func TestCallbacksAlwaysAcknowledge(t *testing.T) {
	f := newFixture(t)

	assertAcked(t, postCallback(f, "/api/mpesa-callback/result", "not json"))
	assertAcked(t, postCallback(f, "/api/mpesa-callback/timeout", `{"Result":{"ConversationID":"AG_unknown","ResultCode":1}}`))
	assert.Len(t, f.store.Callbacks, 1)
}

func TestTimeoutCallback(t *testing.T) {
	f := newDisburseFixture(t)
	rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("to-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	assertAcked(t, postCallback(f.fixture, "/api/mpesa-callback/timeout", `{"Result":{"ConversationID":"AG_1","ResultCode":1,"ResultDesc":"timeout"}}`))
	for _, d := range f.store.Disbursements {
		assert.Equal(t, models.StatusFailed, d.Status)
		assert.Equal(t, "TIMEOUT", d.ResultCode)
	}
}

func TestBalanceResultCallback(t *testing.T) {
	f := newFixture(t)
	p := f.partner(t, "acme")
	require.NoError(t, f.store.CreateBalanceRequest(context.Background(), models.BalanceRequest{
		PartnerID: p.ID, ConversationID: "AG_bal", OriginatorConversationID: "OC_bal", Status: models.BalanceRequestPending,
	}))

	body := `{"Result":{"ResultType":0,"ResultCode":0,"ResultDesc":"ok","ConversationID":"AG_bal","OriginatorConversationID":"OC_bal",
"ResultParameters":{"ResultParameter":[{"Key":"AccountBalance","Value":"Working Account|KES|5000.00|5000.00|0.00|0.00&Utility Account|KES|250.00|250.00|0.00|0.00&Charges Paid Account|KES|-10.00|-10.00|0.00|0.00"}]}}}`
	assertAcked(t, postCallback(f, "/api/mpesa-callback/balance-result", body))

	req, err := f.store.LatestCompletedBalance(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BalanceRequestCompleted, req.Status)
	assert.Equal(t, "5000", req.Balances.Working.Decimal.String())
	assert.WithinDuration(t, time.Now(), *req.CallbackReceivedAt, time.Minute)
}

func TestBalanceResultFallsBackToDisbursement(t *testing.T) {
	f := newDisburseFixture(t)
	rec := f.do(t, http.MethodPost, "/api/partner/disburse", f.token, f.body("fb-1"))
	require.Equal(t, http.StatusOK, rec.Code)

	assertAcked(t, postCallback(f.fixture, "/api/mpesa-callback/balance-result", successResult))
	for _, d := range f.store.Disbursements {
		assert.Equal(t, models.StatusSuccess, d.Status)
	}
}
