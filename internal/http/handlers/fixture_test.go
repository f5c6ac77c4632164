package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/balance"
	"github.com/hongminglow/payvault-be/internal/disbursement"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/mifos"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/notify"
	"github.com/hongminglow/payvault-be/internal/storage/storagetest"
	"github.com/hongminglow/payvault-be/internal/vault"
)

const testCronSecret = "cron-secret"

type captureMailer struct {
	mu   sync.Mutex
	sent []notify.Email
}

func (m *captureMailer) Send(_ context.Context, msg notify.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

type stubDispatcher struct {
	result disbursement.DispatchResult
	err    error
	calls  int
}

func (d *stubDispatcher) Dispatch(context.Context, disbursement.DispatchRequest) (disbursement.DispatchResult, error) {
	d.calls++
	return d.result, d.err
}

type noFetch struct{}

func (noFetch) Fetch(context.Context, models.Partner) (models.Balances, error) {
	return models.Balances{}, nil
}

type noSlack struct{}

func (noSlack) Post(context.Context, string, string, string) error { return nil }

type stubTester struct {
	got mifos.Config
}

func (s *stubTester) TestConnection(_ context.Context, cfg mifos.Config) mifos.Result {
	s.got = cfg
	if cfg.Password != "fineract" {
		return mifos.Result{Error: "authentication failed"}
	}
	return mifos.Result{Success: true, Message: "Mifos X connection successful", LoanProductsCount: 3, AuthMethod: "authentication"}
}

type fixture struct {
	store      *storagetest.Memory
	tokens     *auth.TokenManager
	vault      *vault.Vault
	mailer     *captureMailer
	dispatcher *stubDispatcher
	mifos      *stubTester
	router     chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v, err := vault.New("test-passphrase")
	require.NoError(t, err)

	f := &fixture{
		store:      storagetest.NewMemory(),
		tokens:     auth.NewTokenManager("secret", "payvault", time.Hour),
		vault:      v,
		mailer:     &captureMailer{},
		dispatcher: &stubDispatcher{result: disbursement.DispatchResult{Accepted: true, ConversationID: "AG_1"}},
		mifos:      &stubTester{},
	}
	gates := middleware.NewAuthenticator(f.tokens, f.store, nil)
	service := disbursement.NewService(f.store, f.dispatcher, time.Second)
	monitor := balance.NewMonitor(f.store, noFetch{}, noSlack{}, nil, balance.Options{})

	r := chi.NewRouter()
	NewHealthHandler(time.Now(), nil).Register(r)
	NewAuthHandler(f.store, f.tokens, nil, f.mailer, AuthOptions{AppURL: "https://vault.example.com"}).Register(r, gates)
	NewUserHandler(f.store, nil).Register(r, gates)
	NewPartnerHandler(f.store, v).Register(r, gates)
	NewShortcodeHandler(f.store, v).Register(r, gates)
	NewShortcodeAccessHandler(f.store).Register(r, gates)
	NewDisbursementHandler(service).Register(r, gates)
	NewCallbackHandler(service, monitor).Register(r)
	NewBalanceHandler(monitor, f.store, testCronSecret).Register(r, gates)
	NewIntegrationHandler(f.store, v, f.mifos).Register(r, gates)
	NewDashboardHandler(f.store).Register(r, gates)
	f.router = r
	return f
}

func (f *fixture) user(t *testing.T, u models.User, password string) models.User {
	t.Helper()
	if password != "" {
		hash, err := auth.HashPassword(password)
		require.NoError(t, err)
		u.PasswordHash = hash
	}
	created, err := f.store.CreateUser(context.Background(), u)
	require.NoError(t, err)
	return created
}

// session logs u in directly against the store and returns a bearer token.
func (f *fixture) session(t *testing.T, u models.User) (string, uuid.UUID) {
	t.Helper()
	s, err := f.store.CreateSession(context.Background(), models.Session{UserID: u.ID, ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	token, _, err := f.tokens.Generate(u, s.ID)
	require.NoError(t, err)
	return token, s.ID
}

func (f *fixture) admin(t *testing.T) (models.User, string) {
	t.Helper()
	u := f.user(t, models.User{Email: "admin@example.com", Role: models.RoleAdmin, IsActive: true}, "")
	token, _ := f.session(t, u)
	return u, token
}

func (f *fixture) partner(t *testing.T, name string) models.Partner {
	t.Helper()
	p, err := f.store.CreatePartner(context.Background(), models.Partner{Name: name, ShortCode: name, IsActive: true})
	require.NoError(t, err)
	return p
}

func (f *fixture) partnerUser(t *testing.T, p models.Partner) (models.User, string) {
	t.Helper()
	u := f.user(t, models.User{Email: p.ShortCode + "@example.com", Role: models.RolePartner, PartnerID: &p.ID, IsActive: true}, "")
	token, _ := f.session(t, u)
	return u, token
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
