package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage/postgres"
)

// TestAuthIntegration exercises login, me and logout against a live database.
func TestAuthIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION") != "true" {
		t.Skip("set RUN_DB_INTEGRATION=true to run this integration test")
	}

	loadDotEnv()
	dbURL := mustGetEnv(t, "DATABASE_URL")

	ctx := context.Background()
	store, err := postgres.NewStore(ctx, dbURL)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	defer store.Close()

	tokens := auth.NewTokenManager(mustGetEnv(t, "JWT_SECRET"), "payvault-integration", mustGetTTL(t))
	gates := middleware.NewAuthenticator(tokens, store, nil)

	r := chi.NewRouter()
	NewAuthHandler(store, tokens, nil, nil, AuthOptions{}).Register(r, gates)
	ts := httptest.NewServer(r)
	defer ts.Close()

	email := fmt.Sprintf("apitest_%d@example.com", time.Now().UnixNano())
	password := fmt.Sprintf("Pass!%d", time.Now().UnixNano())
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := store.CreateUser(ctx, models.User{Email: email, PasswordHash: hash, Role: models.RoleAdmin, IsActive: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	defer func() { _ = store.DeleteUser(ctx, user.ID) }()

	loggedIn := requestLogin(t, ts.URL, email, password)
	if loggedIn.User.ID != user.ID {
		t.Fatalf("login returned wrong user id: want %s got %s", user.ID, loggedIn.User.ID)
	}
	if strings.TrimSpace(loggedIn.Token) == "" {
		t.Fatal("login response missing token")
	}

	if status := call(t, http.MethodGet, ts.URL+"/api/auth/me", loggedIn.Token); status != http.StatusOK {
		t.Fatalf("me status = %d", status)
	}
	if status := call(t, http.MethodPost, ts.URL+"/api/auth/logout", loggedIn.Token); status != http.StatusOK {
		t.Fatalf("logout status = %d", status)
	}
	if status := call(t, http.MethodGet, ts.URL+"/api/auth/me", loggedIn.Token); status != http.StatusUnauthorized {
		t.Fatalf("me after logout status = %d", status)
	}

	t.Logf("user %s logged in and out via /api/auth", email)
}

type loginResponseBody struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func requestLogin(t *testing.T, baseURL, email, password string) loginResponseBody {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		t.Fatalf("marshal login payload: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build login request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("login request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	var out loginResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return out
}

func call(t *testing.T, method, url, token string) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func mustGetEnv(t *testing.T, key string) string {
	t.Helper()
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		t.Fatalf("%s is required", key)
	}
	return val
}

func mustGetTTL(t *testing.T) time.Duration {
	t.Helper()
	hoursStr := os.Getenv("SESSION_TTL_HOURS")
	if hoursStr == "" {
		return time.Hour
	}
	hours, err := strconv.Atoi(hoursStr)
	if err != nil || hours <= 0 {
		t.Fatalf("invalid SESSION_TTL_HOURS value: %q", hoursStr)
	}
	return time.Duration(hours) * time.Hour
}

func loadDotEnv() {
	paths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	for _, path := range paths {
		_ = godotenv.Overload(path)
	}
}
