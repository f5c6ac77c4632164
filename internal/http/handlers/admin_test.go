package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/models"
)

func TestUserAdmin(t *testing.T) {
	f := newFixture(t)
	admin, token := f.admin(t)
	p := f.partner(t, "acme")

	t.Run("partner role needs partner", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/users", token, map[string]any{
			"email": "ops@acme.test", "password": "long enough", "role": models.RolePartner,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPost, "/api/users", token, map[string]any{
			"email": "ops@acme.test", "password": "long enough", "role": models.RolePartner, "partner_id": uuid.NewString(),
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	var created map[string]any
	t.Run("create", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/users", token, map[string]any{
			"email": "ops@acme.test", "password": "long enough", "role": models.RolePartner, "partner_id": p.ID.String(),
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		created = decodeBody(t, rec)["user"].(map[string]any)
		assert.Equal(t, p.ID.String(), created["partner_id"])

		rec = f.do(t, http.MethodPost, "/api/users", token, map[string]any{
			"email": "OPS@acme.test", "password": "long enough", "role": models.RoleAdmin,
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("deactivate revokes sessions", func(t *testing.T) {
		id := uuid.MustParse(created["id"].(string))
		u, err := f.store.GetUser(context.Background(), id)
		require.NoError(t, err)
		userToken, _ := f.session(t, u)
		require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/auth/me", userToken, nil).Code)

		rec := f.do(t, http.MethodPut, "/api/users/"+id.String(), token, map[string]any{"is_active": false})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, false, decodeBody(t, rec)["user"].(map[string]any)["is_active"])

		for _, s := range f.store.Sessions {
			assert.NotEqual(t, id, s.UserID)
		}
		assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/auth/me", userToken, nil).Code)
	})

	t.Run("password change", func(t *testing.T) {
		id := created["id"].(string)
		rec := f.do(t, http.MethodPut, "/api/users/"+id, token, map[string]any{"password": "short"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodPut, "/api/users/"+id, token, map[string]any{"password": "a new password"})
		require.Equal(t, http.StatusOK, rec.Code)
		u, err := f.store.GetUser(context.Background(), uuid.MustParse(id))
		require.NoError(t, err)
		assert.True(t, auth.CheckPassword(u.PasswordHash, "a new password"))
	})

	t.Run("list", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/users?role=partner", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody(t, rec)["users"], 1)
	})

	t.Run("cannot delete or demote self", func(t *testing.T) {
		rec := f.do(t, http.MethodDelete, "/api/users/"+admin.ID.String(), token, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		rec = f.do(t, http.MethodPut, "/api/users/"+admin.ID.String(), token, map[string]any{"is_active": false})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		id := created["id"].(string)
		require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/users/"+id, token, nil).Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/users/"+id, token, nil).Code)
	})

	t.Run("partners are refused", func(t *testing.T) {
		_, partnerToken := f.partnerUser(t, p)
		assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/users", partnerToken, nil).Code)
	})
}

func TestPermissions(t *testing.T) {
	f := newFixture(t)
	_, token := f.admin(t)
	u := f.user(t, models.User{Email: "viewer@example.com", Role: models.RoleAdmin, IsActive: true}, "")
	path := "/api/users/" + u.ID.String() + "/permissions"

	grant := map[string]any{"permission": "view_disbursements", "resource_type": "partner", "resource_id": "acme"}
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, path, token, grant).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, path, token, grant).Code)

	rec := f.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["permissions"], 1)

	rec = f.do(t, http.MethodDelete, path+"?permission=view_disbursements&resource_type=partner&resource_id=acme", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, f.store.Permissions)

	rec = f.do(t, http.MethodDelete, path+"?permission=view_disbursements&resource_type=partner&resource_id=acme", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPartnerAdmin(t *testing.T) {
	f := newFixture(t)
	_, token := f.admin(t)

	rec := f.do(t, http.MethodPost, "/api/partners", token, map[string]any{
		"name":                 "Acme Sacco",
		"short_code":           "ACME",
		"mpesa_shortcode":      "600100",
		"mpesa_environment":    "sandbox",
		"mpesa_initiator_name": "apiop",
		"consumer_key":         "ck",
		"consumer_secret":      "cs",
		"security_credential":  "sec",
		"mifos_host_url":       "https://mifos.example.com",
		"mifos_username":       "mifos",
		"mifos_password":       "fineract",
		"mifos_tenant_id":      "default",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	key := body["api_key"].(string)
	partner := body["partner"].(map[string]any)
	assert.Equal(t, true, partner["is_mpesa_configured"])
	assert.Equal(t, true, partner["is_mifos_configured"])
	assert.NotContains(t, rec.Body.String(), "fineract")

	id := uuid.MustParse(partner["id"].(string))
	stored, err := f.store.GetPartner(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, auth.HashAPIKey(key), stored.APIKeyHash)

	var creds models.MpesaCredentials
	require.NoError(t, f.vault.Decrypt(stored.EncryptedCredentials, &creds))
	assert.Equal(t, "ck", creds.ConsumerKey)
	assert.Equal(t, "600100", creds.Shortcode)
	assert.Equal(t, "apiop", creds.InitiatorName)

	t.Run("duplicate short code", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/partners", token, map[string]any{"name": "Other", "short_code": "ACME"})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("update keeps secrets not resent", func(t *testing.T) {
		rec := f.do(t, http.MethodPut, "/api/partners/"+id.String(), token, map[string]any{
			"contact_email":   "ops@acme.test",
			"consumer_secret": "cs2",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		stored, err := f.store.GetPartner(context.Background(), id)
		require.NoError(t, err)
		var creds models.MpesaCredentials
		require.NoError(t, f.vault.Decrypt(stored.EncryptedCredentials, &creds))
		assert.Equal(t, "ck", creds.ConsumerKey)
		assert.Equal(t, "cs2", creds.ConsumerSecret)
		assert.Equal(t, "ops@acme.test", stored.ContactEmail)
	})

	t.Run("rotate api key", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/partners/"+id.String()+"/api-key", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		newKey := decodeBody(t, rec)["api_key"].(string)
		assert.NotEqual(t, key, newKey)

		_, err := f.store.FindPartnerByAPIKeyHash(context.Background(), auth.HashAPIKey(key))
		assert.Error(t, err)
		_, err = f.store.FindPartnerByAPIKeyHash(context.Background(), auth.HashAPIKey(newKey))
		assert.NoError(t, err)
	})

	t.Run("list and delete", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/partners", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody(t, rec)["partners"], 1)

		require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/partners/"+id.String(), token, nil).Code)
		assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/partners/"+id.String(), token, nil).Code)
	})
}

func TestShortcodes(t *testing.T) {
	f := newFixture(t)
	_, adminToken := f.admin(t)
	acme := f.partner(t, "acme")
	other := f.partner(t, "other")
	_, acmeToken := f.partnerUser(t, acme)
	_, otherToken := f.partnerUser(t, other)

	body := map[string]any{
		"shortcode":           "600100",
		"shortcode_name":      "Main",
		"consumer_key":        "ck",
		"consumer_secret":     "cs",
		"security_credential": "sec",
	}
	rec := f.do(t, http.MethodPost, "/api/partner/shortcodes", acmeToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sc := decodeBody(t, rec)["shortcode"].(map[string]any)
	assert.Equal(t, true, sc["is_mpesa_configured"])
	assert.Equal(t, "sandbox", sc["environment"])
	path := "/api/partner/shortcodes/" + sc["id"].(string)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/partner/shortcodes", acmeToken, body).Code)
	assert.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/partner/shortcodes", otherToken, body).Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, otherToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, path, otherToken, nil).Code)

	rec = f.do(t, http.MethodPut, path, acmeToken, map[string]any{"shortcode": "600200", "is_active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody(t, rec)["shortcode"].(map[string]any)
	assert.Equal(t, "600200", updated["shortcode"])
	assert.Equal(t, false, updated["is_active"])
	assert.Equal(t, true, updated["is_mpesa_configured"])

	rec = f.do(t, http.MethodGet, "/api/partner/shortcodes", acmeToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["shortcodes"], 1)

	rec = f.do(t, http.MethodGet, "/api/admin/shortcodes", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["shortcodes"], 2)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/admin/shortcodes", acmeToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/partner/shortcodes", adminToken, nil).Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, path, acmeToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, acmeToken, nil).Code)
}
