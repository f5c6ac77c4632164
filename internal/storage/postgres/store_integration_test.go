package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

// TestStoreIntegration runs the store against a live database.
func TestStoreIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION") != "true" {
		t.Skip("set RUN_DB_INTEGRATION=true to run this integration test")
	}

	for _, path := range []string{".env", "../.env", "../../.env", "../../../.env"} {
		_ = godotenv.Overload(path)
	}
	dbURL := os.Getenv("DATABASE_URL")
	require.NotEmpty(t, dbURL, "DATABASE_URL is required")

	ctx := context.Background()
	store, err := NewStore(ctx, dbURL)
	require.NoError(t, err)
	defer store.Close()

	suffix := time.Now().UnixNano()
	partner, err := store.CreatePartner(ctx, models.Partner{
		Name:      "Integration Partner",
		ShortCode: fmt.Sprintf("IT%d", suffix),
		IsActive:  true,
	})
	require.NoError(t, err)
	defer func() { _ = store.DeletePartner(ctx, partner.ID) }()
	assert.Equal(t, models.EnvSandbox, partner.MpesaEnvironment)

	t.Run("users and sessions", func(t *testing.T) {
		user, err := store.CreateUser(ctx, models.User{
			Email:        fmt.Sprintf("It_%d@Example.com", suffix),
			PasswordHash: "hash",
			Role:         models.RolePartner,
			PartnerID:    &partner.ID,
			IsActive:     true,
		})
		require.NoError(t, err)
		defer func() { _ = store.DeleteUser(ctx, user.ID) }()

		found, err := store.FindByEmail(ctx, user.Email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)

		_, err = store.CreateUser(ctx, user)
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)

		keep := models.Session{ID: uuid.New(), UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
		drop := models.Session{ID: uuid.New(), UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}
		_, err = store.CreateSession(ctx, keep)
		require.NoError(t, err)
		_, err = store.CreateSession(ctx, drop)
		require.NoError(t, err)

		n, err := store.DeleteUserSessions(ctx, user.ID, &keep.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		_, err = store.GetSession(ctx, drop.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = store.GetSession(ctx, keep.ID)
		assert.NoError(t, err)

		first, err := store.CreateSession(ctx, models.Session{UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		second, err := store.CreateSession(ctx, models.Session{UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, first.ID)
		assert.NotEqual(t, first.ID, second.ID)

		for i := 0; i < 2; i++ {
			require.NoError(t, store.CreateResetToken(ctx, models.PasswordResetToken{
				UserID:    user.ID,
				TokenHash: fmt.Sprintf("hash-%d-%d", suffix, i),
				ExpiresAt: time.Now().Add(time.Hour),
			}))
		}
	})

	t.Run("concurrent duplicate submissions create one row", func(t *testing.T) {
		d := models.Disbursement{
			Origin:          models.OriginAPI,
			PartnerID:       partner.ID,
			TenantID:        "t1",
			CustomerID:      "c1",
			ClientRequestID: fmt.Sprintf("req-%d", suffix),
			MSISDN:          "254712345678",
			Amount:          decimal.NewFromInt(100),
		}

		const workers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			ids     = map[uuid.UUID]struct{}{}
		)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				stored, isNew, err := store.CreateDisbursement(ctx, d)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if isNew {
					created++
				}
				ids[stored.ID] = struct{}{}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.Len(t, ids, 1)

		assert.ErrorIs(t, store.DeletePartner(ctx, partner.ID), storage.ErrInUse)
	})

	t.Run("retry claims failed rows once", func(t *testing.T) {
		row, _, err := store.CreateDisbursement(ctx, models.Disbursement{
			Origin:          models.OriginAPI,
			PartnerID:       partner.ID,
			TenantID:        "t1",
			CustomerID:      "c1",
			ClientRequestID: fmt.Sprintf("retry-%d", suffix),
			MSISDN:          "254712345678",
			Amount:          decimal.NewFromInt(100),
		})
		require.NoError(t, err)
		assert.Equal(t, models.DefaultMaxRetries, row.MaxRetries)

		_, err = store.BeginRetry(ctx, row.ID, false, time.Now().Add(-time.Minute))
		assert.ErrorIs(t, err, storage.ErrNotFound, "fresh queued rows are in flight")

		require.NoError(t, store.MarkFailed(ctx, row.ID, "2001", "rejected"))
		claimed, err := store.BeginRetry(ctx, row.ID, false, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, models.StatusQueued, claimed.Status)
		assert.Equal(t, 1, claimed.RetryCount)
		assert.Empty(t, claimed.ResultCode)

		_, err = store.BeginRetry(ctx, row.ID, false, time.Now().Add(-time.Minute))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("first admin is created once", func(t *testing.T) {
		n, err := store.CountByRole(ctx, models.RoleAdmin, models.RoleSuperAdmin)
		require.NoError(t, err)
		if n > 0 {
			_, err := store.CreateFirstAdmin(ctx, models.User{Email: fmt.Sprintf("first_%d@example.com", suffix), PasswordHash: "hash", Role: models.RoleAdmin, IsActive: true})
			assert.ErrorIs(t, err, storage.ErrAlreadyExists)
			return
		}
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created []models.User
		)
		for i := 0; i < 4; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				u, err := store.CreateFirstAdmin(ctx, models.User{
					Email: fmt.Sprintf("first_%d_%d@example.com", suffix, i), PasswordHash: "hash", Role: models.RoleAdmin, IsActive: true,
				})
				if err != nil {
					assert.ErrorIs(t, err, storage.ErrAlreadyExists)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				created = append(created, u)
			}()
		}
		wg.Wait()
		require.Len(t, created, 1)
		_ = store.DeleteUser(ctx, created[0].ID)
	})

	t.Run("shortcode access grants", func(t *testing.T) {
		user, err := store.CreateUser(ctx, models.User{
			Email: fmt.Sprintf("access_%d@example.com", suffix), PasswordHash: "hash", Role: models.RolePartner, PartnerID: &partner.ID, IsActive: true,
		})
		require.NoError(t, err)
		defer func() { _ = store.DeleteUser(ctx, user.ID) }()
		sc, err := store.CreateShortcode(ctx, models.PartnerShortcode{PartnerID: partner.ID, Shortcode: fmt.Sprintf("%d", suffix%1000000), IsActive: true})
		require.NoError(t, err)

		grant, err := store.GrantShortcodeAccess(ctx, models.ShortcodeAccess{UserID: user.ID, ShortcodeID: sc.ID, AccessType: models.AccessRead})
		require.NoError(t, err)
		assert.Equal(t, sc.Shortcode, grant.Shortcode)
		assert.True(t, grant.IsActive)

		_, err = store.GrantShortcodeAccess(ctx, models.ShortcodeAccess{UserID: user.ID, ShortcodeID: sc.ID, AccessType: models.AccessWrite})
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)

		list, err := store.ListShortcodeAccess(ctx, []uuid.UUID{user.ID})
		require.NoError(t, err)
		assert.Len(t, list, 1)

		updated, err := store.UpdateShortcodeAccess(ctx, grant.ID, models.AccessAdmin, nil)
		require.NoError(t, err)
		assert.Equal(t, models.AccessAdmin, updated.AccessType)

		require.NoError(t, store.RevokeShortcodeAccess(ctx, grant.ID))
		assert.ErrorIs(t, store.RevokeShortcodeAccess(ctx, grant.ID), storage.ErrNotFound)
		_, err = store.GrantShortcodeAccess(ctx, models.ShortcodeAccess{UserID: user.ID, ShortcodeID: sc.ID, AccessType: models.AccessWrite})
		assert.NoError(t, err)
	})

	t.Run("monitoring config upsert", func(t *testing.T) {
		cfg := models.DefaultMonitoringConfig(partner.ID)
		saved, err := store.UpsertMonitoringConfig(ctx, cfg)
		require.NoError(t, err)
		assert.True(t, saved.WorkingAccountThreshold.Equal(decimal.NewFromInt(1000)))

		cfg.UtilityAccountThreshold = decimal.NewFromInt(750)
		saved2, err := store.UpsertMonitoringConfig(ctx, cfg)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, saved2.ID)
		assert.True(t, saved2.UtilityAccountThreshold.Equal(decimal.NewFromInt(750)))
	})
}
