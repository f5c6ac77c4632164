package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/payvault-be/internal/auth"
	"github.com/hongminglow/payvault-be/internal/config"
	"github.com/hongminglow/payvault-be/internal/disbursement"
	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/mpesa"
	"github.com/hongminglow/payvault-be/internal/notify"
	"github.com/hongminglow/payvault-be/internal/storage/storagetest"
	"github.com/hongminglow/payvault-be/internal/vault"
)

func TestCreateAdmin(t *testing.T) {
	store := storagetest.NewMemory()
	ctx := context.Background()

	u, err := createAdmin(ctx, store, " Root@Example.com ", "correct-horse", false)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
	assert.True(t, u.IsActive)
	assert.True(t, auth.CheckPassword(u.PasswordHash, "correct-horse"))

	_, err = createAdmin(ctx, store, "root@example.com", "correct-horse", false)
	assert.ErrorContains(t, err, "already exists")

	su, err := createAdmin(ctx, store, "owner@example.com", "correct-horse", true)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, su.Role)

	_, err = createAdmin(ctx, store, "not-an-email", "correct-horse", false)
	assert.ErrorContains(t, err, "invalid email")

	_, err = createAdmin(ctx, store, "weak@example.com", "short", false)
	assert.ErrorIs(t, err, auth.ErrWeakPassword)
}

func TestSelectMailer(t *testing.T) {
	assert.IsType(t, notify.LogMailer{}, selectMailer(config.Config{}))

	smtp := config.Config{SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 465, User: "mailer"}}
	assert.IsType(t, &notify.SMTPMailer{}, selectMailer(smtp))

	smtp.ResendAPIKey = "re_123"
	assert.IsType(t, &notify.ResendMailer{}, selectMailer(smtp))
}

func TestSelectDispatcher(t *testing.T) {
	v, err := vault.New("test-passphrase")
	require.NoError(t, err)
	client := mpesa.NewClient(time.Second)
	store := storagetest.NewMemory()

	direct := selectDispatcher(config.Config{MpesaCallbackBase: "https://api.example.com"}, client, v, store)
	assert.IsType(t, &disbursement.MpesaDispatcher{}, direct)

	remote := selectDispatcher(config.Config{DisburseFunctionURL: "https://fn.example.com/disburse", DisburseTimeout: time.Second}, client, v, store)
	assert.IsType(t, &disbursement.RemoteDispatcher{}, remote)
}
