package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/storage"
)

const partnerColumns = `id, name, short_code, COALESCE(contact_email, ''), COALESCE(contact_phone, ''),
	COALESCE(mpesa_shortcode, ''), mpesa_environment, COALESCE(mpesa_initiator_name, ''),
	COALESCE(encrypted_credentials, ''), is_mpesa_configured, COALESCE(api_key_hash, ''),
	COALESCE(api_key_prefix, ''), is_active, COALESCE(mifos_host_url, ''), COALESCE(mifos_username, ''),
	COALESCE(mifos_tenant_id, ''), COALESCE(encrypted_mifos_password, ''), is_mifos_configured,
	COALESCE(ncba_business_short_code, ''), created_at, updated_at`

// CreatePartner inserts a partner.
func (s *Store) CreatePartner(ctx context.Context, p models.Partner) (models.Partner, error) {
	query := `
		INSERT INTO partners (name, short_code, contact_email, contact_phone, mpesa_shortcode,
			mpesa_environment, mpesa_initiator_name, encrypted_credentials, is_mpesa_configured,
			api_key_hash, api_key_prefix, is_active, mifos_host_url, mifos_username, mifos_tenant_id,
			encrypted_mifos_password, is_mifos_configured, ncba_business_short_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING ` + partnerColumns
	row := s.pool.QueryRow(ctx, query,
		p.Name, p.ShortCode, nullable(p.ContactEmail), nullable(p.ContactPhone), nullable(p.MpesaShortcode),
		envOrSandbox(p.MpesaEnvironment), nullable(p.MpesaInitiatorName), nullable(p.EncryptedCredentials), p.IsMpesaConfigured,
		nullable(p.APIKeyHash), nullable(p.APIKeyPrefix), p.IsActive, nullable(p.MifosHostURL), nullable(p.MifosUsername),
		nullable(p.MifosTenantID), nullable(p.EncryptedMifosPassword), p.IsMifosConfigured, nullable(p.NCBABusinessShortCode))
	created, err := scanPartner(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Partner{}, storage.ErrAlreadyExists
		}
		return models.Partner{}, err
	}
	return created, nil
}

// GetPartner fetches a partner by id.
func (s *Store) GetPartner(ctx context.Context, id uuid.UUID) (models.Partner, error) {
	return scanPartner(s.pool.QueryRow(ctx, `SELECT `+partnerColumns+` FROM partners WHERE id = $1`, id))
}

// FindPartnerByAPIKeyHash resolves a partner from a hashed API key.
func (s *Store) FindPartnerByAPIKeyHash(ctx context.Context, hash string) (models.Partner, error) {
	return scanPartner(s.pool.QueryRow(ctx, `SELECT `+partnerColumns+` FROM partners WHERE api_key_hash = $1`, hash))
}

// ListPartners returns all partners by name.
func (s *Store) ListPartners(ctx context.Context) ([]models.Partner, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+partnerColumns+` FROM partners ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	defer rows.Close()

	var partners []models.Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

// UpdatePartner overwrites every mutable column of p.
func (s *Store) UpdatePartner(ctx context.Context, p models.Partner) (models.Partner, error) {
	query := `
		UPDATE partners SET
			name = $2, short_code = $3, contact_email = $4, contact_phone = $5, mpesa_shortcode = $6,
			mpesa_environment = $7, mpesa_initiator_name = $8, encrypted_credentials = $9,
			is_mpesa_configured = $10, api_key_hash = $11, api_key_prefix = $12, is_active = $13,
			mifos_host_url = $14, mifos_username = $15, mifos_tenant_id = $16,
			encrypted_mifos_password = $17, is_mifos_configured = $18, ncba_business_short_code = $19,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + partnerColumns
	row := s.pool.QueryRow(ctx, query, p.ID,
		p.Name, p.ShortCode, nullable(p.ContactEmail), nullable(p.ContactPhone), nullable(p.MpesaShortcode),
		envOrSandbox(p.MpesaEnvironment), nullable(p.MpesaInitiatorName), nullable(p.EncryptedCredentials), p.IsMpesaConfigured,
		nullable(p.APIKeyHash), nullable(p.APIKeyPrefix), p.IsActive, nullable(p.MifosHostURL), nullable(p.MifosUsername),
		nullable(p.MifosTenantID), nullable(p.EncryptedMifosPassword), p.IsMifosConfigured, nullable(p.NCBABusinessShortCode))
	updated, err := scanPartner(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Partner{}, storage.ErrAlreadyExists
		}
		return models.Partner{}, err
	}
	return updated, nil
}

// DeletePartner removes a partner. Partners with disbursement history are
// kept and ErrInUse is returned.
func (s *Store) DeletePartner(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM partners WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return storage.ErrInUse
		}
		return fmt.Errorf("delete partner: %w", err)
	}
	return requireAffected(tag)
}

func scanPartner(row pgx.Row) (models.Partner, error) {
	var p models.Partner
	err := row.Scan(&p.ID, &p.Name, &p.ShortCode, &p.ContactEmail, &p.ContactPhone,
		&p.MpesaShortcode, &p.MpesaEnvironment, &p.MpesaInitiatorName,
		&p.EncryptedCredentials, &p.IsMpesaConfigured, &p.APIKeyHash,
		&p.APIKeyPrefix, &p.IsActive, &p.MifosHostURL, &p.MifosUsername,
		&p.MifosTenantID, &p.EncryptedMifosPassword, &p.IsMifosConfigured,
		&p.NCBABusinessShortCode, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return models.Partner{}, notFound(err)
	}
	return p, nil
}

func envOrSandbox(env string) string {
	if env == models.EnvProduction {
		return env
	}
	return models.EnvSandbox
}

const shortcodeColumns = `id, partner_id, shortcode, COALESCE(shortcode_name, ''), COALESCE(shortcode_type, ''),
	environment, COALESCE(initiator_name, ''), COALESCE(encrypted_credentials, ''), is_mpesa_configured,
	is_active, created_at, updated_at`

// CreateShortcode inserts a partner shortcode.
func (s *Store) CreateShortcode(ctx context.Context, sc models.PartnerShortcode) (models.PartnerShortcode, error) {
	query := `
		INSERT INTO partner_shortcodes (partner_id, shortcode, shortcode_name, shortcode_type, environment,
			initiator_name, encrypted_credentials, is_mpesa_configured, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + shortcodeColumns
	row := s.pool.QueryRow(ctx, query, sc.PartnerID, sc.Shortcode, nullable(sc.ShortcodeName), nullable(sc.ShortcodeType),
		envOrSandbox(sc.Environment), nullable(sc.InitiatorName), nullable(sc.EncryptedCredentials), sc.IsMpesaConfigured, sc.IsActive)
	created, err := scanShortcode(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.PartnerShortcode{}, storage.ErrAlreadyExists
		}
		return models.PartnerShortcode{}, err
	}
	return created, nil
}

// GetShortcode fetches a shortcode by id.
func (s *Store) GetShortcode(ctx context.Context, id uuid.UUID) (models.PartnerShortcode, error) {
	return scanShortcode(s.pool.QueryRow(ctx, `SELECT `+shortcodeColumns+` FROM partner_shortcodes WHERE id = $1`, id))
}

// FindPartnerShortcode fetches a shortcode scoped to its owning partner.
func (s *Store) FindPartnerShortcode(ctx context.Context, id, partnerID uuid.UUID) (models.PartnerShortcode, error) {
	return scanShortcode(s.pool.QueryRow(ctx,
		`SELECT `+shortcodeColumns+` FROM partner_shortcodes WHERE id = $1 AND partner_id = $2`, id, partnerID))
}

// ListShortcodes returns shortcodes, optionally for a single partner.
func (s *Store) ListShortcodes(ctx context.Context, partnerID *uuid.UUID) ([]models.PartnerShortcode, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+shortcodeColumns+`
		FROM partner_shortcodes
		WHERE ($1::uuid IS NULL OR partner_id = $1)
		ORDER BY created_at`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("list shortcodes: %w", err)
	}
	defer rows.Close()

	var out []models.PartnerShortcode
	for rows.Next() {
		sc, err := scanShortcode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateShortcode overwrites a shortcode within its partner.
func (s *Store) UpdateShortcode(ctx context.Context, sc models.PartnerShortcode) (models.PartnerShortcode, error) {
	query := `
		UPDATE partner_shortcodes SET
			shortcode = $3, shortcode_name = $4, shortcode_type = $5, environment = $6,
			initiator_name = $7, encrypted_credentials = $8, is_mpesa_configured = $9,
			is_active = $10, updated_at = NOW()
		WHERE id = $1 AND partner_id = $2
		RETURNING ` + shortcodeColumns
	row := s.pool.QueryRow(ctx, query, sc.ID, sc.PartnerID, sc.Shortcode, nullable(sc.ShortcodeName), nullable(sc.ShortcodeType),
		envOrSandbox(sc.Environment), nullable(sc.InitiatorName), nullable(sc.EncryptedCredentials), sc.IsMpesaConfigured, sc.IsActive)
	updated, err := scanShortcode(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.PartnerShortcode{}, storage.ErrAlreadyExists
		}
		return models.PartnerShortcode{}, err
	}
	return updated, nil
}

// DeleteShortcode removes a shortcode within its partner.
func (s *Store) DeleteShortcode(ctx context.Context, id, partnerID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM partner_shortcodes WHERE id = $1 AND partner_id = $2`, id, partnerID)
	if err != nil {
		return fmt.Errorf("delete shortcode: %w", err)
	}
	return requireAffected(tag)
}

func scanShortcode(row pgx.Row) (models.PartnerShortcode, error) {
	var sc models.PartnerShortcode
	err := row.Scan(&sc.ID, &sc.PartnerID, &sc.Shortcode, &sc.ShortcodeName, &sc.ShortcodeType,
		&sc.Environment, &sc.InitiatorName, &sc.EncryptedCredentials, &sc.IsMpesaConfigured,
		&sc.IsActive, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return models.PartnerShortcode{}, notFound(err)
	}
	return sc, nil
}
