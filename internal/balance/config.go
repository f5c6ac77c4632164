package balance

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hongminglow/payvault-be/internal/models"
	"github.com/hongminglow/payvault-be/internal/models/dto"
	"github.com/hongminglow/payvault-be/internal/storage"
)

// Config returns the stored monitoring config of a partner, or the defaults
// when none has been saved.
func (m *Monitor) Config(ctx context.Context, partnerID uuid.UUID) (models.MonitoringConfig, error) {
	cfg, err := m.store.GetMonitoringConfig(ctx, partnerID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.DefaultMonitoringConfig(partnerID), nil
	}
	return cfg, err
}

// SaveConfig merges the fields present in req over the current config and
// stores the result.
func (m *Monitor) SaveConfig(ctx context.Context, partnerID uuid.UUID, req dto.MonitoringConfigRequest) (models.MonitoringConfig, error) {
	if _, err := m.store.GetPartner(ctx, partnerID); err != nil {
		return models.MonitoringConfig{}, err
	}
	cfg, err := m.Config(ctx, partnerID)
	if err != nil {
		return models.MonitoringConfig{}, err
	}
	if req.WorkingAccountThreshold != nil {
		cfg.WorkingAccountThreshold = *req.WorkingAccountThreshold
	}
	if req.UtilityAccountThreshold != nil {
		cfg.UtilityAccountThreshold = *req.UtilityAccountThreshold
	}
	if req.ChargesAccountThreshold != nil {
		cfg.ChargesAccountThreshold = *req.ChargesAccountThreshold
	}
	if req.CheckIntervalMinutes != nil {
		cfg.CheckIntervalMinutes = *req.CheckIntervalMinutes
	}
	if req.SlackWebhookURL != nil {
		cfg.SlackWebhookURL = *req.SlackWebhookURL
	}
	if req.SlackChannel != nil {
		cfg.SlackChannel = *req.SlackChannel
	}
	if req.IsEnabled != nil {
		cfg.IsEnabled = *req.IsEnabled
	}
	return m.store.UpsertMonitoringConfig(ctx, cfg)
}
