package dto

import "time"

type CreateUserRequest struct {
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required"`
	Role      string  `json:"role" validate:"required,oneof=admin super_admin partner partner_admin"`
	PartnerID *string `json:"partner_id" validate:"omitempty,uuid"`
}

type UpdateUserRequest struct {
	Email     *string `json:"email" validate:"omitempty,email"`
	Role      *string `json:"role" validate:"omitempty,oneof=admin super_admin partner partner_admin"`
	PartnerID *string `json:"partner_id" validate:"omitempty"`
	IsActive  *bool   `json:"is_active"`
	Password  *string `json:"password"`
}

type GrantPermissionRequest struct {
	Permission   string  `json:"permission" validate:"required"`
	ResourceType string  `json:"resource_type" validate:"required"`
	ResourceID   *string `json:"resource_id"`
}

type GrantShortcodeAccessRequest struct {
	UserID      string     `json:"user_id" validate:"required,uuid"`
	ShortcodeID string     `json:"shortcode_id" validate:"required,uuid"`
	AccessType  string     `json:"access_type" validate:"omitempty,oneof=read write admin"`
	ExpiresAt   *time.Time `json:"expires_at"`
}
