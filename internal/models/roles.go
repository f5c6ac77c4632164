package models

const (
	RoleAdmin        = "admin"
	RoleSuperAdmin   = "super_admin"
	RolePartner      = "partner"
	RolePartnerAdmin = "partner_admin"
)

// ValidRole reports whether role is one the service knows how to gate.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleSuperAdmin, RolePartner, RolePartnerAdmin:
		return true
	}
	return false
}

// IsAdminRole reports whether role grants admin routes.
func IsAdminRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// IsPartnerRole reports whether role grants partner routes.
func IsPartnerRole(role string) bool {
	return role == RolePartner || role == RolePartnerAdmin
}
