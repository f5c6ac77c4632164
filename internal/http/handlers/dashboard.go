package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/models"
)

// StatsStore aggregates disbursement activity.
type StatsStore interface {
	Stats(ctx context.Context, partnerID *uuid.UUID, dayStart time.Time) (models.DashboardStats, error)
}

// nairobi is the business day boundary for "today" figures.
var nairobi = loadZone("Africa/Nairobi", 3*60*60)

func loadZone(name string, offset int) *time.Location {
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("EAT", offset)
}

// DashboardHandler serves summary statistics.
type DashboardHandler struct {
	store StatsStore
	now   func() time.Time
}

func NewDashboardHandler(store StatsStore) *DashboardHandler {
	return &DashboardHandler{store: store, now: time.Now}
}

func (h *DashboardHandler) Register(r chi.Router, gates *middleware.Authenticator) {
	r.With(gates.RequireAuth).Get("/api/dashboard/stats", h.handleStats)
}

func (h *DashboardHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFromContext(r.Context())

	var partnerID *uuid.UUID
	switch {
	case user.IsPartner():
		if user.PartnerID == nil {
			respond.Error(w, http.StatusForbidden, "Access denied", "Partner ID required")
			return
		}
		partnerID = user.PartnerID
	case user.IsAdmin():
		id, err := optionalUUID(r.URL.Query().Get("partner_id"))
		if err != nil {
			respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid partner_id")
			return
		}
		partnerID = id
	default:
		respond.Error(w, http.StatusForbidden, "Access denied", "Insufficient permissions")
		return
	}

	stats, err := h.store.Stats(r.Context(), partnerID, dayStart(h.now()))
	if err != nil {
		internalError(w, r, "dashboard stats", err)
		return
	}
	respond.Success(w, http.StatusOK, map[string]any{"stats": stats})
}

func dayStart(now time.Time) time.Time {
	local := now.In(nairobi)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, nairobi)
}
