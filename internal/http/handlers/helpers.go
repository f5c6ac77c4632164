package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hongminglow/payvault-be/internal/http/respond"
	"github.com/hongminglow/payvault-be/internal/logging"
	"github.com/hongminglow/payvault-be/internal/middleware"
	"github.com/hongminglow/payvault-be/internal/storage"
	"github.com/hongminglow/payvault-be/internal/validation"
)

const maxBodyBytes = 1 << 20

const (
	errInvalidRequest = "Invalid request"
	errNotFound       = "Not found"
	errConflict       = "Conflict"
	errInternal       = "Internal server error"
)

// decode reads a JSON body into dst and runs struct validation. It writes a
// 400 and returns false on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := readJSON(w, r, dst); err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid JSON payload")
		return false
	}
	if err := validation.Struct(dst); err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, validation.Message(err))
		return false
	}
	return true
}

// readJSON decodes without validating. An empty body leaves dst untouched.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respond.Error(w, http.StatusBadRequest, errInvalidRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUID parses s, treating "" as absent.
func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func queryInt(r *http.Request, key string, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && n >= 0 {
		return n
	}
	return def
}

// storeError maps storage sentinels onto responses and logs anything else.
func storeError(w http.ResponseWriter, r *http.Request, err error, what string) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respond.Error(w, http.StatusNotFound, errNotFound, what+" not found")
	case errors.Is(err, storage.ErrAlreadyExists):
		respond.Error(w, http.StatusConflict, errConflict, what+" already exists")
	case errors.Is(err, storage.ErrInUse):
		respond.Error(w, http.StatusConflict, errConflict, what+" is still referenced by other records")
	default:
		logging.FromContext(r.Context()).Error("store operation failed", zap.String("entity", what), zap.Error(err))
		respond.Error(w, http.StatusInternalServerError, errInternal, "")
	}
}

func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context()).Error(msg, zap.Error(err))
	respond.Error(w, http.StatusInternalServerError, errInternal, "")
}

// callerPartnerID is the partner of a user admitted by RequirePartner.
func callerPartnerID(r *http.Request) uuid.UUID {
	user, _ := middleware.UserFromContext(r.Context())
	if user.PartnerID == nil {
		return uuid.Nil
	}
	return *user.PartnerID
}
