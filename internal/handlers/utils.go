package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/taliaapp/apiserver/internal/services"
	"github.com/taliaapp/apiserver/types"
)

type contextKey string

const contextUserKey contextKey = "user"

// ErrorResponse is the JSON error payload for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

func userFromContext(ctx context.Context) (types.User, error) {
	user, ok := ctx.Value(contextUserKey).(types.User)
	if !ok {
		return types.User{}, errors.New("missing user")
	}
	return user, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps the service failure taxonomy onto HTTP statuses.
// This is the only place the mapping lives.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, services.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, services.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, services.ErrEmailMismatch):
		writeError(w, http.StatusUnauthorized, "email mismatch")
	case errors.Is(err, services.ErrInvalidCode):
		writeError(w, http.StatusBadRequest, "invalid code")
	case errors.Is(err, services.ErrNotVerified):
		writeError(w, http.StatusForbidden, "account must be verified")
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, services.ErrUnsupportedType):
		writeError(w, http.StatusUnsupportedMediaType, "unsupported file type")
	case errors.Is(err, services.ErrStorageFailure):
		writeError(w, http.StatusBadGateway, "storage unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
