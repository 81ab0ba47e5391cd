// README: Base handler utilities (JSON helpers, error mapping, caller resolution).
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"nelo/internal/apperr"
	"nelo/internal/http/middleware"
	"nelo/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts generated UUIDs and the short prefixed IDs used for seeded data.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// pathID reads and validates the :id route parameter.
func pathID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return types.ID(id), true
}

func queryInt(c *gin.Context, key string, def int) int {
	if v := c.Query(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps an error kind to its HTTP status.
func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, apperr.ErrUnauthorizedActor):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrInvalidTransition),
		errors.Is(err, apperr.ErrConflict),
		errors.Is(err, apperr.ErrAlreadyResolved),
		errors.Is(err, apperr.ErrDriverUnavailable):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, apperr.ErrOfferExpired):
		writeError(c, http.StatusGone, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// callerID is the authenticated user as a domain ID.
func callerID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

// callerProviderID is the provider the caller acts for. Provider accounts
// carry it as a claim; otherwise the user ID is the provider ID.
func callerProviderID(c *gin.Context) types.ID {
	if id := middleware.CallerClaim(c, "provider_id"); id != "" {
		return types.ID(id)
	}
	return callerID(c)
}

func isAdmin(c *gin.Context) bool {
	return middleware.CallerRole(c) == middleware.RoleAdmin
}
