// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/order"
	"ridesync/internal/modules/orderstore"
)

type messageResponse struct {
	Message string `json:"message"`
}

// conflictResponse carries the order as it is now, so clients can adopt it.
type conflictResponse struct {
	Message string       `json:"message"`
	Order   *order.Order `json:"order,omitempty"`
}

// isValidID accepts the ids the store generates (uuid) and short test ids.
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

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, messageResponse{Message: msg})
}

func writeOrderError(c *gin.Context, err error) {
	var ce *order.ConflictError
	switch {
	case errors.As(err, &ce):
		writeJSON(c, http.StatusConflict, conflictResponse{Message: ce.Error(), Order: ce.Current})
	case errors.Is(err, order.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound), errors.Is(err, orderstore.ErrUserNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidState), errors.Is(err, order.ErrConflict), errors.Is(err, orderstore.ErrEmailTaken):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, orderstore.ErrInvalidCredentials):
		writeError(c, http.StatusUnauthorized, err.Error())
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// pathID reads and checks the :id route parameter, writing 400 when invalid.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}
