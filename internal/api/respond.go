package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"whatsapp-campaigns/internal/apperrors"
)

const (
	businessHeader = "X-Business-ID"
	businessKey    = "business_id"
)

// RequireBusiness scopes every request to the business named in the
// X-Business-ID header.
func RequireBusiness() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.GetHeader(businessHeader), 10, 64)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": businessHeader + " header is required"})
			return
		}
		c.Set(businessKey, uint(id))
		c.Next()
	}
}

func businessID(c *gin.Context) uint {
	return c.GetUint(businessKey)
}

// idParam reads a numeric path parameter, answering 400 when it is malformed.
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return fallback
	}
	return v
}

func respondError(c *gin.Context, log *slog.Logger, err error) {
	var (
		validation *apperrors.ValidationError
		notFound   *apperrors.NotFoundError
		conflict   *apperrors.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": conflict.Error(), "status": conflict.State})
	default:
		log.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
