package handlers

import (
	"errors"
	"net/http"

	"github.com/dairylink/dairylink-api/internal/services"
	"github.com/gin-gonic/gin"
)

// respondError maps typed business errors to HTTP status codes. Anything
// unrecognized is treated as an internal failure.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, services.ErrMissingBorrower),
		errors.Is(err, services.ErrMissingPhone),
		errors.Is(err, services.ErrNoAccount),
		errors.Is(err, services.ErrOverRepayment):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrLedgerFailure):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
