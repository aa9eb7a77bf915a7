package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Spaces-Place/space-place-payment/internal/payment"
)

// writeError maps domain errors onto HTTP statuses. Collaborator failures
// surface as a generic internal error; bad business input and unknown
// orders are client errors.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, payment.ErrUnknownOrder):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown order number"})
	case errors.Is(err, payment.ErrCollaboratorRejected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "request rejected"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "payment processing failed"})
	}
}
