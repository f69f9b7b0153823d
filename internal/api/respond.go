package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"llm-trading-arena/internal/database"
	"llm-trading-arena/internal/portfolio"
)

// ok wraps a payload in the success envelope.
func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// fail writes the error envelope with the given status.
func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

// failMsg is fail for plain strings.
func failMsg(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// failFrom maps domain errors onto HTTP statuses. Invalid input and
// rejected decisions are client errors; only genuine store or internal
// failures surface as 5xx.
func failFrom(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		fail(c, http.StatusNotFound, err)
	case errors.Is(err, database.ErrProviderInUse):
		fail(c, http.StatusConflict, err)
	case errors.Is(err, portfolio.ErrUnknownModel):
		fail(c, http.StatusNotFound, err)
	default:
		if _, isApply := portfolio.AsApplyError(err); isApply {
			fail(c, http.StatusBadRequest, err)
			return
		}
		fail(c, http.StatusInternalServerError, err)
	}
}
