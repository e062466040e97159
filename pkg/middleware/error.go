package middleware

import (
	"errors"
	"net/http"

	"rewardplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last collected error as a JSON body with the status code
// carried by the domain error taxonomy.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(err.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": err.Error(),
			},
		})
	}
}
