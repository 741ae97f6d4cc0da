package apperrors

import (
	"github.com/gin-gonic/gin"
)

// Respond aborts the request with the status and body for err.
// Unclassified errors are reported without their cause.
func Respond(c *gin.Context, err error) {
	status := HTTPStatus(err)
	message := err.Error()
	if KindOf(err) == KindInternal {
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message, "code": CodeOf(err)})
}
