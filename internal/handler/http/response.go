package http

import "github.com/gin-gonic/gin"

// ErrorResponse writes the only error shape of the HTTP surface.
func ErrorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

func SuccessResponse(c *gin.Context, code int, data interface{}) {
	c.JSON(code, data)
}
