package utils

import (
	"github.com/gin-gonic/gin"
)

type JSONResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Errors  []string    `json:"errors,omitempty"`
}

func RespondJSON(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, JSONResponse{
		Success: code >= 200 && code < 300,
		Message: message,
		Data:    data,
	})
}

func RespondError(c *gin.Context, code int, err error) {
	c.JSON(code, JSONResponse{
		Success: false,
		Message: err.Error(),
	})
}

// RespondAppError maps a typed application error to its HTTP status. Anything
// that is not an AppError is reported as an internal failure without leaking
// the underlying message.
func RespondAppError(c *gin.Context, err error) {
	if appErr, ok := AsAppError(err); ok {
		c.JSON(appErr.HTTPStatus(), JSONResponse{
			Success: false,
			Message: appErr.Message,
			Errors:  appErr.Details,
		})
		return
	}
	ErrorLogger.Printf("unexpected error: %v", err)
	c.JSON(500, JSONResponse{
		Success: false,
		Message: "Internal server error",
	})
}
