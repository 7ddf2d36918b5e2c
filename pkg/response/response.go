package response

import (
	"github.com/gin-gonic/gin"
)

// ErrorResponse is the error envelope shared by handlers and middleware
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// DataResponse wraps a successful payload
type DataResponse struct {
	Data interface{} `json:"data"`
	Meta interface{} `json:"meta,omitempty"`
}

// PageMeta describes a paginated list
type PageMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// JSON writes data wrapped in a DataResponse
func JSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, DataResponse{Data: data})
}

// Page writes a list with pagination metadata
func Page(c *gin.Context, status int, data interface{}, meta PageMeta) {
	c.JSON(status, DataResponse{Data: data, Meta: meta})
}

// Error writes an error envelope
func Error(c *gin.Context, status int, code, errMsg, message string) {
	c.JSON(status, ErrorResponse{Error: errMsg, Code: code, Message: message})
}

// Abort writes an error envelope and stops the handler chain
func Abort(c *gin.Context, status int, code, errMsg, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: errMsg, Code: code, Message: message})
}
