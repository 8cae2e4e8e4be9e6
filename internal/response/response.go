package response

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every JSON endpoint answers with.
type Response struct {
	Data       interface{} `json:"data"`
	Error      *ErrorBody  `json:"error,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// ErrorBody is the machine-readable code plus a localized message. Fields
// carries per-field validation messages or the details of a typed error.
type ErrorBody struct {
	Code    ErrCode           `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Pagination describes the page returned by a list endpoint.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// Metadata ties a response to its request for support and tracing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
	ElapsedMs *int64 `json:"elapsed_ms,omitempty"`
}

// NewPagination builds the page descriptor for total items split into
// perPage-sized pages.
func NewPagination(page, perPage, total int) *Pagination {
	totalPages := 0
	if perPage > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	return &Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
	}
}

// Success writes data with the given status.
func Success(c *gin.Context, statusCode int, data interface{}) {
	write(c, statusCode, Response{Data: data}, false)
}

// Created writes data with 201.
func Created(c *gin.Context, data interface{}) {
	write(c, 201, Response{Data: data}, false)
}

// Paginated writes one page of a list.
func Paginated(c *gin.Context, data interface{}, pagination *Pagination) {
	write(c, 200, Response{Data: data, Pagination: pagination}, false)
}

// Fail writes an error envelope for code.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	write(c, statusCode, Response{Error: &ErrorBody{Code: code, Message: GetMessage(code)}}, false)
}

// FailWithFields writes an error envelope with per-field details.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	write(c, statusCode, Response{Error: &ErrorBody{Code: code, Message: GetMessage(code), Fields: fields}}, false)
}

// AbortFail stops the handler chain and writes an error envelope.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	write(c, statusCode, Response{Error: &ErrorBody{Code: code, Message: GetMessage(code)}}, true)
}

func write(c *gin.Context, statusCode int, body Response, abort bool) {
	body.Metadata = buildMetadata(c)
	if abort {
		c.AbortWithStatusJSON(statusCode, body)
		return
	}
	c.JSON(statusCode, body)
}

func buildMetadata(c *gin.Context) Metadata {
	now := time.Now().UTC()
	meta := Metadata{
		RequestID: RequestID(c),
		Timestamp: now.Format(time.RFC3339),
	}
	if started, ok := c.Get(ContextKeyStartedAt); ok {
		if t, ok := started.(time.Time); ok {
			elapsed := now.Sub(t).Milliseconds()
			meta.ElapsedMs = &elapsed
		}
	}
	return meta
}
