package v1

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yourusername/site-monitor/core"
)

// NewSuccessResponse creates a successful API response
func NewSuccessResponse(kind ResponseKind, data interface{}, metadata *ResponseMetadata) *APIResponse {
	return &APIResponse{
		Kind:       kind,
		APIVersion: APIVersion,
		Metadata:   metadata,
		Data:       data,
	}
}

// NewErrorResponse creates an error API response
func NewErrorResponse(errors []APIError) *APIResponse {
	return &APIResponse{
		Kind:       KindError,
		APIVersion: APIVersion,
		Metadata: &ResponseMetadata{
			GeneratedAt: time.Now(),
		},
		Errors: errors,
	}
}

// NewPaginatedResponse creates a paginated response with metadata
func NewPaginatedResponse(kind ResponseKind, data interface{}, total int, params QueryParams) *APIResponse {
	metadata := &ResponseMetadata{
		Total:       total,
		Limit:       params.Limit,
		Offset:      params.Offset,
		Filter:      params.Filter,
		GeneratedAt: time.Now(),
		Links:       make(map[string]string),
	}

	if params.Offset > 0 {
		prevOffset := params.Offset - params.Limit
		if prevOffset < 0 {
			prevOffset = 0
		}
		metadata.Links["prev"] = "?limit=" + strconv.Itoa(params.Limit) + "&offset=" + strconv.Itoa(prevOffset)
	}
	if params.Offset+params.Limit < total {
		metadata.Links["next"] = "?limit=" + strconv.Itoa(params.Limit) + "&offset=" + strconv.Itoa(params.Offset+params.Limit)
	}
	return NewSuccessResponse(kind, data, metadata)
}

func metadataFor(c *gin.Context) *ResponseMetadata {
	return &ResponseMetadata{
		GeneratedAt: time.Now(),
		RequestID:   c.GetString("request_id"),
	}
}

// SendSuccess sends a successful response
func SendSuccess(c *gin.Context, kind ResponseKind, data interface{}) {
	c.JSON(http.StatusOK, NewSuccessResponse(kind, data, metadataFor(c)))
}

// SendPaginated sends a paginated response
func SendPaginated(c *gin.Context, kind ResponseKind, data interface{}, total int, params QueryParams) {
	response := NewPaginatedResponse(kind, data, total, params)
	response.Metadata.RequestID = c.GetString("request_id")
	c.JSON(http.StatusOK, response)
}

// SendCreated sends created response
func SendCreated(c *gin.Context, kind ResponseKind, data interface{}) {
	c.JSON(http.StatusCreated, NewSuccessResponse(kind, data, metadataFor(c)))
}

// SendNoContent sends no content response
func SendNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// SendError sends an error response
func SendError(c *gin.Context, statusCode int, code string, message string, details map[string]interface{}) {
	response := NewErrorResponse([]APIError{{
		Code:    code,
		Message: message,
		Details: details,
	}})
	response.Metadata.RequestID = c.GetString("request_id")
	c.JSON(statusCode, response)
}

// SendValidationError sends validation error response
func SendValidationError(c *gin.Context, errs []string) {
	apiErrors := make([]APIError, len(errs))
	for i, err := range errs {
		apiErrors[i] = APIError{
			Code:    ErrorCodeValidation,
			Message: err,
		}
	}
	c.JSON(http.StatusBadRequest, NewErrorResponse(apiErrors))
}

// SendNotFoundError sends not found error response
func SendNotFoundError(c *gin.Context, resource string, id string) {
	SendError(c, http.StatusNotFound, ErrorCodeNotFound, resource+" with id "+id+" not found", nil)
}

// SendInternalServerError sends internal server error response
func SendInternalServerError(c *gin.Context, err error) {
	SendError(c, http.StatusInternalServerError, ErrorCodeInternal,
		"Internal server error occurred", map[string]interface{}{"error": err.Error()})
}

// SendBadRequest sends bad request error response
func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, ErrorCodeBadRequest, message, nil)
}

// SendConflict sends conflict error response
func SendConflict(c *gin.Context, message string) {
	SendError(c, http.StatusConflict, ErrorCodeConflict, message, nil)
}

// SendEngineError maps engine errors onto HTTP statuses
func SendEngineError(c *gin.Context, resource, id string, err error) {
	switch {
	case errors.Is(err, core.ErrTargetNotFound), errors.Is(err, core.ErrAlertNotFound):
		SendNotFoundError(c, resource, id)
	case errors.Is(err, core.ErrConfiguration):
		SendValidationError(c, []string{err.Error()})
	case errors.Is(err, core.ErrTaskBusy):
		SendError(c, http.StatusConflict, ErrorCodeCheckRunning, err.Error(), nil)
	case errors.Is(err, core.ErrNoCapacity):
		SendError(c, http.StatusServiceUnavailable, ErrorCodeNoCapacity, err.Error(), nil)
	default:
		SendInternalServerError(c, err)
	}
}

// Helper functions for common error codes
const (
	ErrorCodeValidation   = "VALIDATION_ERROR"
	ErrorCodeNotFound     = "NOT_FOUND"
	ErrorCodeInternal     = "INTERNAL_ERROR"
	ErrorCodeBadRequest   = "BAD_REQUEST"
	ErrorCodeConflict     = "CONFLICT"
	ErrorCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrorCodeCheckRunning = "CHECK_ALREADY_RUNNING"
	ErrorCodeNoCapacity   = "NO_CAPACITY"
)
