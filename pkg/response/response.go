package response

import (
	"net/http"
)

// Response is the envelope every reconciler endpoint answers with
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorInfo carries a machine-readable code next to the message
type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Meta describes one page of a listing
type Meta struct {
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// Generic codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
)

// Reconciliation codes. Each names the stage an intent stopped at.
const (
	ErrCodeDuplicateIntent = "DUPLICATE_INTENT"
	ErrCodeLedgerRejected  = "LEDGER_REJECTED"
	ErrCodeLedgerReverted  = "LEDGER_REVERTED"
	ErrCodeLedgerTimeout   = "LEDGER_TIMEOUT"
	ErrCodeProjectionLag   = "PROJECTION_LAG"
	ErrCodeViewNotReady    = "VIEW_NOT_READY"
)

// GetHTTPStatus returns the status an error code is served with. Unknown
// codes are treated as internal errors.
func GetHTTPStatus(code string) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeDuplicateIntent, ErrCodeLedgerRejected:
		return http.StatusConflict
	case ErrCodeLedgerReverted:
		return http.StatusUnprocessableEntity
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeLedgerTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeServiceUnavailable, ErrCodeProjectionLag, ErrCodeViewNotReady:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Success wraps data in a successful envelope
func Success(data interface{}) *Response {
	return &Response{Success: true, Data: data}
}

// Paginated wraps one page of a listing. perPage below one is read as one.
func Paginated(data interface{}, page, perPage int, total int64) *Response {
	if perPage < 1 {
		perPage = 1
	}
	pages := int((total + int64(perPage) - 1) / int64(perPage))

	return &Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{Page: page, PerPage: perPage, Total: total, TotalPages: pages},
	}
}

// Error builds a failed envelope
func Error(code string, message string) *Response {
	return ErrorWithDetails(code, message, nil)
}

// ErrorWithDetails builds a failed envelope with extra key/value context
func ErrorWithDetails(code string, message string, details map[string]string) *Response {
	return &Response{
		Error: &ErrorInfo{Code: code, Message: message, Details: details},
	}
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}

func BadRequest(message string) *Response {
	return Error(ErrCodeBadRequest, message)
}

func NotFound(message string) *Response {
	return Error(ErrCodeNotFound, orDefault(message, "Resource not found"))
}

func InternalError(message string) *Response {
	return Error(ErrCodeInternalError, orDefault(message, "An internal error occurred"))
}

func TooManyRequests(message string) *Response {
	return Error(ErrCodeTooManyRequests, orDefault(message, "Too many requests, please try again later"))
}

func ServiceUnavailable(message string) *Response {
	return Error(ErrCodeServiceUnavailable, orDefault(message, "Service temporarily unavailable"))
}

// ValidationFailed reports per-field problems
func ValidationFailed(details map[string]string) *Response {
	return ErrorWithDetails(ErrCodeValidationFailed, "Validation failed", details)
}

// DuplicateIntent points the caller at the identical intent already in flight
func DuplicateIntent(existingID string) *Response {
	return ErrorWithDetails(ErrCodeDuplicateIntent, "An identical intent is already in flight",
		map[string]string{"intent_id": existingID})
}

// ViewNotReady is served before the first projection refresh completes
func ViewNotReady() *Response {
	return Error(ErrCodeViewNotReady, "Projection view has not been computed yet")
}
