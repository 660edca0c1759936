package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/ai/providers"
)

// APIError represents a user-friendly error response
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	StatusCode int    `json:"-"`
}

// Error codes for categorization
const (
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeUnprocessable    = "INVALID_MANIFEST"
	ErrCodeLLMError         = "LLM_ERROR"
	ErrCodeLLMNotConfigured = "LLM_NOT_CONFIGURED"
	ErrCodeDatabaseError    = "DATABASE_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
)

// Common error messages with user-friendly suggestions
var errorMessages = map[string]struct {
	Message    string
	Suggestion string
}{
	ErrCodeInternalError: {
		Message:    "An internal error occurred",
		Suggestion: "Please try again. If the problem persists, check the server logs.",
	},
	ErrCodeBadRequest: {
		Message: "Invalid request",
	},
	ErrCodeNotFound: {
		Message: "Resource not found",
	},
	ErrCodeMethodNotAllowed: {
		Message: "Method not allowed",
	},
	ErrCodeUnprocessable: {
		Message:    "The generated manifest is not valid",
		Suggestion: "Rephrase the instructions or name the resources you need explicitly.",
	},
	ErrCodeLLMError: {
		Message: "LLM request failed",
	},
	ErrCodeLLMNotConfigured: {
		Message:    "AI assistant is not configured",
		Suggestion: "Set OPENAI_API_KEY (or AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT) and restart the server.",
	},
	ErrCodeDatabaseError: {
		Message:    "Audit database error",
		Suggestion: "Check the storage section of the configuration.",
	},
	ErrCodeTimeout: {
		Message:    "Request timed out",
		Suggestion: "The operation took too long. Try again with a smaller scope or check your network connection.",
	},
	ErrCodeRateLimited: {
		Message:    "Rate limit exceeded",
		Suggestion: "The LLM API rate limit was hit. Please wait a moment before trying again.",
	},
}

// NewAPIError creates a new API error with a user-friendly message
func NewAPIError(code string, detail string) *APIError {
	info, ok := errorMessages[code]
	if !ok {
		code = ErrCodeInternalError
		info = errorMessages[code]
	}

	return &APIError{
		Code:       code,
		Message:    info.Message,
		Detail:     detail,
		Suggestion: info.Suggestion,
		StatusCode: getStatusCodeForError(code),
	}
}

// NewAPIErrorWithSuggestion creates a new API error with a custom suggestion
func NewAPIErrorWithSuggestion(code, detail, suggestion string) *APIError {
	err := NewAPIError(code, detail)
	if suggestion != "" {
		err.Suggestion = suggestion
	}
	return err
}

func getStatusCodeForError(code string) int {
	switch code {
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeUnprocessable:
		return http.StatusUnprocessableEntity
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeLLMNotConfigured:
		return http.StatusServiceUnavailable
	case ErrCodeLLMError, ErrCodeDatabaseError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes an API error to the response
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode)
	_ = json.NewEncoder(w).Encode(err)
}

// ParseLLMError converts LLM errors to user-friendly messages
func ParseLLMError(err error, provider string) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized:
			return NewAPIErrorWithSuggestion(ErrCodeLLMNotConfigured, err.Error(),
				fmt.Sprintf("Your %s API key appears to be invalid.", provider))
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return NewAPIError(ErrCodeRateLimited, err.Error())
		}
	}

	errStr := err.Error()
	switch {
	case errors.Is(err, providers.ErrNotReady):
		return NewAPIError(ErrCodeLLMNotConfigured, errStr)
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host"):
		return NewAPIErrorWithSuggestion(ErrCodeLLMError, errStr,
			fmt.Sprintf("Cannot connect to %s. Check your endpoint URL and network connection.", provider))
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return NewAPIError(ErrCodeTimeout, errStr)
	default:
		return NewAPIError(ErrCodeLLMError, errStr)
	}
}

// BadRequest writes a 400 Bad Request error response
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeBadRequest, message))
}

// InternalError writes a 500 Internal Server Error response
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, NewAPIError(ErrCodeInternalError, message))
}

// LLMError writes an error response for LLM API errors
func LLMError(w http.ResponseWriter, err error, provider string) {
	WriteError(w, ParseLLMError(err, provider))
}

// MethodNotAllowed writes a 405 Method Not Allowed response
func MethodNotAllowed(w http.ResponseWriter, allowedMethods ...string) {
	if len(allowedMethods) > 0 {
		w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	}
	WriteError(w, NewAPIError(ErrCodeMethodNotAllowed, ""))
}
