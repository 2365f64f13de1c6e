// Package errors provides standardized error handling for BPMN workflow integration.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidInput             ErrorCode = "INVALID_INPUT"
	ErrCodePromptValidationFailed   ErrorCode = "PROMPT_VALIDATION_FAILED"
	ErrCodeGenerationFailed         ErrorCode = "GENERATION_FAILED"
	ErrCodeGenerationTimeout        ErrorCode = "GENERATION_TIMEOUT"
	ErrCodeCredentialStoreFailed    ErrorCode = "CREDENTIAL_STORE_FAILED"
	ErrCodeUnsupportedMediaType     ErrorCode = "UNSUPPORTED_MEDIA_TYPE"
	ErrCodeMediaUploadFailed        ErrorCode = "MEDIA_UPLOAD_FAILED"
	ErrCodeMediaProcessingFailed    ErrorCode = "MEDIA_PROCESSING_FAILED"
	ErrCodeMediaTimeout             ErrorCode = "MEDIA_TIMEOUT"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeDatabaseInsertFailed     ErrorCode = "DATABASE_INSERT_FAILED"
	ErrCodeSearchIndexFailed        ErrorCode = "SEARCH_INDEX_FAILED"
	ErrCodeInvalidContact           ErrorCode = "INVALID_CONTACT"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"

	ErrCodeBusinessRule     ErrorCode = "BUSINESS_RULE_VIOLATION"
	ErrCodeExternalService  ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout          ErrorCode = "TIMEOUT_ERROR"
	ErrCodeResourceNotFound ErrorCode = "RESOURCE_NOT_FOUND"
	ErrCodeAuthentication   ErrorCode = "AUTHENTICATION_ERROR"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func newStandardError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func NewInvalidInputError(details string) *StandardError {
	return newStandardError(ErrCodeInvalidInput, "Job variables could not be parsed", details, false)
}

// NewPromptValidationFailedError reports an answer set missing required keys.
func NewPromptValidationFailedError(details string) *StandardError {
	return newStandardError(ErrCodePromptValidationFailed, "Answer set validation failed", details, false)
}

func NewGenerationFailedError(err error) *StandardError {
	return newStandardError(ErrCodeGenerationFailed, "Text generation request failed", err.Error(), true)
}

func NewGenerationTimeoutError(err error) *StandardError {
	return newStandardError(ErrCodeGenerationTimeout, "Text generation request timed out", err.Error(), true)
}

func NewCredentialStoreFailedError(err error) *StandardError {
	return newStandardError(ErrCodeCredentialStoreFailed, "Credential cursor store unavailable", err.Error(), true)
}

func NewUnsupportedMediaTypeError(mimeType string) *StandardError {
	return newStandardError(ErrCodeUnsupportedMediaType, "Unsupported media type", fmt.Sprintf("mimeType: %s", mimeType), false)
}

func NewMediaUploadFailedError(err error) *StandardError {
	return newStandardError(ErrCodeMediaUploadFailed, "Media upload failed", err.Error(), true)
}

// NewMediaProcessingFailedError reports a hosted file that reached a terminal state other than ACTIVE.
func NewMediaProcessingFailedError(name, state string) *StandardError {
	return newStandardError(ErrCodeMediaProcessingFailed, "Media processing failed", fmt.Sprintf("file: %s, state: %s", name, state), false)
}

// NewMediaTimeoutError reports a hosted file still processing when the poll budget ran out.
func NewMediaTimeoutError(name string, polls int) *StandardError {
	return newStandardError(ErrCodeMediaTimeout, "Media processing timed out", fmt.Sprintf("file: %s, polls: %d", name, polls), false)
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return newStandardError(ErrCodeDatabaseConnectionFailed, "Database connection error", err.Error(), true)
}

func NewDatabaseInsertFailedError(err error) *StandardError {
	return newStandardError(ErrCodeDatabaseInsertFailed, "Database insert operation failed", err.Error(), true)
}

func NewSearchIndexFailedError(index string, err error) *StandardError {
	return newStandardError(ErrCodeSearchIndexFailed, "Search index write failed", fmt.Sprintf("index: %s, error: %s", index, err.Error()), true)
}

func NewInvalidContactError(details string) *StandardError {
	return newStandardError(ErrCodeInvalidContact, "Owner contact is invalid", details, false)
}

func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return newStandardError(ErrCodeNotificationSendFailed, "Notification delivery failed", fmt.Sprintf("channel: %s, error: %s", channel, err.Error()), true)
}

// Generic constructors

func NewBusinessRuleError(message, details string) *StandardError {
	return newStandardError(ErrCodeBusinessRule, message, details, false)
}

func NewExternalServiceError(service string, err error) *StandardError {
	return newStandardError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err.Error(), true)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newStandardError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err.Error(), true)
}

func NewResourceNotFoundError(service, details string) *StandardError {
	return newStandardError(ErrCodeResourceNotFound, fmt.Sprintf("Resource not found in %s", service), details, false)
}

func NewAuthenticationError(details string) *StandardError {
	return newStandardError(ErrCodeAuthentication, "Authentication failed", details, false)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to the error codes caught by the process model.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidInput:             "INVALID_INPUT",
	ErrCodePromptValidationFailed:   "PROMPT_VALIDATION_FAILED",
	ErrCodeGenerationFailed:         "GENERATION_FAILED",
	ErrCodeGenerationTimeout:        "GENERATION_TIMEOUT",
	ErrCodeCredentialStoreFailed:    "CREDENTIAL_STORE_FAILED",
	ErrCodeUnsupportedMediaType:     "UNSUPPORTED_MEDIA_TYPE",
	ErrCodeMediaUploadFailed:        "MEDIA_UPLOAD_FAILED",
	ErrCodeMediaProcessingFailed:    "MEDIA_PROCESSING_FAILED",
	ErrCodeMediaTimeout:             "MEDIA_TIMEOUT",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeDatabaseInsertFailed:     "DATABASE_INSERT_FAILED",
	ErrCodeSearchIndexFailed:        "SEARCH_INDEX_FAILED",
	ErrCodeInvalidContact:           "INVALID_CONTACT",
	ErrCodeNotificationSendFailed:   "NOTIFICATION_SEND_FAILED",
}

// GetRetryCount returns the recommended job retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeGenerationFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeMediaUploadFailed,
		ErrCodeCredentialStoreFailed,
		ErrCodeSearchIndexFailed,
		ErrCodeTimeout:
		return 2

	case ErrCodeGenerationTimeout:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError unwraps err to a *StandardError when one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "GENERATION") || strings.Contains(codeStr, "CREDENTIAL") || strings.Contains(codeStr, "PROMPT"):
		return "AI"
	case strings.Contains(codeStr, "MEDIA"):
		return "MEDIA"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "SEARCH"):
		return "SEARCH"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "CONTACT"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
