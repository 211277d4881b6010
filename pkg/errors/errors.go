// Package errors provides the structured error system for fspropfaker: error codes,
// categories, and the context attached to failures of session creation, capacity
// queries and the mount lifecycle.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for fspropfaker operations.
type ErrorCode string

const (
	// Validation errors
	ErrCodePrivilegedCaller ErrorCode = "PRIVILEGED_CALLER"
	ErrCodePathInvalid      ErrorCode = "PATH_INVALID"
	ErrCodeNotDirectory     ErrorCode = "NOT_DIRECTORY"
	ErrCodeNameTooLong      ErrorCode = "NAME_TOO_LONG"
	ErrCodeValueOutOfRange  ErrorCode = "VALUE_OUT_OF_RANGE"
	ErrCodeAlreadyMounted   ErrorCode = "ALREADY_MOUNTED"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave    ErrorCode = "CONFIG_SAVE"

	// Probe errors
	ErrCodeProbeFailed      ErrorCode = "PROBE_FAILED"
	ErrCodeBlockSizeInvalid ErrorCode = "BLOCK_SIZE_INVALID"

	// Invariant violations
	ErrCodeBlockSizeChanged ErrorCode = "BLOCK_SIZE_CHANGED"

	// Lifecycle errors
	ErrCodeMountFailed    ErrorCode = "MOUNT_FAILED"
	ErrCodeMountNotReady  ErrorCode = "MOUNT_NOT_READY"
	ErrCodeMountTimeout   ErrorCode = "MOUNT_TIMEOUT"
	ErrCodeUnmountFailed  ErrorCode = "UNMOUNT_FAILED"
	ErrCodeAlreadyStopped ErrorCode = "ALREADY_STOPPED"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryProbe         ErrorCategory = "probe"
	CategoryInvariant     ErrorCategory = "invariant"
	CategoryLifecycle     ErrorCategory = "lifecycle"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodePrivilegedCaller: CategoryValidation,
	ErrCodePathInvalid:      CategoryValidation,
	ErrCodeNotDirectory:     CategoryValidation,
	ErrCodeNameTooLong:      CategoryValidation,
	ErrCodeValueOutOfRange:  CategoryValidation,
	ErrCodeAlreadyMounted:   CategoryValidation,
	ErrCodeValidationFailed: CategoryValidation,
	ErrCodeInvalidConfig:    CategoryConfiguration,
	ErrCodeConfigLoad:       CategoryConfiguration,
	ErrCodeConfigSave:       CategoryConfiguration,
	ErrCodeProbeFailed:      CategoryProbe,
	ErrCodeBlockSizeInvalid: CategoryProbe,
	ErrCodeBlockSizeChanged: CategoryInvariant,
	ErrCodeMountFailed:      CategoryLifecycle,
	ErrCodeMountNotReady:    CategoryLifecycle,
	ErrCodeMountTimeout:     CategoryLifecycle,
	ErrCodeUnmountFailed:    CategoryLifecycle,
	ErrCodeAlreadyStopped:   CategoryLifecycle,
}

// FakerError represents a structured error with context and metadata.
type FakerError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`
	HTTPStatus int  `json:"http_status,omitempty"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *FakerError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *FakerError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a FakerError with the same code.
func (e *FakerError) Is(target error) bool {
	if fe, ok := target.(*FakerError); ok {
		return e.Code == fe.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *FakerError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("FakerError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *FakerError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with the defaults for its code.
func NewError(code ErrorCode, message string) *FakerError {
	return &FakerError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Newf is NewError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *FakerError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error for code with cause attached.
func Wrap(cause error, code ErrorCode, message string) *FakerError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory returns the category of an error code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	return code == ErrCodeMountNotReady
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	switch GetCategory(code) {
	case CategoryValidation, CategoryConfiguration:
		return true
	}
	return code == ErrCodeMountFailed || code == ErrCodeMountTimeout
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodePrivilegedCaller:
		return http.StatusForbidden
	case ErrCodeAlreadyStopped, ErrCodeAlreadyMounted:
		return http.StatusConflict
	case ErrCodeMountNotReady:
		return http.StatusServiceUnavailable
	case ErrCodeMountTimeout:
		return http.StatusGatewayTimeout
	}
	switch GetCategory(code) {
	case CategoryValidation, CategoryConfiguration:
		return http.StatusBadRequest
	case CategoryProbe:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err, or any error it wraps, is a FakerError with code.
func HasCode(err error, code ErrorCode) bool {
	var fe *FakerError
	for err != nil {
		if !stderrors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Cause
	}
	return false
}

// CodeOf returns the code of the outermost FakerError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) ErrorCode {
	var fe *FakerError
	if stderrors.As(err, &fe) {
		return fe.Code
	}
	return ErrCodeInternalError
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.HasSuffix(frame.File, "pkg/errors/errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *FakerError) WithContext(key, value string) *FakerError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *FakerError) WithDetail(key string, value interface{}) *FakerError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *FakerError) WithComponent(component string) *FakerError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *FakerError) WithOperation(operation string) *FakerError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *FakerError) WithCause(cause error) *FakerError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *FakerError) WithStack() *FakerError {
	e.Stack = CaptureStack(0)
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *FakerError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodePrivilegedCaller: "Run fspropfaker as an unprivileged user. " +
			"FUSE mounts are set up through fusermount and must not be owned by root.",
		ErrCodePathInvalid: "Check that the path exists and is reachable by the current user.",
		ErrCodeNotDirectory: "Both the root path and the mount path must be directories.",
		ErrCodeNameTooLong: "Choose a mount name of at most 20 bytes.",
		ErrCodeValueOutOfRange: "Fixed sizes must be positive and megabyte values must " +
			"fit into a 64-bit byte count.",
		ErrCodeAlreadyMounted: "Unmount the existing filesystem first (fusermount -u <path>) " +
			"or choose another mount path.",
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeProbeFailed: "The real filesystem could not be queried. " +
			"Verify the root path is still present and readable.",
		ErrCodeBlockSizeChanged: "The filesystem behind the root path changed its block size. " +
			"Recreate the session so the new block size is picked up.",
		ErrCodeMountFailed: "Failed to mount filesystem. " +
			"Check that /dev/fuse exists, fusermount is installed and the mount path is writable.",
		ErrCodeMountTimeout: "The mount did not answer statfs queries in time. " +
			"Increase the readiness attempts or delay in the configuration.",
		ErrCodeUnmountFailed: "The mount is probably busy. " +
			"Close open files below the mount path and retry, or use fusermount -uz.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}

// UserFacingMessage returns a simplified message suitable for end users
func (e *FakerError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred."
	}

	messages := map[ErrorCode]string{
		ErrCodePrivilegedCaller: "Refusing to run with root privileges",
		ErrCodeAlreadyMounted:   "Mount path is already in use",
		ErrCodeMountFailed:      "Failed to mount filesystem",
		ErrCodeMountTimeout:     "Mount did not become ready in time",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}

	return e.Message
}

// DetailedDiagnostic returns a comprehensive diagnostic message
func (e *FakerError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.UserFacingMessage()))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for k, v := range e.Context {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, v))
		}
	}

	if len(e.Details) > 0 {
		parts = append(parts, "\nDetails:")
		for k, v := range e.Details {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, v))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}
