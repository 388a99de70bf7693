package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed        = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError    = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError    = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError     = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrScopeViolation     = errors.New("URL out of scope (origin/pattern)")
	ErrNonHTML            = errors.New("non-HTML content")
	ErrInvalidRootURL     = errors.New("invalid project root URL")
	ErrProjectLoad        = errors.New("failed to load projects")
	ErrBudgetUnderflow    = errors.New("resolve called with no pending requests")
	ErrParsing            = errors.New("parsing error")    // Wraps specific parsing error (HTML, URL, JSON, CSV)
	ErrFilesystem         = errors.New("filesystem error") // Wraps os errors
	ErrDatabase           = errors.New("database error")   // Wraps badger errors
	ErrSemaphoreTimeout   = errors.New("timeout acquiring semaphore")
	ErrRequestCreation    = errors.New("failed to create HTTP request")
	ErrResponseBodyRead   = errors.New("failed to read response body")
	ErrMarkdownConversion = errors.New("failed to convert HTML to markdown")
	ErrConfigValidation   = errors.New("configuration validation error")
	ErrSink               = errors.New("failed to emit project result")
)

// WrapErrorf prefixes err with a formatted message, keeping errors.Is working.
// Returns nil if err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

var statusInMessage = regexp.MustCompile(`status (\d{3})`)

// HTTPStatusFromError extracts the status code recorded in an HTTP sentinel error message.
// Returns 0 if none is present.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return 0
	}
	m := statusInMessage.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	code := 0
	for _, r := range m[1] {
		code = code*10 + int(r-'0')
	}
	return code
}

// CategorizeError maps an error to a predefined category string for logging and failure records.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		// The retry sentinel and the last attempt's error are siblings, so inspect err itself
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}

		errMsg := strings.TrimPrefix(err.Error(), ErrRetryFailed.Error())
		if strings.TrimLeft(errMsg, ": ") == "" {
			return "RetryFailed_Unknown"
		}
		if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "Timeout") || strings.Contains(errMsg, "deadline exceeded") {
			return "RetryFailed_NetworkTimeout"
		}
		if strings.Contains(errMsg, "connection refused") {
			return "RetryFailed_ConnectionRefused"
		}
		if strings.Contains(errMsg, "no such host") {
			return "RetryFailed_DNSLookup"
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "RetryFailed_NetworkTimeout"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrClientHTTPError):
		switch HTTPStatusFromError(err) {
		case 404:
			return "HTTP_404"
		case 403:
			return "HTTP_403"
		case 401:
			return "HTTP_401"
		case 410:
			return "HTTP_410"
		case 429:
			return "HTTP_429"
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrScopeViolation):
		return "Policy_Scope"
	case errors.Is(err, ErrNonHTML):
		return "Content_NonHTML"
	case errors.Is(err, ErrInvalidRootURL):
		return "Input_InvalidRootURL"
	case errors.Is(err, ErrProjectLoad):
		return "Input_ProjectLoad"
	case errors.Is(err, ErrBudgetUnderflow):
		return "Internal_BudgetUnderflow"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "HTML") {
			return "Content_ParsingHTML"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		if strings.Contains(errMsg, "CSV") {
			return "Content_ParsingCSV"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrMarkdownConversion):
		return "Content_Markdown"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		if errors.Is(err, os.ErrExist) {
			return "Filesystem_Exist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrSink):
		return "Output_Sink"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	// --- Fallback checks for common underlying error types/strings ---
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if strings.Contains(err.Error(), "semaphore") {
			return "Resource_SemaphoreTimeout"
		}
		return "System_ContextDeadlineExceeded"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Network_Timeout"
	}
	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "broken pipe"):
		return "Network_BrokenPipe"
	}

	return "Unknown"
}
