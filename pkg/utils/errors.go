package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrPageLoadTimeout        = errors.New("page load timed out")                        // Partial document still usable
	ErrStructuralMismatch     = errors.New("required element missing or malformed")      // Triggers a bounded retry
	ErrExtractionExhausted    = errors.New("extraction failed after all attempts")       // Wraps the last underlying error
	ErrIdentifierUnresolvable = errors.New("entity identifier could not be resolved")    // Row dropped or field absent
	ErrDuplicateKey           = errors.New("duplicate key detected")                     // Later row discarded
	ErrJoinKeyMissing         = errors.New("join key missing from dataset")              // Row omitted from merge
	ErrNavigation             = errors.New("navigation failed")                          // Transient, retried
	ErrClientHTTPError        = errors.New("client HTTP error (4xx)")                    // Wraps original status
	ErrServerHTTPError        = errors.New("server HTTP error (5xx)")                    // Wraps original status
	ErrOtherHTTPError         = errors.New("other HTTP error (non-2xx)")                 // Wraps original status
	ErrParsing                = errors.New("parsing error")                              // HTML, URL, JSON
	ErrFilesystem             = errors.New("filesystem error")                           // Wraps os errors
	ErrDatabase               = errors.New("database error")                             // Wraps badger / sqlite errors
	ErrRequestCreation        = errors.New("failed to create HTTP request")
	ErrResponseBodyRead       = errors.New("failed to read response body")
	ErrConfigValidation       = errors.New("configuration validation error")
)

// IsTransient reports whether a failed page acquisition is worth another attempt.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrStructuralMismatch),
		errors.Is(err, ErrNavigation),
		errors.Is(err, ErrServerHTTPError),
		errors.Is(err, ErrPageLoadTimeout),
		errors.Is(err, ErrResponseBodyRead):
		return true
	case errors.Is(err, ErrClientHTTPError):
		return strings.Contains(err.Error(), " 429 ")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// CategorizeError maps an error to a predefined category string for unit state and summaries.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrExtractionExhausted):
		switch {
		case errors.Is(err, ErrStructuralMismatch):
			return "Exhausted_StructuralMismatch"
		case errors.Is(err, ErrServerHTTPError):
			return "Exhausted_HTTPServer"
		case errors.Is(err, ErrClientHTTPError):
			return "Exhausted_HTTPClient"
		case errors.Is(err, ErrPageLoadTimeout):
			return "Exhausted_EmptyAfterTimeout"
		case errors.Is(err, ErrNavigation):
			return "Exhausted_Navigation"
		}
		return "Exhausted_Unknown"
	case errors.Is(err, ErrStructuralMismatch):
		return "Content_StructuralMismatch"
	case errors.Is(err, ErrIdentifierUnresolvable):
		return "Content_IdentifierUnresolvable"
	case errors.Is(err, ErrDuplicateKey):
		return "Integrity_DuplicateKey"
	case errors.Is(err, ErrJoinKeyMissing):
		return "Integrity_JoinKeyMissing"
	case errors.Is(err, ErrPageLoadTimeout):
		return "Page_LoadTimeout"
	case errors.Is(err, ErrNavigation):
		return "Page_Navigation"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		for _, code := range []string{"404", "403", "401", "429"} {
			if strings.Contains(errMsg, " "+code+" ") {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
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
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
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
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	}

	return "Unknown"
}
