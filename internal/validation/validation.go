// Package validation provides input validation middleware for the commerce API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// Provider-accepted charge bounds in minor units (EUR/USD cents).
const (
	MinChargeMinor int64 = 50       // 0.50
	MaxChargeMinor int64 = 99999999 // 999,999.99
)

var (
	// itemIDRegex matches the canonical catalog item identifier shape.
	// Checked before any lookup so malformed input is rejected cheaply.
	itemIDRegex = regexp.MustCompile(`^pdf-[a-z0-9][a-z0-9-]{0,62}$`)
	// emailRegex is a pragmatic (not RFC-complete) email shape check
	emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	// currencyRegex matches ISO 4217 alpha codes
	currencyRegex = regexp.MustCompile(`^[A-Za-z]{3}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidItemID checks if a string matches the canonical catalog item ID shape
func IsValidItemID(id string) bool {
	return itemIDRegex.MatchString(id)
}

// IsValidEmail checks if a string looks like an email address
func IsValidEmail(s string) bool {
	return len(s) <= 254 && emailRegex.MatchString(s)
}

// IsValidCurrency checks if a string is a 3-letter currency code
func IsValidCurrency(s string) bool {
	return currencyRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidItemID checks if a field matches the canonical catalog item ID shape
func ValidItemID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidItemID(value) {
			return &ValidationError{Field: field, Message: "must match pdf-<slug> (lowercase letters, digits, dashes)"}
		}
		return nil
	}
}

// ValidEmail checks if a field looks like an email address
func ValidEmail(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidEmail(value) {
			return &ValidationError{Field: field, Message: "must be a valid email address"}
		}
		return nil
	}
}

// ValidCurrency checks if a field is a 3-letter ISO 4217 currency code
func ValidCurrency(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !IsValidCurrency(value) {
			return &ValidationError{Field: field, Message: "must be a 3-letter ISO 4217 code"}
		}
		return nil
	}
}

// ValidURL checks if a field is an absolute http(s) URL
func ValidURL(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return &ValidationError{Field: field, Message: "must be an absolute http(s) URL"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ItemIDParamMiddleware validates the :id URL parameter on catalog routes.
// Apply to route groups that include :id params to reject malformed IDs early.
func ItemIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidItemID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_item_id",
				"details": "id must match pdf-<slug> (lowercase letters, digits, dashes)",
			})
			return
		}
		c.Next()
	}
}

// MinorUnits converts a decimal price string (e.g. "9.99") to integer minor
// units ("999"). Only two fractional digits are accepted; the parse avoids
// float arithmetic so 9.99 never becomes 998.
func MinorUnits(price string) (int64, *ValidationError) {
	bad := &ValidationError{Field: "price", Message: "invalid amount format"}

	whole, frac, _ := strings.Cut(price, ".")
	if whole == "" || len(frac) > 2 {
		return 0, bad
	}
	if len(whole) > 10 {
		return 0, &ValidationError{Field: "price", Message: "amount too large"}
	}

	var minor int64
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, bad
		}
		minor = minor*10 + int64(c-'0')
	}
	minor *= 100

	// Right-pad the fraction: "5" means 50 cents, not 5.
	frac += strings.Repeat("0", 2-len(frac))
	for i, c := range frac {
		if c < '0' || c > '9' {
			return 0, bad
		}
		if i == 0 {
			minor += int64(c-'0') * 10
		} else {
			minor += int64(c - '0')
		}
	}

	return minor, nil
}

// ValidChargeAmount checks a decimal price against provider-accepted bounds.
func ValidChargeAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		minor, verr := MinorUnits(value)
		if verr != nil {
			return &ValidationError{Field: field, Message: verr.Message}
		}
		if minor < MinChargeMinor {
			return &ValidationError{Field: field, Message: "amount below provider minimum (0.50)"}
		}
		if minor > MaxChargeMinor {
			return &ValidationError{Field: field, Message: "amount above provider maximum (999,999.99)"}
		}
		return nil
	}
}
