// Package validation provides input validation helpers and middleware for the
// CryptoGuard API.
package validation

import (
	"bytes"
	"crypto/sha256"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"

	"github.com/mbd888/cryptoguard/internal/wallet"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

// MaxLabelLength bounds wallet labels.
const MaxLabelLength = 120

var (
	bech32Regex   = regexp.MustCompile(`^bc1[a-z0-9]{25,87}$`)
	resourceRegex = regexp.MustCompile(`^[a-z]+_[a-zA-Z0-9]{1,64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEthAddress checks for a 0x-prefixed 20 byte hex address.
func IsValidEthAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}

// IsValidSolAddress checks for a base58 encoded 32 byte public key.
func IsValidSolAddress(addr string) bool {
	raw, err := base58.Decode(addr)
	return err == nil && len(raw) == 32
}

// IsValidBtcAddress accepts legacy/P2SH base58check addresses and bech32
// mainnet addresses.
func IsValidBtcAddress(addr string) bool {
	if bech32Regex.MatchString(addr) {
		return true
	}
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 25 {
		return false
	}
	first := sha256.Sum256(raw[:21])
	second := sha256.Sum256(first[:])
	return bytes.Equal(second[:4], raw[21:])
}

// IsValidAddress checks addr against the format of network n.
func IsValidAddress(n wallet.Network, addr string) bool {
	switch n {
	case wallet.NetworkETH:
		return IsValidEthAddress(addr)
	case wallet.NetworkSOL:
		return IsValidSolAddress(addr)
	case wallet.NetworkBTC:
		return IsValidBtcAddress(addr)
	default:
		return false
	}
}

// SanitizeString removes dangerous characters and limits s to maxLen bytes,
// cutting on a rune boundary.
func SanitizeString(s string, maxLen int) string {
	s = strings.ReplaceAll(strings.TrimSpace(s), "\x00", "")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SanitizeAddress trims whitespace and, for ETH, lowercases the address and
// adds a missing 0x prefix. Base58 addresses are case sensitive and are
// left alone.
func SanitizeAddress(n wallet.Network, addr string) string {
	addr = strings.TrimSpace(addr)
	if n != wallet.NetworkETH {
		return addr
	}
	addr = strings.ToLower(addr)
	if !strings.HasPrefix(addr, "0x") && len(addr) == 40 {
		addr = "0x" + addr
	}
	return addr
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
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
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

// SupportedNetwork checks value against the enabled networks.
func SupportedNetwork(field, value string, enabled wallet.Networks) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, err := enabled.Parse(value); err != nil {
			return &ValidationError{Field: field, Message: "unsupported blockchain"}
		}
		return nil
	}
}

// ValidAddress checks value against the address format of network. An
// unknown network is left to SupportedNetwork.
func ValidAddress(field, network, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		n, err := wallet.ParseNetwork(network)
		if err != nil {
			return nil
		}
		if !IsValidAddress(n, SanitizeAddress(n, value)) {
			return &ValidationError{Field: field, Message: "must be a valid " + string(n) + " address"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, limit int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > limit {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// IDParamMiddleware rejects malformed identifiers in the named URL param
// before they reach a store.
func IDParamMiddleware(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param(param)
		if id != "" && !resourceRegex.MatchString(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": param + " is malformed",
			})
			return
		}
		c.Next()
	}
}
