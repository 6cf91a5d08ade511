package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/idgen"
	"github.com/mbd888/cryptoguard/internal/logging"
	"github.com/mbd888/cryptoguard/internal/validation"
)

// Handler provides HTTP endpoints for users and their API keys
type Handler struct {
	manager     *Manager
	users       account.Store
	openSignup  bool
	adminSecret string
}

// NewHandler creates a new auth handler. openSignup lets anyone create a
// user (demo mode); otherwise the admin secret or an enterprise key is
// required.
func NewHandler(m *Manager, users account.Store, openSignup bool, adminSecret string) *Handler {
	return &Handler{manager: m, users: users, openSignup: openSignup, adminSecret: adminSecret}
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":       "api_key",
		"header":     "Authorization: Bearer sk_...",
		"altHeader":  "X-API-Key: sk_...",
		"websocket":  "/ws?token=sk_...",
		"note":       "API key is returned when the user is created. Store it securely.",
		"openSignup": h.openSignup,
	})
}

// CreateUserRequest is the body of POST /v1/auth/users.
type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Plan  string `json:"plan"`
}

// CreateUser registers a user and issues their first API key.
func (h *Handler) CreateUser(c *gin.Context) {
	if !h.mayCreateUsers(c) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "User creation requires the admin secret.",
		})
		return
	}

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid JSON body"})
		return
	}
	req.Email = validation.SanitizeString(req.Email, 254)
	req.Name = validation.SanitizeString(req.Name, validation.MaxLabelLength)

	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validEmail("email", req.Email),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "message": errs.Error(), "details": errs})
		return
	}
	plan, err := account.ParsePlan(req.Plan)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_plan", "message": "plan must be free, pro or enterprise"})
		return
	}

	ctx := c.Request.Context()
	u := account.NewUser(idgen.WithPrefix(idgen.PrefixUser), req.Name, req.Email, plan, time.Now())
	if err := h.users.Create(ctx, u); err != nil {
		if errors.Is(err, account.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken", "message": "A user with this email already exists"})
			return
		}
		logging.L(ctx).Error("create user failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to create user"})
		return
	}

	rawKey, key, err := h.manager.GenerateKey(ctx, u.ID, "Primary key")
	if err != nil {
		logging.L(ctx).Error("issue api key failed", "user_id", u.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to create API key"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":    u,
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

func (h *Handler) mayCreateUsers(c *gin.Context) bool {
	if h.openSignup {
		return true
	}
	if u, ok := GetUser(c); ok && u.IsAdmin() {
		return true
	}
	given := c.GetHeader(AdminSecretHeader)
	return h.adminSecret != "" && given != "" &&
		subtle.ConstantTimeCompare([]byte(given), []byte(h.adminSecret)) == 1
}

func validEmail(field, value string) func() *validation.ValidationError {
	return func() *validation.ValidationError {
		if value == "" {
			return nil
		}
		invalid := &validation.ValidationError{Field: field, Message: "must be an email address"}
		if strings.ContainsFunc(value, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) {
			return invalid
		}
		// A bare address only: no display name, no angle brackets.
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Name != "" || addr.Address != value {
			return invalid
		}
		_, domain, _ := strings.Cut(addr.Address, "@")
		if !strings.Contains(domain, ".") {
			return invalid
		}
		return nil
	}
}

// Me returns the authenticated user and their plan limits.
func (h *Handler) Me(c *gin.Context) {
	u, ok := GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	key, _ := GetAPIKey(c)

	resp := gin.H{
		"user":   u,
		"limits": account.ConfigFor(u.Plan),
	}
	if key != nil {
		resp["keyId"] = key.ID
		resp["keyName"] = key.Name
	}
	c.JSON(http.StatusOK, resp)
}

// ListKeys returns API keys for the authenticated user
func (h *Handler) ListKeys(c *gin.Context) {
	u, ok := GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keys, err := h.manager.ListKeys(c.Request.Context(), u.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list keys",
		})
		return
	}

	// Don't expose hashes
	safeKeys := make([]gin.H, len(keys))
	for i, k := range keys {
		safeKeys[i] = gin.H{
			"id":        k.ID,
			"name":      k.Name,
			"createdAt": k.CreatedAt,
			"lastUsed":  k.LastUsed,
			"revoked":   k.Revoked,
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"keys":  safeKeys,
		"count": len(safeKeys),
	})
}

// CreateKeyRequest is the request body for creating a key
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// CreateKey creates a new API key
func (h *Handler) CreateKey(c *gin.Context) {
	u, ok := GetUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req CreateKeyRequest
	_ = c.ShouldBindJSON(&req)
	if req.Name == "" {
		req.Name = "Additional key"
	}

	rawKey, newKey, err := h.manager.GenerateKey(c.Request.Context(), u.ID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "failed to create key",
			"message": "Failed to create API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  rawKey,
		"keyId":   newKey.ID,
		"name":    newKey.Name,
		"warning": "Store this key securely. It will not be shown again.",
	})
}

// RevokeKey revokes an API key
func (h *Handler) RevokeKey(c *gin.Context) {
	key, ok := GetAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	keyID := c.Param("keyId")

	// Prevent revoking current key
	if keyID == key.ID {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "cannot_revoke_current",
			"message": "Cannot revoke the key you're using",
		})
		return
	}

	if err := h.manager.RevokeKey(c.Request.Context(), keyID, key.UserID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "key_not_found",
			"message": "Key not found or already revoked",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Key revoked",
		"keyId":   keyID,
	})
}
