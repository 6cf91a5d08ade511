package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/cryptoguard/internal/account"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupMiddlewareTest(t *testing.T, plan account.Plan) (*Manager, *account.MemoryStore, string) {
	t.Helper()
	ctx := context.Background()
	users := account.NewMemoryStore()
	u := account.NewUser("usr_1", "Lead", "lead@cryptoguard.dev", plan, time.Now())
	if err := users.Create(ctx, u); err != nil {
		t.Fatal(err)
	}
	mgr := NewManager(NewMemoryStore())
	rawKey, _, err := mgr.GenerateKey(ctx, u.ID, "test-key")
	if err != nil {
		t.Fatal(err)
	}
	return mgr, users, rawKey
}

func newContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(method, target, nil)
	return c, w
}

// --- Middleware() ---

func TestMiddleware_ValidKey_SetsContext(t *testing.T) {
	mgr, users, rawKey := setupMiddlewareTest(t, account.PlanPro)

	c, _ := newContext("GET", "/test")
	c.Request.Header.Set("Authorization", "Bearer "+rawKey)

	Middleware(mgr, users)(c)

	u, ok := GetUser(c)
	if !ok {
		t.Fatal("Expected user to be set in context")
	}
	if u.ID != "usr_1" {
		t.Errorf("Expected usr_1, got %s", u.ID)
	}
	key, ok := GetAPIKey(c)
	if !ok || key.Name != "test-key" {
		t.Errorf("Expected API key 'test-key' in context, got %+v", key)
	}
}

func TestMiddleware_ValidKeyViaXAPIKey(t *testing.T) {
	mgr, users, rawKey := setupMiddlewareTest(t, account.PlanPro)

	c, _ := newContext("GET", "/test")
	c.Request.Header.Set("X-API-Key", rawKey)

	Middleware(mgr, users)(c)

	if !IsAuthenticated(c) {
		t.Error("Expected user set via X-API-Key header")
	}
}

func TestMiddleware_QueryTokenOnlyForWebsocket(t *testing.T) {
	mgr, users, rawKey := setupMiddlewareTest(t, account.PlanPro)

	c, _ := newContext("GET", "/ws?token="+rawKey)
	Middleware(mgr, users)(c)
	if IsAuthenticated(c) {
		t.Error("Query token must be ignored on plain requests")
	}

	c, _ = newContext("GET", "/ws?token="+rawKey)
	c.Request.Header.Set("Upgrade", "websocket")
	Middleware(mgr, users)(c)
	if !IsAuthenticated(c) {
		t.Error("Expected query token to authenticate a websocket upgrade")
	}
}

func TestMiddleware_InvalidKey_DoesNotAbort(t *testing.T) {
	mgr, users, _ := setupMiddlewareTest(t, account.PlanPro)

	c, _ := newContext("GET", "/test")
	c.Request.Header.Set("Authorization", "sk_invalidkey000000000000000000000000000000000000000000000000000000")

	Middleware(mgr, users)(c)

	if IsAuthenticated(c) {
		t.Error("Invalid key must not authenticate")
	}
	if c.IsAborted() {
		t.Error("Middleware should pass through, not abort")
	}
}

func TestMiddleware_KeyForDeletedUser(t *testing.T) {
	mgr, _, rawKey := setupMiddlewareTest(t, account.PlanPro)

	c, _ := newContext("GET", "/test")
	c.Request.Header.Set("Authorization", rawKey)

	Middleware(mgr, account.NewMemoryStore())(c)

	if IsAuthenticated(c) {
		t.Error("Key whose user no longer exists must not authenticate")
	}
}

func TestMiddleware_MissingHeader_PassesThrough(t *testing.T) {
	mgr, users, _ := setupMiddlewareTest(t, account.PlanPro)

	c, _ := newContext("GET", "/test")
	Middleware(mgr, users)(c)

	if IsAuthenticated(c) || c.IsAborted() {
		t.Error("Expected unauthenticated pass-through")
	}
}

// --- RequireAuth() ---

func TestRequireAuth_NoAuth_Returns401(t *testing.T) {
	c, w := newContext("GET", "/v1/wallets/overview")

	RequireAuth()(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["error"] != "unauthorized" {
		t.Errorf("Expected error envelope, got %v", body)
	}
}

func TestRequireAuth_WithAuth_Passes(t *testing.T) {
	c, _ := newContext("GET", "/v1/wallets/overview")
	c.Set(ContextKeyUser, &account.User{ID: "usr_1"})

	RequireAuth()(c)

	if c.IsAborted() {
		t.Error("Expected authenticated request to pass")
	}
}

// --- RequireAdmin() ---

func TestRequireAdmin_EnterpriseUserPasses(t *testing.T) {
	c, _ := newContext("GET", "/v1/admin/overview")
	c.Set(ContextKeyUser, &account.User{ID: "usr_1", Role: "enterprise"})

	RequireAdmin("")(c)

	if c.IsAborted() {
		t.Error("Expected enterprise user to pass")
	}
}

func TestRequireAdmin_ProUserForbidden(t *testing.T) {
	c, w := newContext("GET", "/v1/admin/overview")
	c.Set(ContextKeyUser, &account.User{ID: "usr_1", Role: "pro"})

	RequireAdmin("")(c)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", w.Code)
	}
}

func TestRequireAdmin_Unauthenticated(t *testing.T) {
	c, w := newContext("GET", "/v1/admin/overview")

	RequireAdmin("supersecret123")(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without auth or secret, got %d", w.Code)
	}
}

func TestRequireAdmin_CorrectSecret(t *testing.T) {
	c, _ := newContext("GET", "/v1/admin/overview")
	c.Request.Header.Set(AdminSecretHeader, "supersecret123")

	RequireAdmin("supersecret123")(c)

	if c.IsAborted() {
		t.Error("Expected correct admin secret to pass")
	}
}

func TestRequireAdmin_WrongSecret(t *testing.T) {
	c, w := newContext("GET", "/v1/admin/overview")
	c.Request.Header.Set(AdminSecretHeader, "wrongsecret")
	c.Set(ContextKeyUser, &account.User{ID: "usr_1", Role: "enterprise"})

	RequireAdmin("supersecret123")(c)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for wrong secret, got %d", w.Code)
	}
}

func TestRequireAdmin_SecretIgnoredWhenUnset(t *testing.T) {
	c, w := newContext("GET", "/v1/admin/overview")
	c.Request.Header.Set(AdminSecretHeader, "anything")

	RequireAdmin("")(c)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 when no secret is configured, got %d", w.Code)
	}
}

// --- Handlers ---

func newRouter(h *Handler, mgr *Manager, users account.Store) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(mgr, users))
	r.GET("/v1/auth/info", h.Info)
	r.POST("/v1/auth/users", h.CreateUser)
	me := r.Group("/v1/auth", RequireAuth())
	me.GET("/me", h.Me)
	me.GET("/keys", h.ListKeys)
	me.POST("/keys", h.CreateKey)
	me.DELETE("/keys/:keyId", h.RevokeKey)
	return r
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateUser_OpenSignup(t *testing.T) {
	users := account.NewMemoryStore()
	mgr := NewManager(NewMemoryStore())
	r := newRouter(NewHandler(mgr, users, true, ""), mgr, users)

	w := do(r, "POST", "/v1/auth/users", `{"email":"Ops@Example.com","plan":"pro"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		User   account.User `json:"user"`
		APIKey string       `json:"apiKey"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.User.Email != "ops@example.com" || resp.User.Plan != account.PlanPro || resp.User.Name != "ops" {
		t.Errorf("Unexpected user %+v", resp.User)
	}

	// The issued key authenticates.
	w = do(r, "GET", "/v1/auth/me", "", map[string]string{"Authorization": "Bearer " + resp.APIKey})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /me, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"maxWallets":10`) {
		t.Errorf("Expected plan limits in /me, got %s", w.Body.String())
	}

	w = do(r, "POST", "/v1/auth/users", `{"email":"ops@example.com"}`, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", w.Code)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	users := account.NewMemoryStore()
	mgr := NewManager(NewMemoryStore())
	r := newRouter(NewHandler(mgr, users, true, ""), mgr, users)

	tests := []struct {
		body string
		code int
	}{
		{`{"email":""}`, http.StatusBadRequest},
		{`{"email":"not-an-email"}`, http.StatusBadRequest},
		{`{"email":"a@b.com\r\nBcc: x@y.z"}`, http.StatusBadRequest},
		{`{"email":"a@b c.com"}`, http.StatusBadRequest},
		{`{"email":"Ops <ops@example.com>"}`, http.StatusBadRequest},
		{`{"email":"a@localhost"}`, http.StatusBadRequest},
		{`{"email":"a@b.io","plan":"platinum"}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tc := range tests {
		w := do(r, "POST", "/v1/auth/users", tc.body, nil)
		if w.Code != tc.code {
			t.Errorf("POST %s = %d, want %d", tc.body, w.Code, tc.code)
		}
	}

	all, err := users.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("Expected no users stored for rejected emails, got %d", len(all))
	}
}

func TestCreateUser_ClosedSignup(t *testing.T) {
	users := account.NewMemoryStore()
	mgr := NewManager(NewMemoryStore())
	r := newRouter(NewHandler(mgr, users, false, "supersecret123"), mgr, users)

	w := do(r, "POST", "/v1/auth/users", `{"email":"a@b.io"}`, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without secret, got %d", w.Code)
	}

	w = do(r, "POST", "/v1/auth/users", `{"email":"a@b.io"}`, map[string]string{AdminSecretHeader: "supersecret123"})
	if w.Code != http.StatusCreated {
		t.Errorf("Expected 201 with secret, got %d", w.Code)
	}
}

func TestKeyLifecycle(t *testing.T) {
	mgr, users, rawKey := setupMiddlewareTest(t, account.PlanFree)
	r := newRouter(NewHandler(mgr, users, false, ""), mgr, users)
	auth := map[string]string{"Authorization": "Bearer " + rawKey}

	w := do(r, "POST", "/v1/auth/keys", `{"name":"ci"}`, auth)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	var created struct {
		KeyID string `json:"keyId"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = do(r, "GET", "/v1/auth/keys", "", auth)
	if !strings.Contains(w.Body.String(), `"count":2`) {
		t.Errorf("Expected 2 keys, got %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "hash") {
		t.Error("Key listing must not expose hashes")
	}

	w = do(r, "DELETE", "/v1/auth/keys/"+created.KeyID, "", auth)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 revoking, got %d", w.Code)
	}

	key, _ := mgr.ValidateKey(context.Background(), rawKey)
	w = do(r, "DELETE", "/v1/auth/keys/"+key.ID, "", auth)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 revoking current key, got %d", w.Code)
	}
}
