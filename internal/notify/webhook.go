package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
	"github.com/mbd888/cryptoguard/internal/security"
)

// Webhook headers.
const (
	HeaderEvent     = "X-CryptoGuard-Event"
	HeaderTimestamp = "X-CryptoGuard-Timestamp"
	HeaderSignature = "X-CryptoGuard-Signature"
)

// WebhookPayload is the JSON body posted for each alert.
type WebhookPayload struct {
	UserID string        `json:"userId"`
	Alert  *alerts.Alert `json:"alert"`
}

// WebhookChannel posts alerts to a single configured URL.
type WebhookChannel struct {
	url          string
	secret       string
	client       *http.Client
	urlValidator func(string) error
	now          func() time.Time
}

// NewWebhookChannel creates a webhook channel. An empty url leaves the
// channel unconfigured. When secret is set the body is signed with
// HMAC-SHA256.
func NewWebhookChannel(url, secret string) *WebhookChannel {
	return &WebhookChannel{
		url:          url,
		secret:       secret,
		client:       &http.Client{Timeout: 10 * time.Second},
		urlValidator: security.ValidateEndpointURL,
		now:          time.Now,
	}
}

func (w *WebhookChannel) Name() string { return ChannelWebhook }

func (w *WebhookChannel) Configured(_ *account.User) bool { return w.url != "" }

func (w *WebhookChannel) Send(ctx context.Context, u *account.User, a *alerts.Alert) error {
	if err := w.urlValidator(w.url); err != nil {
		return fmt.Errorf("webhook url rejected: %w", err)
	}

	payload, err := json.Marshal(WebhookPayload{UserID: u.ID, Alert: a})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, "alert."+string(a.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(w.now().Unix(), 10))
	if w.secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
