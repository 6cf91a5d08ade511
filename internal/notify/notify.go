// Package notify delivers the cycle's dispatch candidate to the user over
// email and webhook.
//
// Both channels are always attempted, each under its own deadline. A channel
// outcome is one of sent, skipped (with a reason) or failed (with the
// delivery error); no outcome ever fails the evaluation cycle.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/alerts"
)

// Channel names.
const (
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"
)

// Status of one channel's delivery attempt.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Skip reasons.
const (
	ReasonNoCandidate   = "no candidate"
	ReasonNotConfigured = "not configured"
	ReasonRateLimited   = "rate limited"
	ReasonCircuitOpen   = "circuit open"
	ReasonCooldown      = "cooldown"
)

// Outcome is the result of one channel for one cycle.
type Outcome struct {
	Status Status
	Reason string
	Err    error
}

func sent() Outcome { return Outcome{Status: StatusSent} }

func skipped(reason string) Outcome { return Outcome{Status: StatusSkipped, Reason: reason} }

func failed(channel string, err error) Outcome {
	return Outcome{Status: StatusFailed, Err: &ChannelDeliveryError{Channel: channel, Err: err}}
}

// MarshalJSON renders the error as its message.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := struct {
		Status Status `json:"status"`
		Reason string `json:"reason,omitempty"`
		Error  string `json:"error,omitempty"`
	}{Status: o.Status, Reason: o.Reason}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// Result holds both channel outcomes for one dispatch.
type Result struct {
	Email   Outcome `json:"email"`
	Webhook Outcome `json:"webhook"`
}

// ChannelDeliveryError wraps a channel's send failure.
type ChannelDeliveryError struct {
	Channel string
	Err     error
}

func (e *ChannelDeliveryError) Error() string {
	return fmt.Sprintf("notify: %s delivery failed: %v", e.Channel, e.Err)
}

func (e *ChannelDeliveryError) Unwrap() error { return e.Err }

// Channel is a notification transport.
type Channel interface {
	Name() string
	// Configured reports whether the channel can reach u at all.
	Configured(u *account.User) bool
	Send(ctx context.Context, u *account.User, a *alerts.Alert) error
}
