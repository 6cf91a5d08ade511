package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// HandleSupportedNetworks lists the supported blockchains.
func (h *Handlers) HandleSupportedNetworks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.SupportedNetworks(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list networks: %v", err)), nil
	}

	var resp struct {
		Blockchains []string `json:"blockchains"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse networks: %v", err)), nil
	}
	return mcp.NewToolResultText("Supported blockchains: " + strings.Join(resp.Blockchains, ", ")), nil
}

// HandleWalletOverview returns the dashboard summary.
func (h *Handlers) HandleWalletOverview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Overview(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load overview: %v", err)), nil
	}

	text, err := formatOverview(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse overview: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCheckAlerts runs a monitoring cycle.
func (h *Handlers) HandleCheckAlerts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.CheckAlerts(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check alerts: %v", err)), nil
	}

	var resp struct {
		Alerts        []map[string]any `json:"alerts"`
		FailedWallets []string         `json:"failedWallets"`
		Dispatch      map[string]any   `json:"dispatch"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse alerts: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(formatAlerts(resp.Alerts))
	if len(resp.FailedWallets) > 0 {
		fmt.Fprintf(&sb, "\nCould not refresh: %s\n", strings.Join(resp.FailedWallets, ", "))
	}
	if resp.Dispatch != nil {
		sb.WriteString("\nNotifications:\n")
		for _, ch := range []string{"email", "webhook"} {
			if o, ok := resp.Dispatch[ch].(map[string]any); ok {
				sb.WriteString(fmt.Sprintf("  %s: %s\n", ch, formatOutcome(o)))
			}
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleAlertHistory pages through stored alerts.
func (h *Handlers) HandleAlertHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 0)
	cursor := req.GetString("cursor", "")

	raw, err := h.client.AlertHistory(ctx, limit, cursor)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load alert history: %v", err)), nil
	}

	var resp struct {
		Alerts     []map[string]any `json:"alerts"`
		NextCursor string           `json:"next_cursor"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse alert history: %v", err)), nil
	}

	text := formatAlerts(resp.Alerts)
	if resp.NextCursor != "" {
		text += fmt.Sprintf("\nMore alerts available. Next cursor: %s\n", resp.NextCursor)
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListTransactions lists a wallet's transactions.
func (h *Handlers) HandleListTransactions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	walletID := req.GetString("wallet_id", "")
	if walletID == "" {
		return mcp.NewToolResultError("wallet_id is required"), nil
	}
	limit := req.GetInt("limit", 0)

	raw, err := h.client.Transactions(ctx, walletID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
	}

	text, err := formatTransactions(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse transactions: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleReportAccessFailure records a failed access attempt.
func (h *Handlers) HandleReportAccessFailure(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	walletID := req.GetString("wallet_id", "")
	if walletID == "" {
		return mcp.NewToolResultError("wallet_id is required"), nil
	}

	raw, err := h.client.ReportAccessFailure(ctx, walletID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record access failure: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	n, _ := getFloat(m, "failedAttempts")
	return mcp.NewToolResultText(fmt.Sprintf(
		"Recorded failed access on %s. Failed attempts: %.0f", walletID, n)), nil
}

// HandleSendTestNotification sends a test notification.
func (h *Handlers) HandleSendTestNotification(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")

	raw, err := h.client.SendTestNotification(ctx, message)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to send test notification: %v", err)), nil
	}

	var resp struct {
		Message string                    `json:"message"`
		Result  map[string]map[string]any `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(resp.Message + "\n")
	for _, ch := range []string{"email", "webhook"} {
		if o, ok := resp.Result[ch]; ok {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", ch, formatOutcome(o)))
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func formatOverview(raw json.RawMessage) (string, error) {
	var resp struct {
		Summary         map[string]any   `json:"summary"`
		Wallets         []map[string]any `json:"wallets"`
		GeneratedAlerts []map[string]any `json:"generatedAlerts"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Portfolio:\n")
	sb.WriteString(fmt.Sprintf("  Wallets: %s\n", getString(resp.Summary, "totalWallets")))
	sb.WriteString(fmt.Sprintf("  Total value: $%s\n", getString(resp.Summary, "totalUsd")))
	sb.WriteString(fmt.Sprintf("  Avg health: %s/100\n", getString(resp.Summary, "avgHealthScore")))

	if len(resp.Wallets) > 0 {
		sb.WriteString("\nWallets:\n")
		for i, w := range resp.Wallets {
			sb.WriteString(fmt.Sprintf("%d. %s [%s] %s\n", i+1,
				getString(w, "label"), getString(w, "blockchain"), getString(w, "id")))
			sb.WriteString(fmt.Sprintf("   Balance: %s %s ($%s), health %s\n",
				getString(w, "balance"), getString(w, "currency"),
				getString(w, "usdValue"), getString(w, "healthScore")))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(formatAlerts(resp.GeneratedAlerts))
	return sb.String(), nil
}

func formatAlerts(list []map[string]any) string {
	if len(list) == 0 {
		return "No alerts."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d alert(s):\n", len(list)))
	for i, a := range list {
		sev := strings.ToUpper(getString(a, "severity"))
		sb.WriteString(fmt.Sprintf("%d. [%s] %s on %s\n", i+1, sev, getString(a, "type"), getString(a, "walletId")))
		if d := getString(a, "detail"); d != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", d))
		}
	}
	return sb.String()
}

func formatTransactions(raw json.RawMessage) (string, error) {
	var resp struct {
		Wallet       map[string]any   `json:"wallet"`
		Transactions []map[string]any `json:"transactions"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	label := getString(resp.Wallet, "label", "id")
	if len(resp.Transactions) == 0 {
		return fmt.Sprintf("No transactions for %s.", label), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d transaction(s) for %s:\n\n", len(resp.Transactions), label))
	for i, tx := range resp.Transactions {
		arrow := "->"
		if getString(tx, "direction") == "incoming" {
			arrow = "<-"
		}
		sb.WriteString(fmt.Sprintf("%d. %s %s %s %s (%s, risk %s)\n", i+1,
			getString(tx, "timestamp"), arrow,
			getString(tx, "amount"), getString(tx, "currency"),
			getString(tx, "status"), getString(tx, "risk")))
		sb.WriteString(fmt.Sprintf("   counterparty %s\n", getString(tx, "counterparty")))
	}
	return sb.String(), nil
}

func formatOutcome(o map[string]any) string {
	s := getString(o, "status")
	if r := getString(o, "reason"); r != "" {
		s += " (" + r + ")"
	}
	if e := getString(o, "error"); e != "" {
		s += ": " + e
	}
	return s
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
