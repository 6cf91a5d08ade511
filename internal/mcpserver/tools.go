package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the CryptoGuard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolSupportedNetworks = mcp.NewTool("supported_networks",
	mcp.WithDescription("List the blockchains CryptoGuard can monitor wallets on."),
)

var ToolWalletOverview = mcp.NewTool("wallet_overview",
	mcp.WithDescription(
		"Summarize the monitored wallets: total USD value, average health score, "+
			"each wallet's balance and the alerts the risk rules currently raise. "+
			"Read-only: this never sends notifications."),
)

var ToolCheckAlerts = mcp.NewTool("check_alerts",
	mcp.WithDescription(
		"Run a full monitoring cycle over every wallet and return stored plus newly detected alerts. "+
			"If a high severity alert is found the user is notified by email and webhook, "+
			"so prefer wallet_overview when you only need to look."),
)

var ToolAlertHistory = mcp.NewTool("alert_history",
	mcp.WithDescription("Page through stored alerts for the monitored wallets, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum alerts to return (default 50, max 200)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous alert_history call to fetch the next page")),
)

var ToolListTransactions = mcp.NewTool("list_transactions",
	mcp.WithDescription("List a wallet's recent transactions, newest first."),
	mcp.WithString("wallet_id",
		mcp.Required(),
		mcp.Description("The wallet ID (e.g. 'wal_...')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum transactions to return (default 25, max 100)")),
)

var ToolReportAccessFailure = mcp.NewTool("report_access_failure",
	mcp.WithDescription(
		"Record a failed access attempt against a wallet. "+
			"Three or more failures raise a repeated_failures alert on the next cycle."),
	mcp.WithString("wallet_id",
		mcp.Required(),
		mcp.Description("The wallet ID (e.g. 'wal_...')")),
)

var ToolSendTestNotification = mcp.NewTool("send_test_notification",
	mcp.WithDescription("Send a test notification through every configured channel and report each outcome."),
	mcp.WithString("message",
		mcp.Description("Text to include in the notification")),
)
