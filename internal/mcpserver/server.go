package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all CryptoGuard tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("cryptoguard", "1.0.0")
	client := NewClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolSupportedNetworks, h.HandleSupportedNetworks)
	s.AddTool(ToolWalletOverview, h.HandleWalletOverview)
	s.AddTool(ToolCheckAlerts, h.HandleCheckAlerts)
	s.AddTool(ToolAlertHistory, h.HandleAlertHistory)
	s.AddTool(ToolListTransactions, h.HandleListTransactions)
	s.AddTool(ToolReportAccessFailure, h.HandleReportAccessFailure)
	s.AddTool(ToolSendTestNotification, h.HandleSendTestNotification)

	return s
}
