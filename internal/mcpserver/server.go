package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all commerce ops tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("commerce", "1.0.0")
	client := NewCommerceClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolListPDFs, h.HandleListPDFs)
	s.AddTool(ToolGetPDF, h.HandleGetPDF)
	s.AddTool(ToolCreatePaymentLink, h.HandleCreatePaymentLink)
	s.AddTool(ToolLookupPurchase, h.HandleLookupPurchase)
	s.AddTool(ToolListUserPurchases, h.HandleListUserPurchases)
	s.AddTool(ToolResendReceipt, h.HandleResendReceipt)

	return s
}
