package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all fraudwatch tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("fraudwatch", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolSubmitTransaction, h.HandleSubmitTransaction)
	s.AddTool(ToolGetTransaction, h.HandleGetTransaction)
	s.AddTool(ToolListTransactions, h.HandleListTransactions)
	s.AddTool(ToolNextForReview, h.HandleNextForReview)
	s.AddTool(ToolReviewQueue, h.HandleReviewQueue)
	s.AddTool(ToolReviewTransaction, h.HandleReviewTransaction)
	s.AddTool(ToolBlacklistEntity, h.HandleBlacklistEntity)
	s.AddTool(ToolFlagIP, h.HandleFlagIP)
	s.AddTool(ToolFraudNetworkStats, h.HandleFraudNetworkStats)
	s.AddTool(ToolCheckActorsLinked, h.HandleCheckActorsLinked)
	s.AddTool(ToolFraudSummary, h.HandleFraudSummary)

	return s
}
