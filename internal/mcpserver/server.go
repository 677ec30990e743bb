package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all RoadWatch tools
// registered. The dispute resolution tool is only registered when an admin
// secret is configured.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("roadwatch", "1.0.0")
	client := NewRoadWatchClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolGetDriverScore, h.HandleGetDriverScore)
	s.AddTool(ToolGetScoreHistory, h.HandleGetScoreHistory)
	s.AddTool(ToolGetScoreBreakdown, h.HandleGetScoreBreakdown)
	s.AddTool(ToolGetMilestones, h.HandleGetMilestones)
	s.AddTool(ToolGetDriverReports, h.HandleGetDriverReports)
	s.AddTool(ToolListIncidentWeights, h.HandleListIncidentWeights)

	if cfg.AdminSecret != "" {
		s.AddTool(ToolResolveDispute, h.HandleResolveDispute)
	}

	return s
}
