package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *RoadWatchClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *RoadWatchClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetDriverScore returns the current score status for a driver.
func (h *Handlers) HandleGetDriverScore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetScore(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get score: %v", err)), nil
	}

	text, err := formatScore(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse score: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetScoreHistory returns the event ledger for a driver.
func (h *Handlers) HandleGetScoreHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	limit := req.GetInt("limit", 50)

	raw, err := h.client.GetHistory(ctx, userID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}

	text, err := formatHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetScoreBreakdown returns per-incident-type penalty totals.
func (h *Handlers) HandleGetScoreBreakdown(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetBreakdown(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get breakdown: %v", err)), nil
	}

	text, err := formatBreakdown(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse breakdown: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetMilestones lists a driver's achievements.
func (h *Handlers) HandleGetMilestones(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetMilestones(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get milestones: %v", err)), nil
	}

	text, err := formatMilestones(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse milestones: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetDriverReports lists reports filed against a driver.
func (h *Handlers) HandleGetDriverReports(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID := req.GetString("user_id", "")
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	raw, err := h.client.GetReports(ctx, userID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get reports: %v", err)), nil
	}

	text, err := formatReports(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse reports: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListIncidentWeights returns the incident weight table.
func (h *Handlers) HandleListIncidentWeights(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListWeights(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list weights: %v", err)), nil
	}

	text, err := formatWeights(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse weights: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleResolveDispute resolves a dispute as upheld or overturned.
func (h *Handlers) HandleResolveDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	disputeID := req.GetString("dispute_id", "")
	if disputeID == "" {
		return mcp.NewToolResultError("dispute_id is required"), nil
	}
	overturned := req.GetBool("overturned", false)

	raw, err := h.client.ResolveDispute(ctx, disputeID, overturned)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve dispute: %v", err)), nil
	}

	outcome := "upheld: the report stands and the penalty remains"
	if overturned {
		outcome = "overturned: the report's penalty has been credited back to the driver"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute %s resolved (%s).\n\n%s", disputeID, outcome, formatJSON(raw))), nil
}

// --- Formatting helpers ---

type scoreStatus struct {
	UserID        string `json:"userId"`
	CurrentScore  int    `json:"currentScore"`
	PreviousScore int    `json:"previousScore"`
	Change        int    `json:"change"`
	Percentile    int    `json:"percentile"`
	IncidentCount int    `json:"incidentCount"`
	DisputesWon   int    `json:"disputesWon"`
}

func formatScore(raw json.RawMessage) (string, error) {
	var s scoreStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Driver %s\n", s.UserID)
	fmt.Fprintf(&sb, "Score: %d/100", s.CurrentScore)
	if s.Change != 0 {
		fmt.Fprintf(&sb, " (%+d from previous)", s.Change)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Percentile: better than %d%% of drivers\n", s.Percentile)
	fmt.Fprintf(&sb, "Incidents: %d | Disputes won: %d", s.IncidentCount, s.DisputesWon)
	return sb.String(), nil
}

type scoreEvent struct {
	Type          string    `json:"eventType"`
	Impact        int       `json:"scoreImpact"`
	Description   string    `json:"description"`
	PreviousScore int       `json:"previousScore"`
	NewScore      int       `json:"newScore"`
	CreatedAt     time.Time `json:"createdAt"`
}

func formatHistory(raw json.RawMessage) (string, error) {
	var wrapper struct {
		UserID string       `json:"userId"`
		Events []scoreEvent `json:"events"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Events) == 0 {
		return fmt.Sprintf("No score events recorded for %s.", wrapper.UserID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Score history for %s (%d event(s), newest first):\n\n", wrapper.UserID, len(wrapper.Events))
	for i, ev := range wrapper.Events {
		fmt.Fprintf(&sb, "%d. [%s] %s: %+d (%d -> %d)",
			i+1, ev.CreatedAt.Format("2006-01-02"), ev.Type, ev.Impact, ev.PreviousScore, ev.NewScore)
		if ev.Description != "" {
			fmt.Fprintf(&sb, " - %s", ev.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func formatBreakdown(raw json.RawMessage) (string, error) {
	var wrapper struct {
		UserID    string `json:"userId"`
		Breakdown []struct {
			IncidentType string `json:"incidentType"`
			Count        int    `json:"count"`
			TotalImpact  int    `json:"totalImpact"`
		} `json:"breakdown"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Breakdown) == 0 {
		return fmt.Sprintf("Driver %s has no incident penalties on record.", wrapper.UserID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Score breakdown for %s:\n\n", wrapper.UserID)
	for _, e := range wrapper.Breakdown {
		fmt.Fprintf(&sb, "- %s: %d report(s), %d point(s) total\n", e.IncidentType, e.Count, e.TotalImpact)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func formatMilestones(raw json.RawMessage) (string, error) {
	var wrapper struct {
		UserID     string `json:"userId"`
		Milestones []struct {
			MilestoneType  string    `json:"milestoneType"`
			MilestoneValue int       `json:"milestoneValue"`
			AchievedAt     time.Time `json:"achievedAt"`
		} `json:"milestones"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Milestones) == 0 {
		return fmt.Sprintf("Driver %s has not reached any milestones yet.", wrapper.UserID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Milestones for %s:\n\n", wrapper.UserID)
	for _, m := range wrapper.Milestones {
		switch m.MilestoneType {
		case "score_reached":
			fmt.Fprintf(&sb, "- Reached score %d on %s\n", m.MilestoneValue, m.AchievedAt.Format("2006-01-02"))
		case "clean_streak":
			fmt.Fprintf(&sb, "- %d days without an incident, on %s\n", m.MilestoneValue, m.AchievedAt.Format("2006-01-02"))
		default:
			fmt.Fprintf(&sb, "- %s (%d) on %s\n", m.MilestoneType, m.MilestoneValue, m.AchievedAt.Format("2006-01-02"))
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func formatReports(raw json.RawMessage) (string, error) {
	var wrapper struct {
		UserID  string `json:"userId"`
		Reports []struct {
			ID             string    `json:"id"`
			IncidentType   string    `json:"incidentType"`
			Status         string    `json:"status"`
			PenaltyApplied int       `json:"penaltyApplied"`
			CreatedAt      time.Time `json:"createdAt"`
		} `json:"reports"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Reports) == 0 {
		return fmt.Sprintf("No reports on record for %s.", wrapper.UserID), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Reports against %s (%d):\n\n", wrapper.UserID, len(wrapper.Reports))
	for i, r := range wrapper.Reports {
		fmt.Fprintf(&sb, "%d. %s [%s] %s: %d point(s) (%s)\n",
			i+1, r.CreatedAt.Format("2006-01-02"), r.Status, r.IncidentType, r.PenaltyApplied, r.ID)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func formatWeights(raw json.RawMessage) (string, error) {
	var wrapper struct {
		Weights []struct {
			IncidentType       string  `json:"incidentType"`
			BasePenalty        int     `json:"basePenalty"`
			SeverityMultiplier float64 `json:"severityMultiplier"`
		} `json:"weights"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return "", err
	}
	if len(wrapper.Weights) == 0 {
		return "No incident weights configured.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Incident weight table (%d type(s)):\n\n", len(wrapper.Weights))
	for _, w := range wrapper.Weights {
		if w.BasePenalty == 0 {
			fmt.Fprintf(&sb, "- %s: infrastructure (no score impact)\n", w.IncidentType)
			continue
		}
		fmt.Fprintf(&sb, "- %s: base penalty %d, severity multiplier %.2f\n",
			w.IncidentType, w.BasePenalty, w.SeverityMultiplier)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func formatJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
