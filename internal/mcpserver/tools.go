package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the RoadWatch MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetDriverScore = mcp.NewTool("get_driver_score",
	mcp.WithDescription(
		"Get a driver's current RoadWatch score (0-100, higher is safer). "+
			"Returns the score, the last change, percentile rank among all drivers, "+
			"incident count and disputes won. Unknown drivers start at the default score."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The driver's user id (e.g. 'driver-42')")),
)

var ToolGetScoreHistory = mcp.NewTool("get_score_history",
	mcp.WithDescription(
		"Get the score event ledger for a driver, newest first. "+
			"Each event shows the type (incident_reported, dispute_resolved, time_elapsed), "+
			"the points applied and the score before and after."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The driver's user id")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of events to return (default 50)")),
)

var ToolGetScoreBreakdown = mcp.NewTool("get_score_breakdown",
	mcp.WithDescription(
		"Get a per-incident-type breakdown of a driver's score penalties. "+
			"Shows how many reports of each incident type the driver has and "+
			"the total points each type has cost them."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The driver's user id")),
)

var ToolGetMilestones = mcp.NewTool("get_milestones",
	mcp.WithDescription(
		"List the milestones a driver has reached: score thresholds crossed "+
			"and clean-streak durations (days without a reported incident)."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The driver's user id")),
)

var ToolGetDriverReports = mcp.NewTool("get_driver_reports",
	mcp.WithDescription(
		"List the incident reports filed against a driver, including each "+
			"report's incident type, status (scored/logged/overturned) and the "+
			"penalty that was applied."),
	mcp.WithString("user_id",
		mcp.Required(),
		mcp.Description("The driver's user id")),
)

var ToolListIncidentWeights = mcp.NewTool("list_incident_weights",
	mcp.WithDescription(
		"List the incident weight table: every known incident type with its "+
			"base penalty and severity multiplier. Types with base penalty 0 are "+
			"infrastructure issues (potholes, debris) that never affect any driver's score."),
)

var ToolResolveDispute = mcp.NewTool("resolve_dispute",
	mcp.WithDescription(
		"Resolve an open dispute as a moderator. Overturning a dispute reverses "+
			"the report's score penalty; upholding it leaves the score unchanged. "+
			"Requires the server to be configured with an admin secret."),
	mcp.WithString("dispute_id",
		mcp.Required(),
		mcp.Description("The dispute id from the report's dispute record")),
	mcp.WithBoolean("overturned",
		mcp.Required(),
		mcp.Description("true to overturn the report and refund the penalty, false to uphold it")),
)
