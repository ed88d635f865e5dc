package mcp

import "github.com/mark3labs/mcp-go/mcp"

var listToolDef = mcp.NewTool("capture_list",
	mcp.WithDescription("List capture summaries in ingest order. Content is omitted; use capture_fetch for the full record."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithArray("statuses",
		mcp.Description("Only include these statuses: pending, hashed, staged, exporting, exported, duplicate_skip, error, permanently_failed, quarantined"),
		mcp.Items(map[string]any{"type": "string"}),
	),
	mcp.WithString("since", mcp.Description("Include captures created at or after this time (RFC3339 or YYYY-MM-DD)")),
	mcp.WithString("until", mcp.Description("Include captures created before this time (RFC3339 or YYYY-MM-DD)")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
)

var fetchToolDef = mcp.NewTool("capture_fetch",
	mcp.WithDescription("Fetch one capture with its export audit history and error log."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capture id")),
	mcp.WithBoolean("include_text", mcp.Description("Include the capture content (default true)")),
)

var errorsToolDef = mcp.NewTool("capture_errors",
	mcp.WithDescription("List permanently failed and quarantined captures together with recent export errors, newest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Description("Restrict to one capture")),
	mcp.WithNumber("limit", mcp.Description("Maximum entries (default 50, max 500)")),
)

var statsToolDef = mcp.NewTool("capture_stats",
	mcp.WithDescription("Count captures per status."),
	mcp.WithReadOnlyHintAnnotation(true),
)

var historyToolDef = mcp.NewTool("capture_history",
	mcp.WithDescription("Read the append-only export audit trail, oldest first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Description("Restrict to one capture")),
	mcp.WithNumber("limit", mcp.Description("Maximum entries across all captures (default 50, max 500)")),
)
