package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/interview/internal/questions"
	"github.com/kalambet/interview/internal/registry"
	"github.com/kalambet/interview/internal/session"
	"github.com/kalambet/interview/internal/snapshot"
	"github.com/kalambet/interview/internal/storage"
)

const maxAskTimeout = 24 * time.Hour

// InterviewResult is what an MCP caller gets back from ask_user.
type InterviewResult struct {
	Outcome session.Outcome `json:"outcome"`
	// Notice is set when another interview was already active, so the
	// browser was not opened automatically.
	Notice string `json:"notice,omitempty"`
	URL    string `json:"url,omitempty"`
}

// QueuedFunc is called as soon as an interview starts behind another active
// one, with the notice to show and the URL the user can open.
type QueuedFunc func(notice, url string)

// Runner runs one interview to completion. queued may be nil.
type Runner interface {
	RunInterview(ctx context.Context, doc *questions.Document, timeout time.Duration, queued QueuedFunc) (InterviewResult, error)
}

// SessionLister lists active sessions across processes.
type SessionLister interface {
	Active(ctx context.Context) ([]registry.Entry, error)
}

// HistoryLister lists finished sessions.
type HistoryLister interface {
	ListSessions(limit, offset int) ([]storage.SessionRecord, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Runner   Runner
	Sessions SessionLister // optional; if nil, list_sessions returns an error
	History  HistoryLister // optional; if nil, the history resource is empty
}

// NewMCPServer creates an MCP server exposing the interview as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"interview",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("interview: ask the user structured questions in a browser form and get typed answers back."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_user",
			mcp.WithDescription("Show the user a form with structured questions and wait for their answers. "+
				"Question types: single, multi, text, image, info."),
			mcp.WithString("questions", mcp.Description(`Question document as JSON: {"title": ..., "questions": [{"id", "type", "question", "options"?, "recommended"?}]}`), mcp.Required()),
			mcp.WithNumber("timeout_seconds", mcp.Description("Seconds the user has to answer (default 600)")),
		),
		mcpAskUser(deps, s),
	)

	s.AddTool(
		mcp.NewTool("load_snapshot",
			mcp.WithDescription("Read the questions and answers saved in an interview snapshot or recovery file."),
			mcp.WithString("path", mcp.Description("Path to the snapshot HTML file"), mcp.Required()),
		),
		mcpLoadSnapshot,
	)

	s.AddTool(
		mcp.NewTool("list_sessions",
			mcp.WithDescription("List interviews currently waiting for the user, across all processes."),
		),
		mcpListSessions(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"interview://history",
			"Recent Interviews",
			mcp.WithResourceDescription("Last 10 finished interviews (status and answers)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	return s
}

func mcpAskUser(deps MCPDeps, s *server.MCPServer) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("questions")
		if err != nil {
			return mcpError("questions is required"), nil
		}
		doc, err := questions.Parse([]byte(raw), "questions.json")
		if err != nil {
			return mcpError(fmt.Sprintf("invalid questions: %v", err)), nil
		}

		timeout := time.Duration(req.GetFloat("timeout_seconds", 0) * float64(time.Second))
		if timeout < 0 || timeout > maxAskTimeout {
			return mcpError(fmt.Sprintf("timeout_seconds must be between 0 and %d", int(maxAskTimeout/time.Second))), nil
		}

		res, err := deps.Runner.RunInterview(ctx, doc, timeout, func(notice, url string) {
			notifyQueued(ctx, s, notice, url)
		})
		if err != nil {
			return mcpError(fmt.Sprintf("interview failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal outcome: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// notifyQueued tells the client right away that the interview is waiting
// behind another one. The tool result only arrives once the user answers,
// which they cannot do without the URL.
func notifyQueued(ctx context.Context, s *server.MCPServer, notice, url string) {
	if s == nil {
		return
	}
	err := s.SendNotificationToClient(ctx, "notifications/message", map[string]any{
		"level":  "warning",
		"logger": "interview",
		"data": map[string]any{
			"notice": notice,
			"url":    url,
		},
	})
	if err != nil {
		slog.Warn("sending queue notice to MCP client", "error", err)
	}
}

func mcpLoadSnapshot(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcpError("path is required"), nil
	}

	rec, err := snapshot.Load(path)
	switch {
	case errors.Is(err, snapshot.ErrNotSnapshot):
		return mcpError(fmt.Sprintf("%s is not an interview snapshot", path)), nil
	case err != nil:
		return mcpError(fmt.Sprintf("failed to load snapshot: %v", err)), nil
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal snapshot: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpListSessions(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Sessions == nil {
			return mcpError("session registry not available"), nil
		}
		entries, err := deps.Sessions.Active(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing sessions failed: %v", err)), nil
		}

		type sessionSummary struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Cwd       string `json:"cwd"`
			Branch    string `json:"branch,omitempty"`
			StartedAt string `json:"started_at"`
		}
		summaries := make([]sessionSummary, len(entries))
		for i, e := range entries {
			summaries[i] = sessionSummary{
				ID:        e.ID,
				Title:     e.Title,
				Cwd:       e.Cwd,
				Branch:    e.Branch,
				StartedAt: e.StartedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type historySummary struct {
			ID         string          `json:"id"`
			Title      string          `json:"title"`
			Status     string          `json:"status"`
			Reason     string          `json:"reason,omitempty"`
			FinishedAt string          `json:"finished_at"`
			Answers    json.RawMessage `json:"answers"`
		}

		summaries := []historySummary{}
		if deps.History != nil {
			records, err := deps.History.ListSessions(10, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to list history: %w", err)
			}
			for _, r := range records {
				answers := json.RawMessage(r.Answers)
				if !json.Valid(answers) {
					answers = json.RawMessage("{}")
				}
				summaries = append(summaries, historySummary{
					ID:         r.ID,
					Title:      r.Title,
					Status:     r.Status,
					Reason:     r.Reason,
					FinishedAt: r.FinishedAt.Format(time.RFC3339),
					Answers:    answers,
				})
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
