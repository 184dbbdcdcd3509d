// Package mcpserver exposes stored exploration sessions as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kayz/thespian/internal/logger"
	"github.com/kayz/thespian/internal/narrative"
	"github.com/kayz/thespian/internal/persist"
)

const (
	serverName    = "Thespian Narrative MCP"
	serverVersion = "0.1.0"
)

// SessionStore is the read side of persist.Store.
type SessionStore interface {
	ListSessions(limit int) ([]*persist.SessionInfo, error)
	LoadSession(id string) (*persist.Session, error)
	ListCollapses(sessionID string) ([]*persist.CollapseEntry, error)
}

// Server hosts the narrative tools.
type Server struct {
	store     SessionStore
	mcpServer *server.MCPServer
}

// New registers the narrative tools over store.
func New(store SessionStore) *Server {
	s := &Server{
		store:     store,
		mcpServer: server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(true)),
	}

	s.mcpServer.AddTool(mcp.NewTool("narrative_sessions",
		mcp.WithDescription("List stored exploration sessions, most recently updated first"),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions to return (default all)")),
	), s.Sessions)

	s.mcpServer.AddTool(mcp.NewTool("narrative_summary",
		mcp.WithDescription("Summarize the exploration tree of a session and its collapse history"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), s.Summary)

	s.mcpServer.AddTool(mcp.NewTool("narrative_tree",
		mcp.WithDescription("Render the active branches of a session as a nested tree"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
	), s.Tree)

	s.mcpServer.AddTool(mcp.NewTool("narrative_branch",
		mcp.WithDescription("Return the full content and state of one branch"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithString("branch_id", mcp.Required(), mcp.Description("Branch id")),
	), s.Branch)

	return s
}

// Serve runs the server on stdio until the client disconnects.
func (s *Server) Serve() error {
	logger.Info("[MCP] Serving narrative tools on stdio")
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve MCP: %w", err)
	}
	return nil
}

// Sessions handles narrative_sessions.
func (s *Server) Sessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 0
	if v, ok := req.Params.Arguments["limit"].(float64); ok {
		limit = int(v)
	}

	sessions, err := s.store.ListSessions(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}
	if sessions == nil {
		sessions = []*persist.SessionInfo{}
	}
	return jsonResult(sessions)
}

type summaryResult struct {
	ID        string                   `json:"session_id"`
	Title     string                   `json:"title"`
	Mode      string                   `json:"mode"`
	Summary   narrative.Summary        `json:"summary"`
	Collapses []*persist.CollapseEntry `json:"collapses"`
}

// Summary handles narrative_summary.
func (s *Server) Summary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, tree, failure := s.loadTree(req)
	if failure != nil {
		return failure, nil
	}

	collapses, err := s.store.ListCollapses(session.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list collapses: %v", err)), nil
	}
	if collapses == nil {
		collapses = []*persist.CollapseEntry{}
	}
	return jsonResult(summaryResult{
		ID:        session.ID,
		Title:     session.Title,
		Mode:      session.Mode,
		Summary:   tree.Summary(),
		Collapses: collapses,
	})
}

// Tree handles narrative_tree.
func (s *Server) Tree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	_, tree, failure := s.loadTree(req)
	if failure != nil {
		return failure, nil
	}
	return jsonResult(tree.Visualization())
}

// Branch handles narrative_branch.
func (s *Server) Branch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	branchID, ok := req.Params.Arguments["branch_id"].(string)
	if !ok || branchID == "" {
		return mcp.NewToolResultError("branch_id is required"), nil
	}
	_, tree, failure := s.loadTree(req)
	if failure != nil {
		return failure, nil
	}

	state, ok := tree.Get(branchID)
	if !ok {
		if state, ok = tree.Pruned(branchID); !ok {
			return mcp.NewToolResultError(fmt.Sprintf("branch not found: %s", branchID)), nil
		}
	}
	return jsonResult(state.Snapshot())
}

func (s *Server) loadTree(req mcp.CallToolRequest) (*persist.Session, *narrative.ExplorationTree, *mcp.CallToolResult) {
	id, ok := req.Params.Arguments["session_id"].(string)
	if !ok || id == "" {
		return nil, nil, mcp.NewToolResultError("session_id is required")
	}

	session, err := s.store.LoadSession(id)
	if errors.Is(err, persist.ErrSessionNotFound) {
		return nil, nil, mcp.NewToolResultError(fmt.Sprintf("session not found: %s", id))
	}
	if err != nil {
		return nil, nil, mcp.NewToolResultError(fmt.Sprintf("failed to load session: %v", err))
	}

	tree, err := narrative.Restore(*session.Tree)
	if err != nil {
		return nil, nil, mcp.NewToolResultError(fmt.Sprintf("failed to restore session %s: %v", id, err))
	}
	return session, tree, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
