// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes conversion tools for LLM integration via stdio
// transport: inspect the vault, probe link resolution, preview the
// Hugo output of a note, and review diagnostics.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/convert"
	"github.com/starford/raido/internal/linkmap"
	"github.com/starford/raido/internal/state"
	"github.com/starford/raido/internal/storage"
)

// Server wraps the MCP server with conversion tools.
type Server struct {
	mcp   *server.MCPServer
	conv  *convert.Converter
	vault storage.Provider
	db    state.Store
}

// New creates a new MCP server with all tools registered. The
// converter must already be indexed (a full Run has completed).
func New(conv *convert.Converter, vault storage.Provider, db state.Store) *Server {
	s := &Server{conv: conv, vault: vault, db: db}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("resolve_link",
		mcp.WithDescription("Resolve a wikilink target against the vault's link map. "+
			"Reports the output location, ambiguity candidates, or that the target is unknown."),
		mcp.WithString("target", mcp.Required(), mcp.Description("Raw wikilink target, e.g. 'Note Title' or 'folder/note#Section'")),
	), s.resolveLink)

	s.mcp.AddTool(mcp.NewTool("preview_note",
		mcp.WithDescription("Convert a single vault note to its Hugo output without writing anything. "+
			"Returns the generated front matter and body."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path of the note (e.g. folder/note.md)")),
	), s.previewNote)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the raw source of a vault note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative path of the note")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List vault notes, optionally under a folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("list_diagnostics",
		mcp.WithDescription("List the diagnostics recorded by the last conversion pass: "+
			"unresolved links, ambiguous targets, structural problems, key conflicts."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 100)")),
	), s.listDiagnostics)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) resolveLink(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	o := s.conv.ResolveLink(target)
	switch o.State {
	case linkmap.Resolved:
		return mcp.NewToolResultText(fmt.Sprintf("resolved: %s", o.Location)), nil
	case linkmap.Ambiguous:
		return mcp.NewToolResultText(fmt.Sprintf("ambiguous between:\n%s", strings.Join(o.Candidates, "\n"))), nil
	default:
		return mcp.NewToolResultText("unresolved: no note matches this target"), nil
	}
}

func (s *Server) previewNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, diags, err := s.conv.Preview(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("preview failed: %v", err)), nil
	}
	text := string(data)
	if len(diags) > 0 {
		notes := make([]string, 0, len(diags))
		for _, d := range diags {
			notes = append(notes, fmt.Sprintf("- [%s] %s", d.Kind, d.Detail))
		}
		text += "\n---\ndiagnostics:\n" + strings.Join(notes, "\n")
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.vault.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = f
	}
	metas, err := s.vault.List(folder, "md")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var paths []string
	for _, m := range metas {
		paths = append(paths, m.Path)
	}
	if len(paths) == 0 {
		return mcp.NewToolResultText("no notes found"), nil
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) listDiagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 100
	if v, ok := req.GetArguments()["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	diags, err := s.db.Diagnostics(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(diags) == 0 {
		return mcp.NewToolResultText("no diagnostics recorded"), nil
	}
	out, _ := json.MarshalIndent(diags, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
