// Package mcpserver exposes the entity workspace as MCP (Model Context
// Protocol) tools over stdio, so agents can read and mutate records through
// the same schema-validated store the CLI uses.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/curator/internal/apperr"
	"github.com/starford/curator/internal/entity"
	"github.com/starford/curator/internal/frontmatter"
	"github.com/starford/curator/internal/index"
	"github.com/starford/curator/internal/schema"
)

// Server wraps the MCP server with workspace tools.
type Server struct {
	mcp    *server.MCPServer
	store  *entity.Store
	schema *schema.Definition

	// db accelerates search_entities when the serve-mode index is open.
	// When nil, search falls back to scanning the files directly.
	db *index.DB
}

// New creates an MCP server with all workspace tools registered. db may be
// nil.
func New(store *entity.Store, def *schema.Definition, db *index.DB) *Server {
	s := &Server{store: store, schema: def, db: db}

	s.mcp = server.NewMCPServer(
		"Curator",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_entities",
		mcp.WithDescription("List entities of a type. Archived entities are excluded unless requested."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name (e.g. tasks)")),
		mcp.WithString("status", mcp.Description("Optional status filter")),
		mcp.WithBoolean("include_archived", mcp.Description("Include entities with status archived")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
	), s.listEntities)

	s.mcp.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Read one entity: frontmatter fields plus markdown content."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id (filename without .md)")),
	), s.getEntity)

	s.mcp.AddTool(mcp.NewTool("create_entity",
		mcp.WithDescription("Create an entity. Schema defaults are applied, required fields and "+
			"enums validated, and the filename derived from the type's naming template. "+
			"Call get_schema first to see the declared types."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name")),
		mcp.WithString("frontmatter", mcp.Required(), mcp.Description(`Frontmatter fields as a JSON object, e.g. {"title": "Review PR"}`)),
		mcp.WithString("content", mcp.Description("Markdown body")),
	), s.createEntity)

	s.mcp.AddTool(mcp.NewTool("update_entity",
		mcp.WithDescription("Update an entity. Supplied frontmatter fields are merged over the "+
			"existing ones field by field; content replaces the body only when provided."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
		mcp.WithString("frontmatter", mcp.Description("Partial frontmatter as a JSON object")),
		mcp.WithString("content", mcp.Description("Replacement markdown body")),
	), s.updateEntity)

	s.mcp.AddTool(mcp.NewTool("delete_entity",
		mcp.WithDescription("Delete an entity file. Prefer archive_entity unless the record is junk."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	), s.deleteEntity)

	s.mcp.AddTool(mcp.NewTool("search_entities",
		mcp.WithDescription("Case-insensitive substring search over entity titles and content."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("type", mcp.Description("Optional entity type to narrow the search")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchEntities)

	s.mcp.AddTool(mcp.NewTool("get_schema",
		mcp.WithDescription("Describe the workspace schema: declared entity types with their "+
			"directories, naming templates, required fields, defaults, and enums."),
	), s.getSchema)

	s.mcp.AddTool(mcp.NewTool("archive_entity",
		mcp.WithDescription("Move an entity into the archive. Refused while other live entities "+
			"still reference it by wikilink."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	), s.archiveEntity)

	s.mcp.AddTool(mcp.NewTool("unarchive_entity",
		mcp.WithDescription("Move an archived entity back into its type directory."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id")),
	), s.unarchiveEntity)

	s.mcp.AddTool(mcp.NewTool("list_archived",
		mcp.WithDescription("List the archived entities of a type."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type name")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
	), s.listArchived)

	s.mcp.AddTool(mcp.NewTool("search_archived",
		mcp.WithDescription("Search the archive the same way search_entities searches the live corpus."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithString("type", mcp.Description("Optional entity type to narrow the search")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchArchived)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// Listen starts the MCP server on the given streams and stops when ctx is
// cancelled.
func (s *Server) Listen(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, stdin, stdout)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// entityView is the JSON shape tools return for one entity.
type entityView struct {
	Type        string         `json:"type"`
	ID          string         `json:"id"`
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Status      string         `json:"status,omitempty"`
	Frontmatter map[string]any `json:"frontmatter"`
	Content     string         `json:"content,omitempty"`
}

func view(e *entity.Entity, withContent bool) entityView {
	v := entityView{
		Type:        e.Type,
		ID:          e.ID,
		Path:        e.Path,
		Title:       e.Title(),
		Status:      e.Status(),
		Frontmatter: e.Frontmatter.Map(),
	}
	if withContent {
		v.Content = e.Body
	}
	return v
}

func jsonResult(v any) *mcp.CallToolResult {
	out, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(out))
}

// toolError maps store errors onto tool errors; transport errors are never
// used for domain failures.
func toolError(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %v", err))
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError(fmt.Sprintf("already exists: %v", err))
	case errors.Is(err, apperr.ErrConflict):
		return mcp.NewToolResultError(fmt.Sprintf("conflict: %v", err))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func parseFrontmatterArg(raw string) (*frontmatter.Fields, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("frontmatter must be a JSON object: %w", err)
	}
	return frontmatter.FromMap(m, nil), nil
}

func (s *Server) listEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := entity.ListOptions{
		IncludeArchived: req.GetBool("include_archived", false),
		Limit:           req.GetInt("limit", 0),
	}
	if status := req.GetString("status", ""); status != "" {
		opts.Filters = map[string]any{"status": status}
	}
	entities, err := s.store.List(typeName, opts)
	if err != nil {
		return toolError(err), nil
	}
	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, view(e, false))
	}
	return jsonResult(views), nil
}

func (s *Server) getEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.store.Get(typeName, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(view(e, true)), nil
}

func (s *Server) createEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawFM, err := req.RequireString("frontmatter")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fm, err := parseFrontmatterArg(rawFM)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	e, err := s.store.Create(typeName, fm, req.GetString("content", ""))
	if err != nil {
		return toolError(err), nil
	}
	s.reindex(e)
	return jsonResult(view(e, true)), nil
}

func (s *Server) updateEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var fm *frontmatter.Fields
	if raw := req.GetString("frontmatter", ""); raw != "" {
		fm, err = parseFrontmatterArg(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	var content *string
	if c, ok := req.GetArguments()["content"]; ok {
		if text, ok := c.(string); ok {
			content = &text
		}
	}

	e, err := s.store.Update(typeName, id, fm, content)
	if err != nil {
		return toolError(err), nil
	}
	s.reindex(e)
	return jsonResult(view(e, true)), nil
}

func (s *Server) deleteEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.store.Get(typeName, id)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.store.Delete(typeName, id); err != nil {
		return toolError(err), nil
	}
	s.deindex(e.Path)
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", e.Path)), nil
}

func (s *Server) searchEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typeName := req.GetString("type", "")
	limit := req.GetInt("limit", 20)

	if s.db != nil {
		hits, err := s.db.Search(query, typeName, limit)
		if err != nil {
			return toolError(err), nil
		}
		return jsonResult(hits), nil
	}

	entities, err := s.store.Search(query, typeName, limit)
	if err != nil {
		return toolError(err), nil
	}
	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, view(e, false))
	}
	return jsonResult(views), nil
}

func (s *Server) getSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.schema.Describe()), nil
}

func (s *Server) archiveEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.store.Get(typeName, id)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.store.Archive(typeName, id); err != nil {
		return toolError(err), nil
	}
	s.deindex(e.Path)
	return mcp.NewToolResultText(fmt.Sprintf("archived: %s", e.Path)), nil
}

func (s *Server) unarchiveEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.store.Unarchive(typeName, id); err != nil {
		return toolError(err), nil
	}
	e, err := s.store.Get(typeName, id)
	if err != nil {
		return toolError(err), nil
	}
	s.reindex(e)
	return jsonResult(view(e, true)), nil
}

func (s *Server) listArchived(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typeName, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entities, err := s.store.ListArchived(typeName, req.GetInt("limit", 0))
	if err != nil {
		return toolError(err), nil
	}
	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, view(e, false))
	}
	return jsonResult(views), nil
}

func (s *Server) searchArchived(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entities, err := s.store.SearchArchived(query, req.GetString("type", ""), req.GetInt("limit", 20))
	if err != nil {
		return toolError(err), nil
	}
	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, view(e, false))
	}
	return jsonResult(views), nil
}

// reindex/deindex keep the search index roughly current between watcher
// passes; failures are ignored since the watcher reconciles anyway.
func (s *Server) reindex(e *entity.Entity) {
	if s.db == nil {
		return
	}
	_ = s.db.Upsert(index.Row{
		Path:      e.Path,
		Type:      e.Type,
		ID:        e.ID,
		Title:     e.Title(),
		Status:    e.Status(),
		Checksum:  e.Checksum,
		UpdatedAt: e.UpdatedAt,
	}, e.Body)
}

func (s *Server) deindex(path string) {
	if s.db == nil {
		return
	}
	_ = s.db.Delete(path)
}
