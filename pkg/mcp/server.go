package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/arsdragonfly/fluxduct/pkg/client"
	"github.com/arsdragonfly/fluxduct/pkg/events"
)

// Server adapts fluxductd to the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance.
func NewServer(apiURL string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"fluxduct",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL),
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"fluxduct://graph",
		"Media Graph",
		mcp.WithResourceDescription("Nodes, ports, links and their render projections, including removed records"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadGraph)

	s.mcpServer.AddResource(mcp.NewResource(
		"fluxduct://debug",
		"Debug Messages",
		mcp.WithResourceDescription("Debug messages reported by the media server, oldest first"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadDebug)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"describe_node",
		mcp.WithDescription("Show a live node with its ports and the links touching it."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("The node's object id")),
	), s.handleDescribeNode)

	s.mcpServer.AddTool(mcp.NewTool(
		"publish_event",
		mcp.WithDescription("Inject a graph event (add_node, add_port, add_link, remove_id, debug_message)."),
		mcp.WithString("type", mcp.Required(), mcp.Description("The event type")),
		mcp.WithString("payload", mcp.Required(), mcp.Description(`The payload as JSON, e.g. {"id":1,"serial":101,"name":"mic"}`)),
	), s.handlePublishEvent)

	s.mcpServer.AddTool(mcp.NewTool(
		"report",
		mcp.WithDescription("Tabulate nodes, ports, links or edges as CSV."),
		mcp.WithString("type", mcp.Required(), mcp.Enum("nodes", "ports", "links", "edges"), mcp.Description("Which collection to tabulate")),
		mcp.WithBoolean("live", mcp.Description("Skip removed records")),
	), s.handleReport)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"fluxduct-aware",
		mcp.WithPromptDescription("Provides context about the media graph (Nodes, Ports, Links, ids and serials)"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleReadGraph(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	st, err := s.apiClient.GetGraph(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch graph: %w", err)
	}
	return jsonContents(request.Params.URI, st)
}

func (s *Server) handleReadDebug(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	msgs, err := s.apiClient.GetDebug(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch debug messages: %w", err)
	}
	return jsonContents(request.Params.URI, msgs)
}

func (s *Server) handleDescribeNode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseFloat64(request, "id", -1)
	if id < 0 || id > float64(^uint32(0)) || id != float64(uint32(id)) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid node id: %v", id)), nil
	}

	detail, err := s.apiClient.GetNode(ctx, uint32(id))
	if errors.Is(err, client.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("node %d does not exist", uint32(id))), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}

	data, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handlePublishEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t := events.Type(mcp.ParseString(request, "type", ""))
	payload := mcp.ParseString(request, "payload", "")

	if !events.IsInbound(t) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown event type %q", t)), nil
	}
	if !json.Valid([]byte(payload)) {
		return mcp.NewToolResultError("payload is not valid JSON"), nil
	}

	if err := s.apiClient.Publish(ctx, events.Event{Type: t, Payload: json.RawMessage(payload)}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Accepted %s", t)), nil
}

func (s *Server) handleReport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reportType := mcp.ParseString(request, "type", "")
	live := mcp.ParseBoolean(request, "live", false)

	data, err := s.apiClient.Report(ctx, reportType, "csv", live, "")
	if errors.Is(err, client.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("unknown report type %q", reportType)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "fluxduct-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are inspecting a live media graph mirrored by fluxduct.

Concepts:
- Node: a media endpoint (e.g., a microphone or an application stream).
- Port: an input or output of exactly one node.
- Link: a connection from an output port to an input port.
- Id: the server's object id. Ids are reused after removal.
- Serial: a per-object number that is never reused. Edges refer to serials.
- Removed records stay in the graph with exists=false.

Read fluxduct://graph for the whole graph, or call 'describe_node' for one node.
Rejected events (duplicate ids, dangling references) show up as warnings, not errors.
`

	return mcp.NewGetPromptResult(
		"fluxduct-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
