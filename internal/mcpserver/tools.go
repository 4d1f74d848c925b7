// Package mcpserver registers MCP tools that expose file tracking and
// reconciliation. It adapts the manager to the MCP SDK's tool handler
// interface.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/alexjbarnes/bucket-sync/internal/manager"
	"github.com/alexjbarnes/bucket-sync/internal/models"
)

// Service is the subset of the manager the tools call.
type Service interface {
	List(ctx context.Context) ([]models.FileRecord, error)
	Sync(ctx context.Context) (*manager.SyncResult, error)
	Unresolved(ctx context.Context) ([]models.FileRecord, error)
	Conflicts() []models.FileRecord
}

// RegisterTools adds all file tools to the given MCP server.
func RegisterTools(server *mcp.Server, svc Service) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "files_list",
		Description: "List every file in the local metadata cache with name, size, modification time, checksum and bucket. Reads the cache only; call files_sync first for fresh data.",
	}, listHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "files_sync",
		Description: "Run one reconciliation pass: list the remote bucket, compare it with the cache, resolve conflicts by last-writer-wins and persist the result. Returns the number of remote files and the conflicts found.",
	}, syncHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "files_unresolved",
		Description: "Audit the remote bucket against the cache without writing. Returns remote files that are missing from the cache or differ from it. An empty list means fully synchronized.",
	}, unresolvedHandler(svc))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "files_conflicts",
		Description: "Return the conflicts found by the most recent files_sync call in this server process.",
	}, conflictsHandler(svc))
}

// --- Input types ---

// EmptyInput is used by tools that take no parameters.
type EmptyInput struct{}

// --- Output types ---

// FileEntry is the wire form of a file record.
type FileEntry struct {
	Name       string `json:"name"`
	Path       string `json:"path,omitempty"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at,omitempty"`
	Checksum   string `json:"checksum"`
	Version    string `json:"version"`
	Container  string `json:"container,omitempty"`
	Kind       string `json:"kind"`
}

// FilesResult holds a list of files.
type FilesResult struct {
	Total int         `json:"total"`
	Files []FileEntry `json:"files"`
}

// UnresolvedResult is returned by files_unresolved.
type UnresolvedResult struct {
	Synchronized bool        `json:"synchronized"`
	Total        int         `json:"total"`
	Files        []FileEntry `json:"files"`
}

// SyncResult is returned by files_sync.
type SyncResult struct {
	At         string      `json:"at"`
	Total      int         `json:"total"`
	Conflicted []FileEntry `json:"conflicted"`
}

// --- Handlers ---

func listHandler(svc Service) mcp.ToolHandlerFor[EmptyInput, *FilesResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *FilesResult, error) {
		recs, err := svc.List(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := filesResult(recs)

		return textResult(result), result, nil
	}
}

func syncHandler(svc Service) mcp.ToolHandlerFor[EmptyInput, *SyncResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *SyncResult, error) {
		res, err := svc.Sync(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := &SyncResult{
			At:         res.At.Format(time.RFC3339),
			Total:      res.Total,
			Conflicted: toEntries(res.Conflicted),
		}

		return textResult(result), result, nil
	}
}

func unresolvedHandler(svc Service) mcp.ToolHandlerFor[EmptyInput, *UnresolvedResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *UnresolvedResult, error) {
		recs, err := svc.Unresolved(ctx)
		if err != nil {
			return nil, nil, err
		}

		result := &UnresolvedResult{
			Synchronized: len(recs) == 0,
			Total:        len(recs),
			Files:        toEntries(recs),
		}

		return textResult(result), result, nil
	}
}

func conflictsHandler(svc Service) mcp.ToolHandlerFor[EmptyInput, *FilesResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *FilesResult, error) {
		result := filesResult(svc.Conflicts())
		return textResult(result), result, nil
	}
}

func filesResult(recs []models.FileRecord) *FilesResult {
	return &FilesResult{Total: len(recs), Files: toEntries(recs)}
}

// toEntries never returns nil so the JSON output is always an array.
func toEntries(recs []models.FileRecord) []FileEntry {
	out := make([]FileEntry, 0, len(recs))

	for _, r := range recs {
		e := FileEntry{
			Name:      r.Name,
			Path:      r.Path,
			Size:      r.Size,
			Checksum:  r.Checksum,
			Version:   r.Version,
			Container: r.ContainerName,
			Kind:      r.Kind,
		}

		if !r.ModifiedAt.IsZero() {
			e.ModifiedAt = r.ModifiedAt.Format(time.RFC3339Nano)
		}

		out = append(out, e)
	}

	return out
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
