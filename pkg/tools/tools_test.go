package tools

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchInput struct {
	Query string `json:"query" jsonschema:"description=Search query"`
	Limit int    `json:"limit,omitempty"`
}

func newSearchTool(t *testing.T) Tool {
	t.Helper()
	tool, err := NewFuncTool("search", "Searches the knowledge base", func(ctx context.Context, in searchInput) (string, error) {
		if in.Query == "" {
			return "", fmt.Errorf("query is required")
		}
		return fmt.Sprintf("results for %q (limit %d)", in.Query, in.Limit), nil
	})
	require.NoError(t, err)
	return tool
}

func TestFuncToolInvoke(t *testing.T) {
	tool := newSearchTool(t)

	out, err := tool.Invoke(context.Background(), map[string]any{
		"query": "golang",
		// JSON-decoded numbers arrive as float64.
		"limit": float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, `results for "golang" (limit 3)`, out)
}

func TestFuncToolSchema(t *testing.T) {
	tool := newSearchTool(t)

	schema := tool.Schema()
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
}

func TestFuncToolInvalidInput(t *testing.T) {
	tool := newSearchTool(t)

	_, err := tool.Invoke(context.Background(), map[string]any{
		"limit": map[string]any{"nested": true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search")
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(newSearchTool(t)))

	tool, err := r.Lookup("search")
	require.NoError(t, err)
	assert.Equal(t, "search", tool.Name())

	_, err = r.Lookup("teleport")
	require.Error(t, err)

	var notFound *ToolNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "teleport", notFound.Name)
	assert.Equal(t, []string{"search"}, notFound.Available)
}

func TestRegistryDescribe(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(newSearchTool(t)))

	desc := r.Describe()
	assert.True(t, strings.Contains(desc, "search: Searches the knowledge base"))
}
