package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codectx/dev-agent-mcp/internal/mcp"
)

func testSchema() mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"limit": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": 100,
			},
			"mode": map[string]interface{}{
				"type": "string",
				"enum": []interface{}{"fast", "thorough"},
			},
			"verbose": map[string]interface{}{"type": "boolean"},
		},
		Required: []string{"query"},
	}
}

func TestValidateArgs_RequiredMissing(t *testing.T) {
	err := validateArgs(testSchema(), map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, "query is required", err.Error())
}

func TestValidateArgs_Valid(t *testing.T) {
	args := map[string]interface{}{
		"query":   "auth",
		"limit":   float64(10),
		"mode":    "fast",
		"verbose": true,
	}
	require.NoError(t, validateArgs(testSchema(), args))
}

func TestValidateArgs_TypeMismatch(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"string field", map[string]interface{}{"query": 42}, "query must be a string"},
		{"boolean field", map[string]interface{}{"query": "x", "verbose": "yes"}, "verbose must be a boolean"},
		{"integer field", map[string]interface{}{"query": "x", "limit": 1.5}, "limit must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateArgs(testSchema(), tt.args)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestValidateArgs_EnumViolation(t *testing.T) {
	err := validateArgs(testSchema(), map[string]interface{}{"query": "x", "mode": "sloppy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode must be one of")
}

func TestValidateArgs_RangeViolation(t *testing.T) {
	err := validateArgs(testSchema(), map[string]interface{}{"query": "x", "limit": float64(0)})
	require.Error(t, err)
	assert.Equal(t, "limit must be >= 1", err.Error())

	err = validateArgs(testSchema(), map[string]interface{}{"query": "x", "limit": float64(500)})
	require.Error(t, err)
	assert.Equal(t, "limit must be <= 100", err.Error())
}

func TestValidateArgs_UnknownFieldsTolerated(t *testing.T) {
	err := validateArgs(testSchema(), map[string]interface{}{"query": "x", "extra": "ignored"})
	require.NoError(t, err)
}
