package builtin

import (
	"context"
	"errors"
	"testing"

	"github.com/casualjim/relay/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		want       any
		formatted  string
		wantErr    string
	}{
		{name: "addition", expression: "2+2", want: int64(4), formatted: "2+2 = 4"},
		{name: "precedence", expression: "2 + 3 * 4", want: int64(14)},
		{name: "parentheses", expression: "(2 + 3) * 4", want: int64(20)},
		{name: "division", expression: "10 / 4", want: 2.5, formatted: "10 / 4 = 2.5"},
		{name: "unary minus", expression: "-3 + 5", want: int64(2)},
		{name: "power", expression: "2 ** 3 ** 2", want: int64(512)},
		{name: "negated power", expression: "-2 ** 2", want: int64(-4)},
		{name: "floor division", expression: "7 // 2", want: int64(3)},
		{name: "decimals", expression: "0.5 * 3", want: 1.5},
		{name: "trimmed", expression: "  1 + 1  ", want: int64(2), formatted: "1 + 1 = 2"},
		{name: "empty", expression: "   ", wantErr: "No expression provided"},
		{name: "invalid characters", expression: "2+2?", wantErr: "Expression contains invalid characters. Only numbers, +, -, *, /, (, ), and spaces are allowed."},
		{name: "letters", expression: "import os", wantErr: "Expression contains invalid characters. Only numbers, +, -, *, /, (, ), and spaces are allowed."},
		{name: "division by zero", expression: "1 / (2 - 2)", wantErr: "Division by zero is not allowed"},
		{name: "dangling operator", expression: "2 +", wantErr: "Invalid mathematical expression: unexpected end of expression"},
		{name: "unbalanced", expression: "(2 + 3", wantErr: "Invalid mathematical expression: missing closing parenthesis"},
		{name: "bad number", expression: "1.2.3", wantErr: `Invalid mathematical expression: invalid number "1.2.3"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.expression)
			if tt.wantErr != "" {
				assert.Equal(t, false, got["success"])
				assert.Equal(t, tt.wantErr, got["error"])
				assert.Nil(t, got["result"])
				return
			}
			assert.Equal(t, true, got["success"])
			assert.Equal(t, tt.want, got["result"])
			if tt.formatted != "" {
				assert.Equal(t, tt.formatted, got["formatted_result"])
			}
		})
	}
}

func TestCalculatorTool(t *testing.T) {
	calc := Calculator()
	assert.Equal(t, CalculatorName, calc.Schema().Name)

	params, err := calc.Schema().ParametersMap()
	require.NoError(t, err)
	assert.Equal(t, "object", params["type"])
	assert.Contains(t, params["properties"], "expression")
	assert.Equal(t, []any{"expression"}, params["required"])

	out, err := calc.Execute(context.Background(), map[string]any{"expression": "2+2"})
	require.NoError(t, err)
	result := out.(map[string]any)
	assert.Equal(t, int64(4), result["result"])
	assert.Equal(t, "2+2 = 4", result["formatted_result"])
}

func TestUserInformation(t *testing.T) {
	lookup := UserInformation(SampleDirectory())
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		out, err := lookup.Execute(ctx, map[string]any{"user_id": "U1001"})
		require.NoError(t, err)
		result := out.(map[string]any)
		assert.Equal(t, true, result["success"])
		assert.Equal(t, "U1001", result["user_id"])
		assert.Equal(t, "Complete user information retrieved for User ID: U1001", result["message"])
		data := result["user_data"].(map[string]any)
		assert.Equal(t, "Germany", data["Country"])
	})

	t.Run("not found suggests samples", func(t *testing.T) {
		out, err := lookup.Execute(ctx, map[string]any{"user_id": "U9999"})
		require.NoError(t, err)
		result := out.(map[string]any)
		assert.Equal(t, false, result["success"])
		assert.Equal(t, "No user found with ID: U9999", result["error"])
		assert.Equal(t, "User ID not found. Try one of these sample IDs: [U1000, U1001, U1002]", result["suggestion"])
	})

	t.Run("missing id", func(t *testing.T) {
		out, err := lookup.Execute(ctx, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "No user_id provided", out.(map[string]any)["error"])
	})

	t.Run("directory failure", func(t *testing.T) {
		out, err := UserInformation(failingDirectory{}).Execute(ctx, map[string]any{"user_id": "U1000"})
		require.NoError(t, err)
		assert.Equal(t, "Error retrieving user information: offline", out.(map[string]any)["error"])
	})
}

func TestMemoryDirectoryCopies(t *testing.T) {
	dir := NewMemoryDirectory()
	record := map[string]any{"name": "a"}
	dir.Put("x", record)
	record["name"] = "b"

	got, found, err := dir.FindUser(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", got["name"])

	ids, err := dir.SampleUserIDs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, ids)
}

func TestRegister(t *testing.T) {
	reg := tool.NewRegistry()
	Register(reg, nil)
	assert.Equal(t, []string{CalculatorName, UserInformationName}, reg.Names())
}

type failingDirectory struct{}

func (failingDirectory) FindUser(context.Context, string) (map[string]any, bool, error) {
	return nil, false, errors.New("offline")
}

func (failingDirectory) SampleUserIDs(context.Context, int) ([]string, error) {
	return nil, errors.New("offline")
}
