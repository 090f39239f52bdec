package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestNormalize(t *testing.T) {
	score := func(f float64) *float64 { return &f }

	tests := []struct {
		name  string
		raw   string
		scope string
		want  []Item
	}{
		{
			name:  "bare array with aliases",
			raw:   `[{"_id":"a","content":"x"}]`,
			scope: ScopeTask,
			want:  []Item{{ID: "a", Scope: ScopeTask, Snippet: "x"}},
		},
		{
			name:  "data wrapper",
			raw:   `{"data":[{"id":"a","snippet":"x"},{"uuid":"b","text":"y"}]}`,
			scope: ScopeUser,
			want: []Item{
				{ID: "a", Scope: ScopeUser, Snippet: "x"},
				{ID: "b", Scope: ScopeUser, Snippet: "y"},
			},
		},
		{
			name:  "missing snippet dropped",
			raw:   `[{"id":"a"}]`,
			scope: ScopeTask,
			want:  []Item{},
		},
		{
			name:  "missing id dropped",
			raw:   `[{"text":"orphan"},{"id":"b","text":"kept"}]`,
			scope: ScopeTask,
			want:  []Item{{ID: "b", Scope: ScopeTask, Snippet: "kept"}},
		},
		{
			name:  "first alias wins",
			raw:   `[{"id":"a","_id":"b","snippet":"s","text":"t","updatedAt":"u1","timestamp":"u2"}]`,
			scope: ScopeTask,
			want:  []Item{{ID: "a", Scope: ScopeTask, Snippet: "s", UpdatedAt: "u1"}},
		},
		{
			name:  "null alias falls through",
			raw:   `[{"id":null,"_id":"b","snippet":null,"content":"c"}]`,
			scope: ScopeTask,
			want:  []Item{{ID: "b", Scope: ScopeTask, Snippet: "c"}},
		},
		{
			name:  "item scope kept",
			raw:   `[{"id":"a","text":"x","scope":"project"}]`,
			scope: ScopeUser,
			want:  []Item{{ID: "a", Scope: ScopeProject, Snippet: "x"}},
		},
		{
			name:  "numeric score kept",
			raw:   `[{"id":"a","text":"x","score":0.25},{"id":"b","text":"y","score":"high"}]`,
			scope: ScopeTask,
			want: []Item{
				{ID: "a", Scope: ScopeTask, Snippet: "x", Score: score(0.25)},
				{ID: "b", Scope: ScopeTask, Snippet: "y"},
			},
		},
		{
			name:  "numeric id",
			raw:   `[{"id":9007199254740993,"text":"x"}]`,
			scope: ScopeTask,
			want:  []Item{{ID: "9007199254740993", Scope: ScopeTask, Snippet: "x"}},
		},
		{
			name:  "updated_at alias",
			raw:   `[{"id":"a","text":"x","updated_at":"2024-05-01"}]`,
			scope: ScopeTask,
			want:  []Item{{ID: "a", Scope: ScopeTask, Snippet: "x", UpdatedAt: "2024-05-01"}},
		},
		{
			name:  "non-object elements dropped",
			raw:   `["a", 1, null, {"id":"a","text":"x"}]`,
			scope: ScopeTask,
			want:  []Item{{ID: "a", Scope: ScopeTask, Snippet: "x"}},
		},
		{
			name:  "object without list",
			raw:   `{"id":"a","text":"x"}`,
			scope: ScopeTask,
			want:  []Item{},
		},
		{
			name:  "data is not a list",
			raw:   `{"data":{"id":"a","text":"x"}}`,
			scope: ScopeTask,
			want:  []Item{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, gjson.Valid(tt.raw))
			assert.Equal(t, tt.want, normalize(gjson.Parse(tt.raw), tt.scope))
		})
	}
}

func TestNormalize_NonJSON(t *testing.T) {
	items := normalize(gjson.Result{Type: gjson.String, Str: "ok"}, ScopeTask)
	assert.NotNil(t, items)
	assert.Empty(t, items)

	assert.Empty(t, normalize(gjson.Result{}, ScopeTask))
}
