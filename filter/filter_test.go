package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidehq/tide/flow"
	"github.com/tidehq/tide/model"
)

func testItem() model.Item {
	return model.Item{
		Id: "item-1",
		Payload: map[string]any{
			"priority": float64(4),
			"project":  "inbox",
			"done":     false,
			"labels":   []any{"urgent", "home"},
		},
	}
}

func TestScriptFilter(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test truthy expression accepts": func(t *testing.T) {
			f, err := NewScriptFilter("priority", "$.priority >= 4")
			require.NoError(t, err)
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.ACCEPT, decision)
		},
		"test falsy expression rejects": func(t *testing.T) {
			f, err := NewScriptFilter("done", "$.done")
			require.NoError(t, err)
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.REJECT, decision)
		},
		"test compound expression": func(t *testing.T) {
			f, err := NewScriptFilter("compound", `$.project == "inbox" && $.labels.indexOf("urgent") >= 0`)
			require.NoError(t, err)
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.ACCEPT, decision)
		},
		"test missing field is falsy": func(t *testing.T) {
			f, err := NewScriptFilter("missing", "$.no_such_field")
			require.NoError(t, err)
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.REJECT, decision)
		},
		"test syntax error is permanent": func(t *testing.T) {
			f, err := NewScriptFilter("broken", "$.priority >=")
			require.NoError(t, err)
			_, _, err = f.Evaluate(context.Background(), testItem())
			require.Error(t, err)
			require.True(t, flow.IsPermanent(err))
		},
		"test empty expression is rejected": func(t *testing.T) {
			_, err := NewScriptFilter("empty", "")
			require.Error(t, err)
		},
	} {
		t.Run(scenario, fn)
	}
}

func TestMatchFilter(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"test string match accepts": func(t *testing.T) {
			f := NewMatchFilter("$.project", "inbox")
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.ACCEPT, decision)
		},
		"test string mismatch rejects": func(t *testing.T) {
			f := NewMatchFilter("$.project", "work")
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.REJECT, decision)
		},
		"test number match accepts": func(t *testing.T) {
			f := NewMatchFilter("$.priority", "4")
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.ACCEPT, decision)
		},
		"test bool match accepts": func(t *testing.T) {
			f := NewMatchFilter("$.done", "false")
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.ACCEPT, decision)
		},
		"test int64 payload matches": func(t *testing.T) {
			// collectors are in-process, so numeric fields arrive as native
			// integer types, not just json float64
			item := model.Item{Id: "i1", Payload: map[string]any{"priority": int64(4)}}
			f := NewMatchFilter("$.priority", "4")
			decision, _, err := f.Evaluate(context.Background(), item)
			require.NoError(t, err)
			require.Equal(t, flow.ACCEPT, decision)
		},
		"test int32 payload matches": func(t *testing.T) {
			item := model.Item{Id: "i1", Payload: map[string]any{"count": int32(7)}}
			f := NewMatchFilter("$.count", "7")
			decision, _, err := f.Evaluate(context.Background(), item)
			require.NoError(t, err)
			require.Equal(t, flow.ACCEPT, decision)
		},
		"test float32 payload matches": func(t *testing.T) {
			item := model.Item{Id: "i1", Payload: map[string]any{"ratio": float32(2.5)}}
			f := NewMatchFilter("$.ratio", "2.5")
			decision, _, err := f.Evaluate(context.Background(), item)
			require.NoError(t, err)
			require.Equal(t, flow.ACCEPT, decision)
		},
		"test missing path rejects without error": func(t *testing.T) {
			f := NewMatchFilter("$.no_such_field", "anything")
			decision, _, err := f.Evaluate(context.Background(), testItem())
			require.NoError(t, err)
			require.Equal(t, flow.REJECT, decision)
		},
	} {
		t.Run(scenario, fn)
	}
}
