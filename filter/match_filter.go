package filter

import (
	"context"
	"strconv"

	"github.com/oliveagle/jsonpath"
	"github.com/tidehq/tide/flow"
	"github.com/tidehq/tide/model"
)

var _ flow.Filter = new(matchFilter)

// matchFilter accepts an item when a jsonpath lookup on its payload equals
// the expected value. A missing path rejects the item.
type matchFilter struct {
	expression string
	expected   string
}

func NewMatchFilter(expression string, expected string) *matchFilter {
	return &matchFilter{
		expression: expression,
		expected:   expected,
	}
}

func (f *matchFilter) Evaluate(ctx context.Context, item model.Item) (flow.Decision, model.Item, error) {
	value, err := jsonpath.JsonPathLookup(map[string]any(item.Payload), f.expression)
	if err != nil {
		return flow.REJECT, item, nil
	}
	found := ""
	switch v := value.(type) {
	case int:
		found = strconv.Itoa(v)
	case int16:
		found = strconv.FormatInt(int64(v), 10)
	case int32:
		found = strconv.FormatInt(int64(v), 10)
	case int64:
		found = strconv.FormatInt(v, 10)
	case float32:
		found = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		found = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		found = strconv.FormatBool(v)
	case string:
		found = v
	}
	if found == f.expected {
		return flow.ACCEPT, item, nil
	}
	return flow.REJECT, item, nil
}
