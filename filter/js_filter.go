package filter

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/tidehq/tide/flow"
	"github.com/tidehq/tide/model"
)

var _ flow.Filter = new(scriptFilter)

// scriptFilter evaluates a javascript expression against the item payload,
// bound as `$`. A truthy result accepts the item.
type scriptFilter struct {
	name       string
	expression string
}

func NewScriptFilter(name string, expression string) (*scriptFilter, error) {
	if len(expression) == 0 {
		return nil, fmt.Errorf("filter %s: expression can not be empty", name)
	}
	return &scriptFilter{
		name:       name,
		expression: expression,
	}, nil
}

func (f *scriptFilter) Evaluate(ctx context.Context, item model.Item) (flow.Decision, model.Item, error) {
	vm := goja.New()
	if err := vm.Set("$", item.Payload); err != nil {
		return flow.REJECT, item, flow.PermanentError{Err: err}
	}
	value, err := vm.RunString(f.expression)
	if err != nil {
		return flow.REJECT, item, flow.PermanentError{Err: fmt.Errorf("filter %s: error executing javascript %w", f.name, err)}
	}
	if value.ToBoolean() {
		return flow.ACCEPT, item, nil
	}
	return flow.REJECT, item, nil
}
