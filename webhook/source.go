package webhook

import (
	"net/http"

	"github.com/tidehq/tide/model"
)

// Trigger is the workflow invocation a delivery maps to.
type Trigger struct {
	WorkflowName string
	Item         model.Item
}

// Source defines one configured webhook origin: its authentication scheme,
// its delivery identity and its payload-to-trigger mapping.
type Source interface {
	Name() string

	// Verify authenticates the raw delivery. A delivery failing
	// verification is rejected without side effects.
	Verify(body []byte, headers http.Header) bool

	// DeliveryID returns the source-provided delivery identifier, or a
	// stable hash of the body when the source has none.
	DeliveryID(body []byte, headers http.Header) string

	// MapToTrigger maps the payload to a workflow trigger. Returning
	// (nil, nil) means the event type has no registered mapping and the
	// delivery is acknowledged and ignored.
	MapToTrigger(body []byte, headers http.Header) (*Trigger, error)
}
