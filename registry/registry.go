package registry

import (
	"fmt"
	"sync"

	"github.com/tidehq/tide/flow"
	"github.com/tidehq/tide/webhook"
)

// Registry holds the workflows and webhook sources registered during
// bootstrap. It is frozen when the agent starts; there is no mutable global
// registry during steady-state operation.
type Registry struct {
	mu        sync.Mutex
	frozen    bool
	workflows map[string]*flow.Workflow
	sources   map[string]webhook.Source
}

func New() *Registry {
	return &Registry{
		workflows: make(map[string]*flow.Workflow),
		sources:   make(map[string]webhook.Source),
	}
}

func (r *Registry) RegisterWorkflow(wf *flow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("can not register workflow %s after start", wf.Name)
	}
	if _, ok := r.workflows[wf.Name]; ok {
		return fmt.Errorf("workflow %s already registered", wf.Name)
	}
	r.workflows[wf.Name] = wf
	return nil
}

func (r *Registry) RegisterSource(source webhook.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("can not register webhook source %s after start", source.Name())
	}
	if _, ok := r.sources[source.Name()]; ok {
		return fmt.Errorf("webhook source %s already registered", source.Name())
	}
	r.sources[source.Name()] = source
	return nil
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

func (r *Registry) Workflows() []*flow.Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	workflows := make([]*flow.Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		workflows = append(workflows, wf)
	}
	return workflows
}

func (r *Registry) Sources() map[string]webhook.Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	sources := make(map[string]webhook.Source, len(r.sources))
	for name, source := range r.sources {
		sources[name] = source
	}
	return sources
}
