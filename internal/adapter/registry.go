package adapter

import (
	"fmt"
	"strings"
	"sync"

	"github.com/SaptorsheeNag/us-policywatch-sub001/internal/ingest"
)

// Registry builds one adapter strategy per configured source on first use.
type Registry struct {
	deps  Deps
	order []string
	defs  map[string]ingest.SourceDefinition

	mu       sync.Mutex
	adapters map[string]ingest.Adapter
}

// NewRegistry indexes the source definitions by name.
func NewRegistry(defs []ingest.SourceDefinition, deps Deps) *Registry {
	r := &Registry{
		deps:     deps,
		defs:     make(map[string]ingest.SourceDefinition, len(defs)),
		adapters: make(map[string]ingest.Adapter, len(defs)),
	}
	for _, def := range defs {
		if _, dup := r.defs[def.Name]; !dup {
			r.order = append(r.order, def.Name)
		}
		r.defs[def.Name] = def
	}
	return r
}

// Names returns the configured source names in declaration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definition returns the definition for name.
func (r *Registry) Definition(name string) (ingest.SourceDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Definitions returns every definition in declaration order.
func (r *Registry) Definitions() []ingest.SourceDefinition {
	out := make([]ingest.SourceDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Adapter returns the memoized strategy for name, building it on first use.
func (r *Registry) Adapter(name string) (ingest.Adapter, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingest.ErrUnknownSource, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	a, err := Build(def, r.deps)
	if err != nil {
		return nil, err
	}
	r.adapters[name] = a
	return a, nil
}

// Build validates def and constructs the strategy for its kind.
func Build(def ingest.SourceDefinition, deps Deps) (ingest.Adapter, error) {
	if err := checkPagination(def); err != nil {
		return nil, err
	}
	var (
		a   ingest.Adapter
		err error
	)
	switch def.Kind {
	case ingest.KindHTMLListing:
		a, err = adapterOf(NewListing(def, deps))
	case ingest.KindAJAXFragment:
		a, err = adapterOf(NewAJAXFragment(def, deps))
	case ingest.KindPDFListing:
		a, err = adapterOf(NewDocument(def, deps))
	case ingest.KindFeed:
		a, err = adapterOf(NewFeed(def, deps))
	case ingest.KindJSONAPI:
		a, err = adapterOf(NewJSONAPI(def, deps))
	default:
		err = ingest.NewConfigError(def.Name, "unknown kind %q", def.Kind)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// adapterOf keeps a failed constructor from producing a typed-nil adapter.
func adapterOf(a ingest.Adapter, err error) (ingest.Adapter, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

func checkPagination(def ingest.SourceDefinition) error {
	p := def.Pagination
	if p.PathTemplate != "" && !strings.Contains(p.PathTemplate, "%d") {
		return ingest.NewConfigError(def.Name, "pagination.path_template %q has no %%d verb", p.PathTemplate)
	}
	switch def.Kind {
	case ingest.KindHTMLListing, ingest.KindPDFListing:
		if !p.Configured() && def.MaxPages != 1 {
			return ingest.NewConfigError(def.Name, "no pagination strategy for kind %s", def.Kind)
		}
	}
	return nil
}
