package platform

import (
	"context"
	"sort"

	"promoflow-engine/pkg/errutil"
)

// Adapter is the per-network client contract. Implementations page
// through results with opaque cursors owned by the upstream API.
type Adapter interface {
	Name() string
	SearchPosts(ctx context.Context, term string, cursor string, limit int) (*PostPage, error)
	Engagements(ctx context.Context, postID string, kind EngagementType, cursor string, limit int) (*EngagementPage, error)
}

// Registry resolves adapters by platform name.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, errutil.NotFound("unknown platform", nil,
			errutil.WithDetails(errutil.Detail{Field: "platform", Message: name}))
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
