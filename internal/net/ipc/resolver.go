package ipc

import "context"

// Resolver locates the endpoint(s) at which a service instance is offered.
type Resolver interface {
	// IsConstant 返回 resolver 是否不变的
	IsConstant() bool

	// Resolve returns the current endpoints. For a non-constant resolver,
	// passing the previously returned version blocks until the set changes.
	Resolve(ctx context.Context, version *Version) ([]Endpoint, *Version, error)
}

// Version is an opaque token identifying one resolved endpoint set.
type Version struct {
	Opaque string
}

type constantResolver struct {
	endpoints []Endpoint
}

var _ Resolver = &constantResolver{}

func (c *constantResolver) IsConstant() bool {
	return true
}

func (c *constantResolver) Resolve(ctx context.Context, version *Version) ([]Endpoint, *Version, error) {
	return c.endpoints, nil, nil
}

func NewConstantResolver(endpoints ...Endpoint) Resolver {
	return &constantResolver{endpoints: endpoints}
}
