// Package registry resolves endpoint names to the addresses that serve them.
package registry

import "errors"

// ErrNotFound is returned by Discover when no instance serves the endpoint.
var ErrNotFound = errors.New("endpoint not registered")

// Instance is one address serving an endpoint.
type Instance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight,omitempty"` // Weight for load balancing
	Version string `json:"version,omitempty"`
}

type Registry interface {
	Register(endpointID string, instance Instance, ttl int64) error
	Deregister(endpointID string, addr string) error
	Discover(endpointID string) ([]Instance, error)
}
