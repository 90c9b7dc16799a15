// Package ratelimit bounds request rates per client key. The port is
// backed by Redis in shared deployments and by an in-process map for
// single-instance/dev mode.
package ratelimit

import "context"

// Limiter answers whether the keyed caller may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
