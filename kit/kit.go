// Package kit holds small transport adapters shared by the engine's
// exposure surfaces.
package kit

import "context"

// Endpoint is a transport-agnostic request handler: decode happens at the
// edge, the endpoint sees a typed request.
type Endpoint func(ctx context.Context, req any) (any, error)
