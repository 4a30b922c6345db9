// Package auth defines the bearer-token verification contract the hub
// consumes at upgrade time. The hub never issues or stores tokens; it
// only asks a Verifier for a verdict.
package auth

import "context"

// Verifier validates an opaque bearer token and, on success, returns
// the subject it was issued to. The subject is used for logging only;
// the hub's room membership is keyed on the client-supplied clientId,
// not on the token subject.
//
// Implementations must be non-blocking or bounded-latency: Verify is
// called synchronously from the upgrade path and a slow verifier stalls
// the handshake.
type Verifier interface {
	Verify(ctx context.Context, token string) (subject string, err error)
}
