// Package discovery resolves partition member ids to RPC addresses. The
// partition configuration only carries member ids; a Resolver supplies the
// address the transport dials.
package discovery

import (
    "context"
    "errors"

    "github.com/amirimatin/go-partition/pkg/consensus"
)

// ErrNotFound is returned when a resolver has no address for a member.
var ErrNotFound = errors.New("discovery: member address not found")

// Resolver maps a member id to its current RPC address.
type Resolver interface {
    Resolve(ctx context.Context, id consensus.MemberID) (string, error)
}
