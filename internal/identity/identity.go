// Package identity resolves caller credentials to an owner and role. The
// only credential type today is the API key; the Verifier interface keeps
// the HTTP layer ignorant of that.
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidCredential indicates the presented credential matched no active
// key. Deliberately indistinguishable from "key revoked" at the API surface.
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is an authenticated caller.
type Identity struct {
	SubjectID uuid.UUID
	Role      string
}

// Verifier turns a raw credential into an Identity.
type Verifier interface {
	Verify(ctx context.Context, credential string) (Identity, error)
}
