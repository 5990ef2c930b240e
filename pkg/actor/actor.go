// Package actor carries the identity of whoever performs a stock movement
// from the transport layer down to the ledger.
//
// Identity is owned by an upstream gateway. This service only records the
// id and display name it is handed, either from forwarded headers or from
// the claims of a verified bearer token.
package actor

import (
	"context"
	"fmt"
)

// SystemID is recorded for movements started by background jobs.
const SystemID = "00000000-0000-0000-0000-000000000000"

// Actor represents the entity performing an action in the system.
type Actor struct {
	// ID is the upstream user id
	ID string `json:"id"`

	// Name is the display name stored on ledger entries
	Name string `json:"name"`

	// Role is informational only, authorisation happens upstream
	Role string `json:"role,omitempty"`
}

// DisplayName falls back to the id when no name was forwarded.
func (a *Actor) DisplayName() string {
	if a == nil {
		return "system"
	}
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// String returns a string representation of the actor for logging
func (a *Actor) String() string {
	if a == nil {
		return "system"
	}
	return fmt.Sprintf("%s (%s)", a.DisplayName(), a.ID)
}

type contextKey string

const actorContextKey contextKey = "actor"

// FromContext retrieves the Actor from the context.
// Returns nil if no actor is present (e.g., system operations).
func FromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return nil
	}
	a, ok := ctx.Value(actorContextKey).(*Actor)
	if !ok {
		return nil
	}
	return a
}

// WithActor returns a new context with the Actor attached.
func WithActor(ctx context.Context, a *Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorContextKey, a)
}

// OrSystem returns the actor in ctx, or the system actor when there is none.
func OrSystem(ctx context.Context) *Actor {
	if a := FromContext(ctx); a != nil {
		return a
	}
	return SystemActor()
}

// SystemActor returns an Actor representing the service itself.
// Use this for the expiry job and scheduled alert passes.
func SystemActor() *Actor {
	return &Actor{
		ID:   SystemID,
		Name: "system",
	}
}

// IsSystem returns true if the actor represents the system.
func (a *Actor) IsSystem() bool {
	if a == nil {
		return true
	}
	return a.ID == SystemID
}
