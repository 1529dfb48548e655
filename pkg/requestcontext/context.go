// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are typically set by middleware but consumed by services. Keeping
// this package free of net/http dependencies lets services import only what
// they need.
//
// Usage in services (read values):
//
//	partyID := requestcontext.PartyID(ctx)
//	now := requestcontext.Now(ctx)
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithPartyID(ctx, petitionerID)
package requestcontext

import (
	"context"
	"time"

	id "clearfund/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	partyIDKey     struct{}
	caseIDKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need context.WithValue directly.
var (
	ContextKeyPartyID     = partyIDKey{}
	ContextKeyCaseID      = caseIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// PartyID retrieves the authenticated party ID from the context.
// Returns the zero value (nil UUID) if not set.
func PartyID(ctx context.Context) id.PartyID {
	if partyID, ok := ctx.Value(ContextKeyPartyID).(id.PartyID); ok {
		return partyID
	}
	return id.PartyID{}
}

// WithPartyID injects a party ID into the context.
func WithPartyID(ctx context.Context, partyID id.PartyID) context.Context {
	return context.WithValue(ctx, ContextKeyPartyID, partyID)
}

// CaseID retrieves the case scope from the context.
func CaseID(ctx context.Context) id.CaseID {
	if caseID, ok := ctx.Value(ContextKeyCaseID).(id.CaseID); ok {
		return caseID
	}
	return id.CaseID{}
}

// WithCaseID injects a case scope into the context.
func WithCaseID(ctx context.Context, caseID id.CaseID) context.Context {
	return context.WithValue(ctx, ContextKeyCaseID, caseID)
}

// RequestID retrieves the correlation ID from the context.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID injects a correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now returns the request time from the context, falling back to the wall
// clock. Services derive every timestamp from this so tests can pin time.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now().UTC()
}

// WithTime pins the request time in the context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
