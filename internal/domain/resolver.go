package domain

import "context"

// ResolveContext carries the conversation identity into the lookup engine.
type ResolveContext struct {
	Platform Platform
	ChatID   string
	UserID   string
}

// Resolver turns message text into a reply. The engine is opaque to the
// pipeline: an error is a transient collaborator failure, a returned string
// is the reply to deliver.
type Resolver interface {
	Resolve(ctx context.Context, text string, rc ResolveContext) (string, error)
}
