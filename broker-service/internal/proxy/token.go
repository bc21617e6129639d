package proxy

import (
	"context"

	"golang.org/x/oauth2"
)

//go:generate mockgen -destination=mocks/mock_token_provider.go -package=mocks -source=token.go TokenProvider

// TokenProvider yields the bearer token for one upstream call.
type TokenProvider interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Invalidator is implemented by providers that cache tokens. The proxy calls
// it when the resource server rejects a token.
type Invalidator interface {
	Invalidate()
}
