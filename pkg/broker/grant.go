package broker

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redhat-et/card-broker/pkg/auth"
	"github.com/redhat-et/card-broker/pkg/fault"
)

// GrantMode names how the broker proves its identity to the token endpoint.
type GrantMode string

const (
	// ModeAssertion authenticates with a signed JWT client assertion.
	ModeAssertion GrantMode = "assertion"
	// ModeClientSecret authenticates with HTTP Basic client credentials.
	ModeClientSecret GrantMode = "client_secret"
)

// ParseGrantMode accepts the configured mode name.
func ParseGrantMode(s string) (GrantMode, error) {
	switch GrantMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeAssertion, "":
		return ModeAssertion, nil
	case ModeClientSecret, "secret", "basic":
		return ModeClientSecret, nil
	default:
		return "", fault.New(fault.KindConfiguration, "grant mode", fmt.Sprintf("unknown grant mode %q", s))
	}
}

const grantTypeClientCredentials = "client_credentials"

// tokenRequest is the form and headers of one token endpoint call.
type tokenRequest struct {
	form   url.Values
	header http.Header
	// assertionID is set in assertion mode so spans can correlate the jti.
	assertionID string
}

// GrantStrategy fills in the client authentication part of a
// client_credentials request. Implementations are AssertionGrant and
// ClientSecretGrant.
type GrantStrategy interface {
	Mode() GrantMode
	authorize(req *tokenRequest, now time.Time) error
}

// AssertionGrant authenticates with a freshly signed client assertion per
// call, optionally alongside the Basic credentials.
type AssertionGrant struct {
	signer    *auth.Signer
	identity  auth.ClientIdentity
	dualProof bool
}

// NewAssertionGrant requires a client secret only when dualProof is set.
func NewAssertionGrant(identity auth.ClientIdentity, signer *auth.Signer, dualProof bool) (*AssertionGrant, error) {
	validate := identity.Validate
	if dualProof {
		validate = identity.ValidateForSecret
	}
	if err := validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, fault.New(fault.KindConfiguration, "assertion grant", "signer is required")
	}
	return &AssertionGrant{signer: signer, identity: identity, dualProof: dualProof}, nil
}

func (g *AssertionGrant) Mode() GrantMode { return ModeAssertion }

func (g *AssertionGrant) authorize(req *tokenRequest, now time.Time) error {
	assertion, err := g.signer.Sign(now)
	if err != nil {
		return err
	}
	req.form.Set("client_assertion_type", auth.ClientAssertionType)
	req.form.Set("client_assertion", assertion.Token)
	req.assertionID = assertion.ID

	if g.dualProof {
		header, err := auth.BasicAuthHeader(g.identity)
		if err != nil {
			return err
		}
		req.header.Set("Authorization", header)
	}
	return nil
}

// ClientSecretGrant authenticates with HTTP Basic and sends the audience and
// scopes in the form.
type ClientSecretGrant struct {
	identity auth.ClientIdentity
	scopes   []string
}

func NewClientSecretGrant(identity auth.ClientIdentity, scopes []string) (*ClientSecretGrant, error) {
	if err := identity.ValidateForSecret(); err != nil {
		return nil, err
	}
	var cleaned []string
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return &ClientSecretGrant{identity: identity, scopes: cleaned}, nil
}

func (g *ClientSecretGrant) Mode() GrantMode { return ModeClientSecret }

func (g *ClientSecretGrant) authorize(req *tokenRequest, _ time.Time) error {
	header, err := auth.BasicAuthHeader(g.identity)
	if err != nil {
		return err
	}
	req.header.Set("Authorization", header)
	req.form.Set("audience", strings.TrimSpace(g.identity.Audience))
	if len(g.scopes) > 0 {
		req.form.Set("scope", strings.Join(g.scopes, " "))
	}
	return nil
}

func newTokenRequest() *tokenRequest {
	req := &tokenRequest{
		form:   url.Values{},
		header: http.Header{},
	}
	req.form.Set("grant_type", grantTypeClientCredentials)
	req.header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.header.Set("Accept", "application/json")
	return req
}
