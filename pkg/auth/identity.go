package auth

import (
	"fmt"
	"strings"

	"github.com/redhat-et/card-broker/pkg/fault"
)

// ClientIdentity identifies the broker as a confidential OAuth2 client.
// It is built once at startup and never mutated.
type ClientIdentity struct {
	ClientID     string
	ClientSecret string
	Audience     string
}

// NewClientIdentity trims every field. Use Validate or ValidateForSecret to
// check that the result is usable.
func NewClientIdentity(clientID, clientSecret, audience string) ClientIdentity {
	return ClientIdentity{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
		Audience:     strings.TrimSpace(audience),
	}
}

// Validate checks the fields every grant needs: client id and audience.
func (c ClientIdentity) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fault.New(fault.KindConfiguration, "client identity", "client_id is required")
	}
	if strings.TrimSpace(c.Audience) == "" {
		return fault.New(fault.KindConfiguration, "client identity", "audience is required")
	}
	return nil
}

// ValidateForSecret additionally requires the client secret.
func (c ClientIdentity) ValidateForSecret() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ClientSecret == "" {
		return fault.New(fault.KindConfiguration, "client identity", "client_secret is required")
	}
	return nil
}

// String never includes the secret.
func (c ClientIdentity) String() string {
	secret := "<empty>"
	if c.ClientSecret != "" {
		secret = "[REDACTED]"
	}
	return fmt.Sprintf("ClientIdentity{ClientID: %s, Audience: %s, ClientSecret: %s}", c.ClientID, c.Audience, secret)
}
