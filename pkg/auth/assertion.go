package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"

	"github.com/redhat-et/card-broker/pkg/fault"
)

const (
	// ClientAssertionType is the client_assertion_type for JWT-bearer client
	// authentication (RFC 7523 section 2.2).
	//nolint:gosec // G101: OAuth2 URN identifier, not a credential
	ClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	// AssertionLifetime is the gap between iat and exp.
	AssertionLifetime = 300 * time.Second

	// DefaultAlgorithm is used when no signing algorithm is configured.
	DefaultAlgorithm = "RS256"
)

var supportedAlgorithms = map[string]jose.SignatureAlgorithm{
	"RS256": jose.RS256,
	"RS384": jose.RS384,
	"RS512": jose.RS512,
	"PS256": jose.PS256,
	"PS384": jose.PS384,
	"PS512": jose.PS512,
}

// Assertion is a signed client assertion, valid for a single token exchange.
type Assertion struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// String redacts the serialized token.
func (a *Assertion) String() string {
	return fmt.Sprintf("Assertion{ID: %s, IssuedAt: %s, ExpiresAt: %s, Token: [REDACTED]}",
		a.ID, a.IssuedAt.Format(time.RFC3339), a.ExpiresAt.Format(time.RFC3339))
}

// Signer builds client assertions for one identity and key. It holds no
// per-call state and is safe for concurrent use.
type Signer struct {
	identity ClientIdentity
	keyID    string
	alg      jose.SignatureAlgorithm
	signer   jose.Signer
	genID    func() string
}

// SignerOption configures a Signer.
type SignerOption func(*Signer) error

// WithAlgorithm selects the RSA signature algorithm (RS256 by default).
func WithAlgorithm(name string) SignerOption {
	return func(s *Signer) error {
		if name == "" {
			return nil
		}
		alg, ok := supportedAlgorithms[strings.ToUpper(name)]
		if !ok {
			return fmt.Errorf("unsupported signing algorithm %q", name)
		}
		s.alg = alg
		return nil
	}
}

// WithIDGenerator replaces the jti generator.
func WithIDGenerator(genID func() string) SignerOption {
	return func(s *Signer) error {
		if genID == nil {
			return fmt.Errorf("id generator must not be nil")
		}
		s.genID = genID
		return nil
	}
}

// NewSigner prepares a signer. A missing or unusable key is a configuration
// error.
func NewSigner(identity ClientIdentity, key *SigningKey, opts ...SignerOption) (*Signer, error) {
	if key == nil || key.Key == nil {
		return nil, fault.New(fault.KindConfiguration, "assertion signer", "signing key is not loaded")
	}

	s := &Signer{
		identity: identity,
		keyID:    key.KeyID,
		alg:      jose.RS256,
		genID:    uuid.NewString,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fault.Wrap(fault.KindConfiguration, "assertion signer", err)
		}
	}

	signerOpts := (&jose.SignerOptions{}).WithType("JWT")
	if key.KeyID != "" {
		signerOpts = signerOpts.WithHeader("kid", key.KeyID)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: s.alg, Key: key.Key}, signerOpts)
	if err != nil {
		return nil, fault.Wrap(fault.KindConfiguration, "assertion signer", fmt.Errorf("failed to create jwt signer: %w", err))
	}
	s.signer = signer
	return s, nil
}

// Algorithm returns the JWS algorithm name.
func (s *Signer) Algorithm() string {
	return string(s.alg)
}

// Sign builds a fresh assertion issued at now.
func (s *Signer) Sign(now time.Time) (*Assertion, error) {
	clientID := strings.TrimSpace(s.identity.ClientID)
	if clientID == "" {
		return nil, fault.New(fault.KindSigning, "sign assertion", "client_id is empty")
	}
	audience := strings.TrimSpace(s.identity.Audience)
	if audience == "" {
		return nil, fault.New(fault.KindSigning, "sign assertion", "audience is empty")
	}
	id := s.genID()
	if id == "" {
		return nil, fault.New(fault.KindSigning, "sign assertion", "failed to generate token id")
	}

	issuedAt := time.Unix(now.Unix(), 0).UTC()
	expiresAt := issuedAt.Add(AssertionLifetime)
	claims := jwt.Claims{
		Issuer:   clientID,
		Subject:  clientID,
		Audience: jwt.Audience{audience},
		IssuedAt: jwt.NewNumericDate(issuedAt),
		Expiry:   jwt.NewNumericDate(expiresAt),
		ID:       id,
	}

	token, err := jwt.Signed(s.signer).Claims(claims).Serialize()
	if err != nil {
		return nil, fault.Wrap(fault.KindSigning, "sign assertion", fmt.Errorf("failed to sign token: %w", err))
	}

	return &Assertion{
		Token:     token,
		ID:        id,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// SignAssertion signs a single assertion without keeping a Signer around.
func SignAssertion(identity ClientIdentity, key *SigningKey, now time.Time) (*Assertion, error) {
	s, err := NewSigner(identity, key)
	if err != nil {
		return nil, err
	}
	return s.Sign(now)
}
