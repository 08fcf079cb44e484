package jwks

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("jwks: invalid token")
	ErrMissingSub   = errors.New("jwks: token has no subject")
	ErrAlgorithm    = errors.New("jwks: signing algorithm not allowed")
)

// Claims are the OIDC access token claims the middleware reads.
type Claims struct {
	Azp   string `json:"azp,omitempty"`
	Scope string `json:"scope,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type VerifierConfig struct {
	Issuer     string
	Audience   string
	Algorithms []string
	Leeway     time.Duration
}

type Verifier struct {
	keyfunc    jwt.Keyfunc
	algorithms []string
	parser     *jwt.Parser
	signature  *jwt.Parser
	validator  *jwt.Validator
}

// NewVerifier checks signatures with keyfunc. Issuer and audience are only
// enforced when configured; algorithms default to RS256.
func NewVerifier(keyfunc jwt.Keyfunc, cfg VerifierConfig) *Verifier {
	algorithms := cfg.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{jwt.SigningMethodRS256.Alg()}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(algorithms),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}

	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &Verifier{
		keyfunc:    keyfunc,
		algorithms: algorithms,
		parser:     jwt.NewParser(opts...),
		signature:  jwt.NewParser(jwt.WithValidMethods(algorithms), jwt.WithoutClaimsValidation()),
		validator:  jwt.NewValidator(opts...),
	}
}

// Keyfunc resolves the verification key, refusing tokens signed with an
// algorithm outside the configured set.
func (v *Verifier) Keyfunc(token *jwt.Token) (any, error) {
	if token.Method == nil || !slices.Contains(v.algorithms, token.Method.Alg()) {
		return nil, ErrAlgorithm
	}

	return v.keyfunc(token)
}

// Validate checks the claims of an already signature-verified token.
func (v *Verifier) Validate(claims *Claims) error {
	if err := v.validator.Validate(claims); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return ErrMissingSub
	}

	return nil
}

// ParseSignature checks only the algorithm and signature of tokenString.
// The claims still have to go through Validate.
func (v *Verifier) ParseSignature(tokenString string) (*jwt.Token, error) {
	token, err := v.signature.ParseWithClaims(tokenString, &Claims{}, v.Keyfunc) //nolint:exhaustruct
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return token, nil
}

func (v *Verifier) Verify(tokenString string) (*jwt.Token, *Claims, error) {
	claims := &Claims{} //nolint:exhaustruct

	token, err := v.parser.ParseWithClaims(tokenString, claims, v.keyfunc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, nil, ErrMissingSub
	}

	return token, claims, nil
}
