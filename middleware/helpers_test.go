package middleware_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/andyle182810/tessera-sdk/httpclient"
	"github.com/andyle182810/tessera-sdk/identies"
	"github.com/andyle182810/tessera-sdk/jwks"
	"github.com/andyle182810/tessera-sdk/users"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const (
	testAudience = "https://api.tessera.test"
	testIssuer   = "https://auth.tessera.test/"
)

var errDatabaseDown = errors.New("database is down")

type fakeUserService struct {
	mu        sync.Mutex
	users     map[string]*users.User
	onboarded []*users.Onboard
	lookups   int
	lookupErr error
	createErr error
}

func newFakeUserService(existing ...*users.User) *fakeUserService {
	svc := &fakeUserService{users: map[string]*users.User{}} //nolint:exhaustruct
	for _, user := range existing {
		svc.users[user.ExternalID] = user
	}

	return svc
}

func (s *fakeUserService) GetUserByExternalID(_ context.Context, externalID string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookups++

	if s.lookupErr != nil {
		return nil, s.lookupErr
	}

	user, ok := s.users[externalID]
	if !ok {
		return nil, users.ErrUserNotFound
	}

	return user, nil
}

func (s *fakeUserService) OnboardUser(_ context.Context, onboard *users.Onboard) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onboarded = append(s.onboarded, onboard)

	if s.createErr != nil {
		return nil, s.createErr
	}

	user := &users.User{ //nolint:exhaustruct
		ID:         uuid.New(),
		ExternalID: onboard.ExternalID,
		Email:      onboard.Email,
		FirstName:  onboard.FirstName,
		LastName:   onboard.LastName,
	}
	s.users[onboard.ExternalID] = user

	return user, nil
}

func (s *fakeUserService) onboardCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.onboarded)
}

func newUser(externalID string) *users.User {
	return &users.User{ID: uuid.New(), ExternalID: externalID} //nolint:exhaustruct
}

type signer struct {
	key      *rsa.PrivateKey
	verifier *jwks.Verifier
}

func newSigner(t *testing.T) *signer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyfunc := func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}

	return &signer{
		key: key,
		verifier: jwks.NewVerifier(keyfunc, jwks.VerifierConfig{ //nolint:exhaustruct
			Issuer:   testIssuer,
			Audience: testAudience,
		}),
	}
}

func (s *signer) token(t *testing.T, subject string, overrides jwt.MapClaims) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":   subject,
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   time.Now().Add(time.Hour).Unix(),
		"email": "ada@example.com",
	}

	for k, v := range overrides {
		claims[k] = v
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	require.NoError(t, err)

	return signed
}

// newIdenties starts a fake Identies API and returns a client with fast
// retries pointed at it.
func newIdenties(t *testing.T, handler http.HandlerFunc) (*identies.Client, string) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := identies.New(server.URL, fastRetries()...)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client, server.URL
}

func fastRetries() []httpclient.Option {
	return []httpclient.Option{
		httpclient.WithMaxRetries(1),
		httpclient.WithRetryWaitTime(time.Millisecond, 5*time.Millisecond),
	}
}

func userInfoBody(id uuid.UUID) map[string]any {
	return map[string]any{
		"id":         id.String(),
		"email":      "ada@example.com",
		"first_name": "Ada",
		"last_name":  "Lovelace",
		"verified":   true,
		"created_at": "2024-01-01T00:00:00Z",
		"updated_at": "2024-01-01T00:00:00Z",
	}
}
