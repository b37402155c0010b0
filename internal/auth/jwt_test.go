package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/custos/internal/auth"
	"github.com/gosuda/custos/internal/domain"
)

const testSecret = "test-secret-key-very-long-and-secure"

func TestJWT_IssueAndValidateRoundTrip(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	tests := []struct {
		name        string
		ref         domain.AgentRef
		wantSubject string
	}{
		{
			name:        "identified agent",
			ref:         domain.IdentifiedAgent(domain.KindUser, userID),
			wantSubject: userID.String(),
		},
		{
			name:        "singleton agent",
			ref:         domain.SingletonAgent("system"),
			wantSubject: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			token, err := auth.IssueToken(testSecret, "custos", tt.ref, 5*time.Minute)
			require.NoError(t, err)
			require.NotEmpty(t, token)

			claims, err := auth.ValidateToken(testSecret, "custos", token)
			require.NoError(t, err)
			require.NotNil(t, claims)

			assert.Equal(t, tt.wantSubject, claims.Subject)
			assert.Equal(t, tt.ref.Kind(), claims.AgentType)
			assert.Equal(t, "custos", claims.Issuer)
			assert.NotNil(t, claims.IssuedAt)
			assert.NotNil(t, claims.ExpiresAt)

			ref, err := claims.AgentRef()
			require.NoError(t, err)
			assert.Equal(t, tt.ref, ref)
		})
	}
}

func TestJWT_Rejected(t *testing.T) {
	t.Parallel()

	ref := domain.IdentifiedAgent(domain.KindUser, uuid.New())

	expired, err := auth.IssueToken(testSecret, "custos", ref, -1*time.Second)
	require.NoError(t, err)
	valid, err := auth.IssueToken(testSecret, "custos", ref, 5*time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		issuer string
		token  string
	}{
		{"expired", testSecret, "custos", expired},
		{"wrong secret", "another-secret-key-very-long-and-secure", "custos", valid},
		{"wrong issuer", testSecret, "someone-else", valid},
		{"malformed", testSecret, "custos", "not.a.valid.jwt.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims, err := auth.ValidateToken(tt.secret, tt.issuer, tt.token)
			require.Error(t, err)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestJWT_AnyIssuerWhenUnset(t *testing.T) {
	t.Parallel()

	token, err := auth.IssueToken(testSecret, "elsewhere", domain.SingletonAgent("system"), time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(testSecret, "", token)
	assert.NoError(t, err)
}

func TestJWT_IssueRequiresAgentType(t *testing.T) {
	t.Parallel()

	_, err := auth.IssueToken(testSecret, "custos", domain.AgentRef{}, time.Minute)
	assert.Error(t, err)
}

func TestClaims_AgentRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		claims  auth.Claims
		wantErr bool
	}{
		{"missing type", auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}}, true},
		{"bad subject", auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "bob"}, AgentType: "user"}, true},
		{"nil subject", auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.Nil.String()}, AgentType: "user"}, true},
		{"singleton", auth.Claims{AgentType: "system"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := tt.claims.AgentRef()
			if tt.wantErr {
				assert.ErrorIs(t, err, auth.ErrInvalidToken)
				return
			}
			assert.NoError(t, err)
		})
	}
}
