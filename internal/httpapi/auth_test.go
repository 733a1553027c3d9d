package httpapi

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
	"github.com/tonyb8121/Inventory-Management-System/internal/store/memory"
)

func newAuthFixture(t *testing.T, users ...domain.User) (*AuthManager, *memory.Store) {
	t.Helper()
	repo := memory.New()
	for _, u := range users {
		_, err := repo.CreateUser(context.Background(), u)
		require.NoError(t, err)
	}
	return NewAuthManager(testSecret, time.Hour, repo, zaptest.NewLogger(t)), repo
}

func TestLoginIssuesTokenThatParsesBack(t *testing.T) {
	auth, _ := newAuthFixture(t, domain.User{
		Username: "owner", Password: mustHashPassword(t, "secret-1"), Role: domain.RoleOwner, Active: true,
	})

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "OWNER", Password: "secret-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleOwner, resp.Role)

	actor, err := auth.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "owner", Role: domain.RoleOwner}, actor)
}

func TestLoginRejectsBadCredentialsAndInactiveAccounts(t *testing.T) {
	auth, _ := newAuthFixture(t,
		domain.User{Username: "owner", Password: mustHashPassword(t, "secret-1"), Role: domain.RoleOwner, Active: true},
		domain.User{Username: "former", Password: mustHashPassword(t, "secret-2"), Role: domain.RoleCashier, Active: false},
	)
	ctx := context.Background()

	_, err := auth.Login(ctx, domain.LoginRequest{Username: "owner", Password: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, domain.LoginRequest{Username: "nobody", Password: "secret-1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, domain.LoginRequest{Username: "former", Password: "secret-2"})
	assert.ErrorIs(t, err, ErrInactiveAccount)
}

func TestLoginUpgradesLegacyPlainPassword(t *testing.T) {
	auth, repo := newAuthFixture(t, domain.User{
		Username: "legacy", Password: "plain-pass", Role: domain.RoleCashier, Active: true,
	})
	ctx := context.Background()

	_, err := auth.Login(ctx, domain.LoginRequest{Username: "legacy", Password: "plain-pass"})
	require.NoError(t, err)

	user, err := repo.GetUserByUsername(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, isPasswordHash(user.Password))

	_, err = auth.Login(ctx, domain.LoginRequest{Username: "legacy", Password: "plain-pass"})
	assert.NoError(t, err)
}

func TestUpgradeLegacyPasswordsSkipsHashes(t *testing.T) {
	auth, repo := newAuthFixture(t,
		domain.User{Username: "legacy", Password: "plain-pass", Role: domain.RoleCashier, Active: true},
		domain.User{Username: "modern", Password: mustHashPassword(t, "x"), Role: domain.RoleOwner, Active: true},
	)

	upgraded, err := auth.UpgradeLegacyPasswords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, upgraded)

	user, err := repo.GetUserByUsername(context.Background(), "legacy")
	require.NoError(t, err)
	assert.True(t, verifyPassword(user.Password, "plain-pass"))
}

func TestParseTokenRejectsForeignTokens(t *testing.T) {
	auth, _ := newAuthFixture(t)

	expired, err := auth.sign("owner", domain.RoleOwner, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthManager("another-secret-of-sufficient-length!!", time.Hour, nil, nil)
	forged, err := other.sign("owner", domain.RoleOwner, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	unsigned := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "owner", Issuer: tokenIssuer},
		Role:             domain.RoleOwner,
	})
	raw, err := unsigned.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ParseToken(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
