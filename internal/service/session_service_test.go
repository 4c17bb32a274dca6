package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	"github.com/noah-isme/classroom-sync-api/internal/upstream"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
)

func newTestSessionService(now time.Time) *SessionService {
	svc := NewSessionService(SessionConfig{Secret: "secret", Issuer: "classroom-sync", Expiration: time.Hour})
	svc.now = func() time.Time { return now }
	return svc
}

func TestSessionServiceRoundTrip(t *testing.T) {
	now := time.Now()
	svc := newTestSessionService(now)

	token, expiresAt, err := svc.IssueToken(models.SessionUser{ID: "teacher-1", Email: "t@example.com"}, upstream.Credential{AccessToken: "ya29.token"})
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), expiresAt, time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", claims.UserID)
	assert.Equal(t, "ya29.token", SessionCredential(claims).AccessToken)
}

func TestSessionServiceCapsExpiryAtCredential(t *testing.T) {
	now := time.Now()
	svc := newTestSessionService(now)

	_, expiresAt, err := svc.IssueToken(models.SessionUser{ID: "teacher-1"}, upstream.Credential{AccessToken: "tok", Expiry: now.Add(10 * time.Minute)})
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(10*time.Minute), expiresAt, time.Second)
}

func TestSessionServiceRejectsInvalidTokens(t *testing.T) {
	now := time.Now()
	svc := newTestSessionService(now)
	token, _, err := svc.IssueToken(models.SessionUser{ID: "teacher-1"}, upstream.Credential{AccessToken: "tok"})
	require.NoError(t, err)

	other := NewSessionService(SessionConfig{Secret: "different", Issuer: "classroom-sync"})
	_, err = other.ValidateToken(token)
	assert.Equal(t, appErrors.ErrAuthenticationRequired.Code, appErrors.FromError(err).Code)

	later := newTestSessionService(now.Add(2 * time.Hour))
	_, err = later.ValidateToken(token)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &models.SessionClaims{UserID: "x", UpstreamToken: "tok"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestSessionServiceRequiresIdentity(t *testing.T) {
	svc := newTestSessionService(time.Now())

	_, _, err := svc.IssueToken(models.SessionUser{}, upstream.Credential{AccessToken: "tok"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	_, _, err = svc.IssueToken(models.SessionUser{ID: "u"}, upstream.Credential{})
	assert.Error(t, err)
}
