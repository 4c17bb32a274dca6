package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/classroom-sync-api/internal/models"
	"github.com/noah-isme/classroom-sync-api/internal/upstream"
	appErrors "github.com/noah-isme/classroom-sync-api/pkg/errors"
)

// SessionConfig configures session token signing.
type SessionConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// SessionService issues and validates HS256 session tokens.
type SessionService struct {
	config SessionConfig
	now    func() time.Time
}

// NewSessionService constructs a session service.
func NewSessionService(cfg SessionConfig) *SessionService {
	if cfg.Expiration <= 0 {
		cfg.Expiration = time.Hour
	}
	return &SessionService{config: cfg, now: time.Now}
}

// IssueToken signs a session token for user carrying cred. The session never
// outlives the upstream credential.
func (s *SessionService) IssueToken(user models.SessionUser, cred upstream.Credential) (string, time.Time, error) {
	if user.ID == "" || cred.AccessToken == "" {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrValidation, "user id and upstream token are required")
	}
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(s.config.Expiration)
	if !cred.Expiry.IsZero() && cred.Expiry.Before(expiresAt) {
		expiresAt = cred.Expiry.UTC()
	}

	claims := &models.SessionClaims{
		UserID:              user.ID,
		Email:               user.Email,
		FullName:            user.FullName,
		UpstreamToken:       cred.AccessToken,
		UpstreamTokenExpiry: cred.Expiry,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken parses a session token and returns its claims.
func (s *SessionService) ValidateToken(tokenString string) (*models.SessionClaims, error) {
	options := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &models.SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, options...)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrAuthenticationRequired.Code, appErrors.ErrAuthenticationRequired.Status, "invalid session token")
	}

	claims, ok := token.Claims.(*models.SessionClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrAuthenticationRequired, "invalid session claims")
	}
	if !SessionCredential(claims).Valid(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrAuthenticationRequired, "upstream credential expired")
	}
	return claims, nil
}

// SessionCredential extracts the upstream credential carried by claims.
func SessionCredential(claims *models.SessionClaims) upstream.Credential {
	if claims == nil {
		return upstream.Credential{}
	}
	return upstream.Credential{AccessToken: claims.UpstreamToken, Expiry: claims.UpstreamTokenExpiry}
}
