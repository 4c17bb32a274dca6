package upstream

import (
	"context"
	"time"
)

type credentialKey struct{}

// Credential is the OAuth access token for one user's upstream calls.
type Credential struct {
	AccessToken string
	Expiry      time.Time
}

// Valid reports whether the credential can still be presented upstream.
func (c Credential) Valid(now time.Time) bool {
	if c.AccessToken == "" {
		return false
	}
	return c.Expiry.IsZero() || now.Before(c.Expiry)
}

// WithCredential returns a context carrying the caller's credential.
func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// CredentialFrom extracts the credential stored by WithCredential.
func CredentialFrom(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialKey{}).(Credential)
	if !ok || cred.AccessToken == "" {
		return Credential{}, false
	}
	return cred, true
}
