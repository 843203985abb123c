package token

import (
	"context"
	"crypto"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// Verifier checks an ID token's signature, issuer, audience and expiry.
// The session manager only needs one when tokens can reach it from somewhere
// other than a direct provider response.
type Verifier interface {
	Verify(ctx context.Context, rawIDToken string) error
}

// OIDCVerifier verifies ID tokens with go-oidc
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

var _ Verifier = (*OIDCVerifier)(nil)

// NewOIDCVerifier discovers the issuer's signing keys through its
// .well-known/openid-configuration document.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[token.NewOIDCVerifier] oidc.NewProvider")
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

// NewStaticVerifier verifies against pinned public keys, no discovery round trip.
// now may be nil to use the wall clock.
func NewStaticVerifier(issuer, clientID string, now func() time.Time, keys ...crypto.PublicKey) *OIDCVerifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &OIDCVerifier{
		verifier: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID, Now: now}),
	}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) error {
	if rawIDToken == "" {
		return errors.New("[OIDCVerifier.Verify] no id token to verify")
	}
	if _, err := v.verifier.Verify(ctx, rawIDToken); err != nil {
		return errors.Wrap(err, "[OIDCVerifier.Verify] id token rejected")
	}
	return nil
}
