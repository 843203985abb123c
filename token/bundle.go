package token

import "time"

// ExpiryBuffer is how long before the literal expiry instant a bundle is
// already treated as expired, so refresh happens before requests start failing.
const ExpiryBuffer = 5 * time.Minute

// Bundle is the set of tokens issued together by the identity provider.
// ExpiresAt is computed once, when the bundle is acquired, and never recomputed.
// Bundles are replaced wholesale; nothing updates one in place.
type Bundle struct {
	AccessToken  string    `json:"access_token"`
	IDToken      string    `json:"id_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NewBundle builds a bundle whose expiry is issuedAt plus the server reported lifetime.
func NewBundle(accessToken, idToken, refreshToken string, expiresIn time.Duration, issuedAt time.Time) Bundle {
	return Bundle{
		AccessToken:  accessToken,
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    issuedAt.Add(expiresIn),
	}
}

// Expired reports whether the bundle must be refreshed before use. A bundle
// without an access token (only a refresh token survived) is always expired.
func (b Bundle) Expired(now time.Time) bool {
	if b.AccessToken == "" || b.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(b.ExpiresAt.Add(-ExpiryBuffer))
}

// HasRefreshToken reports whether the bundle can be refreshed.
func (b Bundle) HasRefreshToken() bool {
	return b.RefreshToken != ""
}

// Empty reports whether the bundle carries no token material at all.
func (b Bundle) Empty() bool {
	return b.AccessToken == "" && b.IDToken == "" && b.RefreshToken == ""
}
