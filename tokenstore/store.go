package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	storeerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
)

// Storage layout. The access and ID tokens only ever live in the short-lived
// tier; the refresh token is the only credential allowed to survive a restart.
const (
	keyAccessToken  = "access_token"
	keyIDToken      = "id_token"
	keyExpiresAt    = "expires_at" // epoch milliseconds
	keyRefreshToken = "refresh_token"
)

var (
	shortLivedKeys = []string{keyAccessToken, keyIDToken, keyExpiresAt}
	longLivedKeys  = []string{keyRefreshToken}
)

// ErrNoSession is returned by Load when nothing usable is stored. Corrupt
// values also satisfy errors.Is(err, ErrNoSession).
var ErrNoSession = errors.New("no stored session")

// StorageError reports a tier that could not be read or written
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("token storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store persists token bundles across a short-lived and a long-lived tier.
// Only the session manager writes to it.
type Store struct {
	short  Tier
	long   Tier
	sealer *Sealer
}

// Option configures a Store
type Option func(*Store)

// WithSealer encrypts the refresh token before it is written to the long-lived tier
func WithSealer(s *Sealer) Option {
	return func(st *Store) {
		st.sealer = s
	}
}

func New(short, long Tier, options ...Option) *Store {
	s := &Store{short: short, long: long}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Save replaces whatever is stored with b. The long-lived tier is written
// first so a failure there leaves the previous short-lived values untouched.
func (s *Store) Save(ctx context.Context, b token.Bundle) error {
	if b.RefreshToken != "" {
		refresh, err := s.encodeRefreshToken(b.RefreshToken)
		if err != nil {
			return &StorageError{Op: "save", Err: err}
		}
		if err := s.long.SetMany(ctx, map[string]string{keyRefreshToken: refresh}); err != nil {
			return &StorageError{Op: "save", Err: err}
		}
	} else if err := s.long.DeleteMany(ctx, longLivedKeys...); err != nil {
		return &StorageError{Op: "save", Err: err}
	}

	values := map[string]string{
		keyAccessToken: encodeString(b.AccessToken),
		keyIDToken:     encodeString(b.IDToken),
		keyExpiresAt:   fmt.Sprintf("%d", b.ExpiresAt.UnixMilli()),
	}
	if err := s.short.SetMany(ctx, values); err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	return nil
}

// Load reads the stored bundle. Any missing subset of values is tolerated:
// an empty store and malformed values both come back as ErrNoSession, and a
// lone refresh token is returned as a bundle that is already expired.
func (s *Store) Load(ctx context.Context) (token.Bundle, error) {
	accessRaw, hasAccess, err := s.read(ctx, s.short, keyAccessToken)
	if err != nil {
		return token.Bundle{}, err
	}
	idRaw, hasID, err := s.read(ctx, s.short, keyIDToken)
	if err != nil {
		return token.Bundle{}, err
	}
	expiresRaw, hasExpires, err := s.read(ctx, s.short, keyExpiresAt)
	if err != nil {
		return token.Bundle{}, err
	}
	refreshRaw, hasRefresh, err := s.read(ctx, s.long, keyRefreshToken)
	if err != nil {
		return token.Bundle{}, err
	}

	var b token.Bundle
	if hasRefresh {
		if b.RefreshToken, err = s.decodeRefreshToken(refreshRaw); err != nil {
			return token.Bundle{}, corrupt(keyRefreshToken, err)
		}
	}
	if hasAccess {
		if b.AccessToken, err = decodeString(accessRaw); err != nil {
			return token.Bundle{}, corrupt(keyAccessToken, err)
		}
	}
	if hasID {
		if b.IDToken, err = decodeString(idRaw); err != nil {
			return token.Bundle{}, corrupt(keyIDToken, err)
		}
	}
	if hasExpires {
		var millis int64
		if err := json.Unmarshal([]byte(expiresRaw), &millis); err != nil {
			return token.Bundle{}, corrupt(keyExpiresAt, err)
		}
		b.ExpiresAt = time.UnixMilli(millis)
	}

	switch {
	case b.Empty():
		return token.Bundle{}, ErrNoSession
	case b.AccessToken != "" && b.ExpiresAt.IsZero():
		return token.Bundle{}, corrupt(keyExpiresAt, storeerrors.ErrNotFound)
	case b.AccessToken == "" && !b.HasRefreshToken():
		// ID token or expiry without the token they describe
		return token.Bundle{}, corrupt(keyAccessToken, storeerrors.ErrNotFound)
	case b.AccessToken == "":
		// Only the long-lived tier survived; drop stale short-lived leftovers
		return token.Bundle{RefreshToken: b.RefreshToken}, nil
	}
	return b, nil
}

// Clear removes every token field. Each tier is cleared in a single atomic
// operation and both tiers are always attempted.
func (s *Store) Clear(ctx context.Context) error {
	shortErr := s.short.DeleteMany(ctx, shortLivedKeys...)
	longErr := s.long.DeleteMany(ctx, longLivedKeys...)
	if err := errors.Join(shortErr, longErr); err != nil {
		return &StorageError{Op: "clear", Err: err}
	}
	return nil
}

func (s *Store) Close() error {
	return errors.Join(s.short.Close(), s.long.Close())
}

func (s *Store) read(ctx context.Context, tier Tier, key string) (string, bool, error) {
	v, err := tier.Get(ctx, key)
	if err != nil {
		if storeerrors.Is(err, storeerrors.ErrNotFound) {
			return "", false, nil
		}
		return "", false, &StorageError{Op: "load " + key, Err: err}
	}
	return v, true, nil
}

func (s *Store) encodeRefreshToken(refreshToken string) (string, error) {
	if s.sealer == nil {
		return encodeString(refreshToken), nil
	}
	sealed, err := s.sealer.Seal(refreshToken)
	if err != nil {
		return "", err
	}
	return encodeString(sealed), nil
}

func (s *Store) decodeRefreshToken(raw string) (string, error) {
	v, err := decodeString(raw)
	if err != nil {
		return "", err
	}
	if s.sealer == nil {
		return v, nil
	}
	return s.sealer.Open(v)
}

func encodeString(v string) string {
	encoded, _ := json.Marshal(v)
	return string(encoded)
}

func decodeString(raw string) (string, error) {
	var v string
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return "", err
	}
	return v, nil
}

func corrupt(key string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNoSession, key, errors.Join(storeerrors.ErrCorrupt, err))
}
