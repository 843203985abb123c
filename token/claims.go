package token

import (
	"errors"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/users"
)

// ErrMalformedToken is returned when a token cannot be decoded as a JWT at all
var ErrMalformedToken = errors.New("malformed token")

// DecodeClaims reads the payload of a JWT without verifying its signature.
// The tokens arrive straight from the identity provider over TLS, so the
// transport is the trust anchor here. Tokens from any other source need a Verifier.
func DecodeClaims(rawToken string) (jwtlib.MapClaims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, ErrMalformedToken
	}

	unverifiedToken, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}

	claims, ok := unverifiedToken.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// UserFromClaims maps standard OIDC claims onto the user view. Missing claims
// become empty values, never errors.
func UserFromClaims(claims jwtlib.MapClaims) users.AuthenticatedUser {
	email := utils.StringFrom(claims["email"])
	if email == "" {
		// Some providers only put the login name in the access token
		email = utils.StringFrom(claims["username"])
	}

	return users.AuthenticatedUser{
		ID:            utils.StringFrom(claims["sub"]),
		Email:         email,
		GivenName:     utils.StringFrom(claims["given_name"]),
		FamilyName:    utils.StringFrom(claims["family_name"]),
		EmailVerified: utils.BoolFrom(claims["email_verified"]),
	}
}

// UserFromTokens derives the user from the access token, completing absent
// fields from the ID token when it decodes. An email_verified claim in the
// access token wins, even when false. Only an undecodable access token fails.
func UserFromTokens(accessToken, idToken string) (users.AuthenticatedUser, error) {
	claims, err := DecodeClaims(accessToken)
	if err != nil {
		return users.AuthenticatedUser{}, err
	}
	user := UserFromClaims(claims)

	if idToken != "" {
		if idClaims, err := DecodeClaims(idToken); err == nil {
			idUser := UserFromClaims(idClaims)
			user = user.Merge(idUser)
			if _, ok := claims["email_verified"]; !ok {
				user.EmailVerified = idUser.EmailVerified
			}
		}
	}
	return user, nil
}
