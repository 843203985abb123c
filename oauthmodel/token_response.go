package oauthmodel

// TokenResponse is the body returned by the identity provider when it issues
// tokens, from sign in and from the token endpoint.
type TokenResponse struct {
	// AccessToken is the JWT presented to the travel planner API.
	// Example: "eyJhbGciOiJSUzI1NiIsInR5cCI6IkpXVCJ9..."
	// Usage: "Authorization: Bearer <access_token>"
	AccessToken *string `json:"access_token,omitempty"`

	// IDToken is the OpenID Connect ID token with the user's profile claims.
	IDToken *string `json:"id_token,omitempty"`

	// RefreshToken exchanges for a new bundle at the token endpoint.
	// Absent on refresh responses from providers that do not rotate it.
	RefreshToken *string `json:"refresh_token,omitempty"`

	// TokenType is always "Bearer"
	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds, counted from receipt.
	// Example: 3600
	ExpiresIn int `json:"expires_in,omitempty"`
}

// ChallengeResponse is returned from sign in instead of tokens when the
// provider requires another step first.
type ChallengeResponse struct {
	// ChallengeName names the step. Example: "EMAIL_NOT_VERIFIED", "NEW_PASSWORD_REQUIRED"
	ChallengeName string `json:"challenge_name"`

	// Session is an opaque value the provider expects back when the challenge is answered
	Session string `json:"session,omitempty"`
}

// SignInResponse is the union of the two possible sign in bodies
type SignInResponse struct {
	TokenResponse
	ChallengeResponse
}

// IsChallenge reports whether the provider asked for another step instead of issuing tokens
func (r SignInResponse) IsChallenge() bool {
	return r.ChallengeName != ""
}

// ErrorResponse is the body of every non-2xx provider response. Code is
// optional; older provider versions only send a human readable message.
type ErrorResponse struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// OAuth2 token endpoint style fields
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}
