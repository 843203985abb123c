package users

import "strings"

// AuthenticatedUser is the read-only view of the signed in user. It is always
// derived from decoded token claims and never built by callers directly.
type AuthenticatedUser struct {
	ID            string `json:"id"`             // Provider subject identifier (sub claim)
	Email         string `json:"email"`          // User's email address
	GivenName     string `json:"given_name"`     // First name, "" when absent from claims
	FamilyName    string `json:"family_name"`    // Last name, "" when absent from claims
	EmailVerified bool   `json:"email_verified"` // Has the user verified their email
}

// DisplayName joins the given and family names, skipping whichever is missing.
func (u AuthenticatedUser) DisplayName() string {
	return strings.TrimSpace(strings.TrimSpace(u.GivenName) + " " + strings.TrimSpace(u.FamilyName))
}

// Merge fills any empty string field of u from other. Used to complete access
// token claims with the ID token's profile claims. EmailVerified is left to the
// caller: a false value cannot be told apart from an absent claim here.
func (u AuthenticatedUser) Merge(other AuthenticatedUser) AuthenticatedUser {
	if u.ID == "" {
		u.ID = other.ID
	}
	if u.Email == "" {
		u.Email = other.Email
	}
	if u.GivenName == "" {
		u.GivenName = other.GivenName
	}
	if u.FamilyName == "" {
		u.FamilyName = other.FamilyName
	}
	return u
}
