package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-session/oauthmodel"
	"github.com/jrsteele09/go-auth-session/token"
)

// Client is the identity provider as the session manager sees it. Every
// method performs one network round trip and never retries.
type Client interface {
	SignUp(ctx context.Context, input SignUpInput) (SignUpResult, error)
	ConfirmSignUp(ctx context.Context, email, code string) error
	SignIn(ctx context.Context, email, password string) (SignInResult, error)
	Refresh(ctx context.Context, refreshToken string) (token.Bundle, error)
	GlobalSignOut(ctx context.Context, accessToken string) error
	ResendConfirmationCode(ctx context.Context, email string) (string, error)
	ForgotPassword(ctx context.Context, email string) (string, error)
	ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error
}

// SignUpInput holds the registration fields forwarded to the provider
type SignUpInput struct {
	Email      string
	Password   string
	GivenName  string
	FamilyName string
}

// SignUpResult is what the provider tells us about a new registration
type SignUpResult struct {
	UserSub       string // Provider assigned subject identifier
	UserConfirmed bool   // True when no confirmation code is needed
	Delivery      string // e.g. "Code sent to u***@example.com by email", "" when nothing was sent
}

// Challenge is an extra step demanded by the provider before tokens are issued
type Challenge struct {
	Name    string
	Session string
}

// SignInResult holds either a bundle or a challenge, never both
type SignInResult struct {
	Bundle    *token.Bundle
	Challenge *Challenge
}

// DescribeDelivery turns provider delivery details into a sentence for the UI
func DescribeDelivery(details *oauthmodel.CodeDeliveryDetails) string {
	if details == nil || details.Destination == "" {
		return ""
	}
	if details.DeliveryMedium == "" {
		return fmt.Sprintf("Code sent to %s", details.Destination)
	}
	return fmt.Sprintf("Code sent to %s by %s", details.Destination, strings.ToLower(details.DeliveryMedium))
}
