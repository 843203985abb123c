package session

import (
	"context"
	"errors"
	"strings"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/tokenstore"
)

var fieldLabels = map[string]string{
	"email":        "email",
	"password":     "password",
	"given_name":   "first name",
	"family_name":  "last name",
	"code":         "confirmation code",
	"new_password": "new password",
}

// UserMessage turns any error returned by the Manager into a message that is
// safe to show a user. It is never empty.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var missing *MissingFieldsError
	var challenge *ChallengeRequiredError
	var providerErr *identity.ProviderError
	var storageErr *tokenstore.StorageError

	switch {
	case errors.As(err, &missing):
		labels := make([]string, 0, len(missing.Fields))
		for _, f := range missing.Fields {
			if label, ok := fieldLabels[f]; ok {
				labels = append(labels, label)
			} else {
				labels = append(labels, f)
			}
		}
		return "Please enter your " + strings.Join(labels, ", ") + "."
	case errors.As(err, &challenge):
		if challenge.ChallengeName == "EMAIL_NOT_VERIFIED" {
			return identity.DefaultMessage(identity.CodeUserNotConfirmed)
		}
		return "An additional sign-in step is required."
	case errors.As(err, &providerErr):
		return providerErr.Error()
	case errors.Is(err, ErrNoRefreshToken), errors.Is(err, ErrNotAuthenticated):
		return "Please sign in to continue."
	case errors.Is(err, ErrOperationInProgress):
		return "Sign-in is already in progress."
	case errors.Is(err, ErrSessionSuperseded):
		return "Your session changed. Please try again."
	case errors.Is(err, token.ErrMalformedToken):
		return identity.DefaultMessage(identity.CodeMalformedResponse)
	case errors.As(err, &storageErr):
		return "Unable to save your session on this device."
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return identity.DefaultMessage(identity.CodeNetwork)
	}
	return identity.DefaultMessage(identity.CodeUnknown)
}
