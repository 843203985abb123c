package session

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingFields       = errors.New("missing required fields")
	ErrNoRefreshToken      = errors.New("no refresh token")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrOperationInProgress = errors.New("another sign in or refresh is in progress")
	ErrSessionSuperseded   = errors.New("session changed while the request was in flight")
	ErrManagerClosed       = errors.New("session manager closed")
)

// MissingFieldsError lists required inputs that were empty. No provider call
// is made when it is returned.
type MissingFieldsError struct {
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Is(target error) bool {
	return target == ErrMissingFields
}

// ChallengeRequiredError is returned by SignIn when the provider asks for an
// extra step instead of issuing tokens.
type ChallengeRequiredError struct {
	ChallengeName string
	Session       string // Opaque provider session for answering the challenge
}

func (e *ChallengeRequiredError) Error() string {
	return fmt.Sprintf("sign in challenge required: %s", e.ChallengeName)
}

type field struct {
	name  string
	value string
}

func requireFields(fields ...field) error {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}
