package identity

import (
	"strings"

	"github.com/jrsteele09/go-auth-session/oauthmodel"
	"github.com/rs/zerolog"
)

// ErrorCode classifies a provider failure for the UI
type ErrorCode string

const (
	CodeUnknown             ErrorCode = "unknown"
	CodeNetwork             ErrorCode = "network_error"
	CodeMalformedResponse   ErrorCode = "malformed_response"
	CodeUserExists          ErrorCode = "user_exists"
	CodeUserNotConfirmed    ErrorCode = "user_not_confirmed"
	CodeInvalidCredentials  ErrorCode = "invalid_credentials"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeInvalidCode         ErrorCode = "invalid_code"
	CodeExpiredCode         ErrorCode = "expired_code"
	CodeInvalidPassword     ErrorCode = "invalid_password"
	CodeUserNotFound        ErrorCode = "user_not_found"
	CodeInvalidRefreshToken ErrorCode = "invalid_refresh_token"
)

var defaultMessages = map[ErrorCode]string{
	CodeUnknown:             "Something went wrong. Please try again.",
	CodeNetwork:             "Unable to reach the sign-in service. Check your connection and try again.",
	CodeMalformedResponse:   "The sign-in service returned an unexpected response. Please try again.",
	CodeUserExists:          "An account with this email already exists.",
	CodeUserNotConfirmed:    "Please verify your email before signing in.",
	CodeInvalidCredentials:  "Invalid email or password.",
	CodeRateLimited:         "Too many attempts. Please wait a moment and try again.",
	CodeInvalidCode:         "Invalid verification code. Please check the code and try again.",
	CodeExpiredCode:         "This code has expired. Please request a new one.",
	CodeInvalidPassword:     "Password does not meet the requirements.",
	CodeUserNotFound:        "No account found for this email.",
	CodeInvalidRefreshToken: "Your session has expired. Please sign in again.",
}

// DefaultMessage returns the UI message used when the provider sends none
func DefaultMessage(code ErrorCode) string {
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return defaultMessages[CodeUnknown]
}

// Structured codes the provider may send, including the exception names of
// Cognito-compatible providers.
var structuredCodes = map[string]ErrorCode{
	"usernameexistsexception":   CodeUserExists,
	"usernotconfirmedexception": CodeUserNotConfirmed,
	"notauthorizedexception":    CodeInvalidCredentials,
	"toomanyrequestsexception":  CodeRateLimited,
	"limitexceededexception":    CodeRateLimited,
	"codemismatchexception":     CodeInvalidCode,
	"expiredcodeexception":      CodeExpiredCode,
	"invalidpasswordexception":  CodeInvalidPassword,
	"usernotfoundexception":     CodeUserNotFound,
	"invalid_grant":             CodeInvalidRefreshToken,
}

func init() {
	for code := range defaultMessages {
		structuredCodes[string(code)] = code
	}
}

// Substring rules for providers that only send free text. Order matters:
// the first match wins.
var inferenceRules = []struct {
	code    ErrorCode
	needles []string
}{
	{CodeUserExists, []string{"already exists"}},
	{CodeUserNotConfirmed, []string{"verify your email", "not confirmed"}},
	{CodeInvalidCredentials, []string{"invalid email or password", "incorrect username or password"}},
	{CodeRateLimited, []string{"too many", "rate limit"}},
	{CodeInvalidCode, []string{"invalid verification code", "code mismatch"}},
	{CodeInvalidRefreshToken, []string{"refresh token"}},
	{CodeExpiredCode, []string{"expired"}},
	{CodeInvalidPassword, []string{"password did not conform", "password must"}},
	{CodeUserNotFound, []string{"user not found", "does not exist"}},
}

// ProviderError is the single normalized failure of an identity provider call,
// whether the transport failed or the provider rejected the request.
type ProviderError struct {
	Code       ErrorCode
	Message    string
	StatusCode int  // 0 for transport failures
	Inferred   bool // Code came from substring matching rather than a structured field
	Err        error
}

func (e *ProviderError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return DefaultMessage(e.Code)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// InferCode classifies a free text message. ok is false when no rule matched.
func InferCode(message string) (code ErrorCode, ok bool) {
	lower := strings.ToLower(message)
	for _, rule := range inferenceRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.code, true
			}
		}
	}
	return CodeUnknown, false
}

// LookupCode resolves a structured provider code
func LookupCode(structured string) (ErrorCode, bool) {
	code, ok := structuredCodes[strings.ToLower(strings.TrimSpace(structured))]
	return code, ok
}

// NormalizeError builds a ProviderError from a provider error body. A known
// structured code wins; otherwise the message is classified by substring and
// the fallback is logged so wording changes can be audited.
func NormalizeError(logger zerolog.Logger, op string, statusCode int, body oauthmodel.ErrorResponse) *ProviderError {
	message := firstNonEmpty(body.Message, body.ErrorDescription)
	structured := firstNonEmpty(body.Code, body.Error)

	pe := &ProviderError{
		Code:       CodeUnknown,
		Message:    message,
		StatusCode: statusCode,
	}

	if code, ok := LookupCode(structured); ok {
		pe.Code = code
	} else {
		code, matched := InferCode(message)
		pe.Code = code
		pe.Inferred = true
		logger.Warn().
			Str("op", op).
			Int("status", statusCode).
			Str("structured_code", structured).
			Str("provider_message", message).
			Str("inferred_code", string(code)).
			Bool("matched", matched).
			Msg("Provider error classified from message text")
	}

	if code, ok := statusFallback(statusCode); ok && pe.Code == CodeUnknown {
		pe.Code = code
	}
	if strings.TrimSpace(pe.Message) == "" {
		pe.Message = DefaultMessage(pe.Code)
	}
	return pe
}

func statusFallback(statusCode int) (ErrorCode, bool) {
	if statusCode == 429 {
		return CodeRateLimited, true
	}
	return CodeUnknown, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
