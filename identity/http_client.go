package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/internal/utils"
	"github.com/jrsteele09/go-auth-session/oauthmodel"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Provider routes, relative to the base URL
const (
	RouteSignUp                = "/auth/signup"
	RouteConfirmSignUp         = "/auth/confirm-signup"
	RouteSignIn                = "/auth/signin"
	RouteSignOut               = "/auth/signout"
	RouteResendCode            = "/auth/resend-code"
	RouteForgotPassword        = "/auth/forgot-password"
	RouteConfirmForgotPassword = "/auth/confirm-forgot-password"
	RouteToken                 = "/oauth2/token"
)

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 64 << 10
	requestIDHeader  = "X-Request-ID"
)

var _ Client = (*HTTPClient)(nil)

// HTTPClient talks to the identity provider over HTTPS. Sign in and account
// flows use the provider's JSON routes; refresh uses the standard OAuth2
// refresh_token grant at the token endpoint.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	oauthConfig *oauth2.Config
	timeout     time.Duration
	logger      zerolog.Logger
	nowTime     func() time.Time
}

// HTTPClientOption configures an HTTPClient
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.httpClient = hc
	}
}

// WithTimeout bounds every provider call
func WithTimeout(d time.Duration) HTTPClientOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(logger zerolog.Logger) HTTPClientOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// WithNowTime sets the clock used to compute bundle expiry (primarily for testing)
func WithNowTime(nowFunc func() time.Time) HTTPClientOption {
	return func(c *HTTPClient) {
		c.nowTime = nowFunc
	}
}

// NewHTTPClient creates a client for the provider at baseURL. clientID is the
// public OAuth2 client the refresh grant is issued to.
func NewHTTPClient(baseURL, clientID string, options ...HTTPClientOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil, errors.Errorf("[identity.NewHTTPClient] invalid base url %q", baseURL)
	}
	base := strings.TrimRight(baseURL, "/")

	c := &HTTPClient{
		baseURL:    base,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		logger:     log.Logger,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(c)
	}

	// Every request, including the ones oauth2 builds, carries a request id
	transport := c.httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	hc := *c.httpClient
	hc.Transport = &requestIDTransport{base: transport}
	c.httpClient = &hc

	c.oauthConfig = &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  base + RouteToken,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return c, nil
}

func (c *HTTPClient) SignUp(ctx context.Context, input SignUpInput) (SignUpResult, error) {
	var resp oauthmodel.SignUpResponse
	err := c.postJSON(ctx, "SignUp", RouteSignUp, "", oauthmodel.SignUpRequest{
		Email:      input.Email,
		Password:   input.Password,
		GivenName:  input.GivenName,
		FamilyName: input.FamilyName,
	}, &resp)
	if err != nil {
		return SignUpResult{}, err
	}
	if resp.UserSub == "" {
		return SignUpResult{}, malformed("SignUp", errors.New("response missing user_sub"))
	}
	return SignUpResult{
		UserSub:       resp.UserSub,
		UserConfirmed: resp.UserConfirmed,
		Delivery:      DescribeDelivery(resp.CodeDeliveryDetails),
	}, nil
}

func (c *HTTPClient) ConfirmSignUp(ctx context.Context, email, code string) error {
	return c.postJSON(ctx, "ConfirmSignUp", RouteConfirmSignUp, "", oauthmodel.ConfirmSignUpRequest{Email: email, Code: code}, nil)
}

func (c *HTTPClient) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	var resp oauthmodel.SignInResponse
	if err := c.postJSON(ctx, "SignIn", RouteSignIn, "", oauthmodel.SignInRequest{Email: email, Password: password}, &resp); err != nil {
		return SignInResult{}, err
	}

	if resp.IsChallenge() {
		return SignInResult{Challenge: &Challenge{Name: resp.ChallengeName, Session: resp.Session}}, nil
	}

	accessToken := utils.Value(resp.AccessToken)
	if accessToken == "" {
		return SignInResult{}, malformed("SignIn", errors.New("response has neither tokens nor a challenge"))
	}

	bundle, err := c.bundle(accessToken, utils.Value(resp.IDToken), utils.Value(resp.RefreshToken), int64(resp.ExpiresIn))
	if err != nil {
		return SignInResult{}, malformed("SignIn", err)
	}
	return SignInResult{Bundle: &bundle}, nil
}

// Refresh exchanges a refresh token at the token endpoint. When the provider
// does not rotate refresh tokens the one passed in is kept.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (token.Bundle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return token.Bundle{}, c.refreshError(err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	expiresIn, ok := utils.Int64From(tok.Extra("expires_in"))
	if !ok && !tok.Expiry.IsZero() {
		expiresIn = int64(time.Until(tok.Expiry).Seconds())
	}

	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	bundle, err := c.bundle(tok.AccessToken, idToken, newRefresh, expiresIn)
	if err != nil {
		return token.Bundle{}, malformed("Refresh", err)
	}
	return bundle, nil
}

func (c *HTTPClient) GlobalSignOut(ctx context.Context, accessToken string) error {
	return c.postJSON(ctx, "GlobalSignOut", RouteSignOut, accessToken, struct{}{}, nil)
}

func (c *HTTPClient) ResendConfirmationCode(ctx context.Context, email string) (string, error) {
	var resp oauthmodel.CodeDeliveryResponse
	if err := c.postJSON(ctx, "ResendConfirmationCode", RouteResendCode, "", oauthmodel.EmailRequest{Email: email}, &resp); err != nil {
		return "", err
	}
	return DescribeDelivery(resp.CodeDeliveryDetails), nil
}

func (c *HTTPClient) ForgotPassword(ctx context.Context, email string) (string, error) {
	var resp oauthmodel.CodeDeliveryResponse
	if err := c.postJSON(ctx, "ForgotPassword", RouteForgotPassword, "", oauthmodel.EmailRequest{Email: email}, &resp); err != nil {
		return "", err
	}
	return DescribeDelivery(resp.CodeDeliveryDetails), nil
}

func (c *HTTPClient) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	return c.postJSON(ctx, "ConfirmForgotPassword", RouteConfirmForgotPassword, "", oauthmodel.ConfirmForgotPasswordRequest{
		Email:       email,
		Code:        code,
		NewPassword: newPassword,
	}, nil)
}

// bundle computes the expiry once, at receipt. A missing expires_in falls
// back to the access token's exp claim.
func (c *HTTPClient) bundle(accessToken, idToken, refreshToken string, expiresIn int64) (token.Bundle, error) {
	if accessToken == "" {
		return token.Bundle{}, errors.New("response missing access_token")
	}
	now := c.nowTime()
	if expiresIn > 0 {
		return token.NewBundle(accessToken, idToken, refreshToken, time.Duration(expiresIn)*time.Second, now), nil
	}

	claims, err := token.DecodeClaims(accessToken)
	if err != nil {
		return token.Bundle{}, errors.Wrap(err, "response missing expires_in")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token.Bundle{}, errors.New("response missing expires_in and exp claim")
	}
	return token.Bundle{
		AccessToken:  accessToken,
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    exp.Time,
	}, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, op, route, bearer string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "[HTTPClient.%s] marshal request", op)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "[HTTPClient.%s] new request", op)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Msg("Identity provider unreachable")
		return &ProviderError{Code: CodeNetwork, Message: DefaultMessage(CodeNetwork), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.responseError(op, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return malformed(op, err)
	}
	return nil
}

func (c *HTTPClient) responseError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	var errResp oauthmodel.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		// Plain text bodies from proxies and older provider versions
		errResp.Message = strings.TrimSpace(string(body))
		if looksLikeMarkup(errResp.Message) {
			errResp.Message = ""
		}
	}
	return NormalizeError(c.logger, op, resp.StatusCode, errResp)
}

func (c *HTTPClient) refreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return &ProviderError{Code: CodeNetwork, Message: DefaultMessage(CodeNetwork), Err: err}
	}

	var errResp oauthmodel.ErrorResponse
	_ = json.Unmarshal(retrieveErr.Body, &errResp)
	if errResp.Error == "" {
		errResp.Error = retrieveErr.ErrorCode
	}
	if errResp.ErrorDescription == "" {
		errResp.ErrorDescription = retrieveErr.ErrorDescription
	}

	statusCode := 0
	if retrieveErr.Response != nil {
		statusCode = retrieveErr.Response.StatusCode
	}
	pe := NormalizeError(c.logger, "Refresh", statusCode, errResp)
	pe.Err = err
	return pe
}

func malformed(op string, err error) *ProviderError {
	return &ProviderError{
		Code:    CodeMalformedResponse,
		Message: DefaultMessage(CodeMalformedResponse),
		Err:     errors.Wrapf(err, "[HTTPClient.%s] malformed response", op),
	}
}

func looksLikeMarkup(s string) bool {
	return strings.HasPrefix(s, "<")
}

type requestIDTransport struct {
	base http.RoundTripper
}

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(requestIDHeader) != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set(requestIDHeader, uuid.New().String())
	return t.base.RoundTrip(clone)
}
