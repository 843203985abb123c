package identityfake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/token"
)

// Operation names used for call counting, holds and injected failures
const (
	OpSignUp                = "SignUp"
	OpConfirmSignUp         = "ConfirmSignUp"
	OpSignIn                = "SignIn"
	OpRefresh               = "Refresh"
	OpGlobalSignOut         = "GlobalSignOut"
	OpResendCode            = "ResendConfirmationCode"
	OpForgotPassword        = "ForgotPassword"
	OpConfirmForgotPassword = "ConfirmForgotPassword"
)

// ConfirmationCode is the code every fake registration and reset expects
const ConfirmationCode = "123456"

const (
	fakeIssuer     = "https://identity.fake"
	fakeSigningKey = "identity-fake-signing-key"
)

var _ identity.Client = (*Provider)(nil)

type fakeUser struct {
	sub        string
	email      string
	password   string
	givenName  string
	familyName string
	confirmed  bool
}

// Provider is an in-memory identity provider. It is safe for concurrent use.
type Provider struct {
	users         map[string]*fakeUser // email -> user
	refreshTokens map[string]string    // refresh token -> email
	calls         map[string]int
	failures      map[string]error
	holds         map[string]chan struct{}
	signInResults []identity.SignInResult
	tokenLifetime time.Duration
	rotateRefresh bool
	nowTime       func() time.Time
	lock          sync.Mutex
}

type Option func(*Provider)

// WithNowTime sets the clock used for issued bundles
func WithNowTime(nowFunc func() time.Time) Option {
	return func(p *Provider) {
		p.nowTime = nowFunc
	}
}

// WithTokenLifetime sets expires_in for issued bundles (default one hour)
func WithTokenLifetime(d time.Duration) Option {
	return func(p *Provider) {
		p.tokenLifetime = d
	}
}

// WithRefreshRotation makes Refresh issue a new refresh token every time
func WithRefreshRotation() Option {
	return func(p *Provider) {
		p.rotateRefresh = true
	}
}

func New(options ...Option) *Provider {
	p := &Provider{
		users:         make(map[string]*fakeUser),
		refreshTokens: make(map[string]string),
		calls:         make(map[string]int),
		failures:      make(map[string]error),
		holds:         make(map[string]chan struct{}),
		tokenLifetime: time.Hour,
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// AddUser registers a user directly, bypassing sign up
func (p *Provider) AddUser(email, password, givenName, familyName string, confirmed bool) string {
	p.lock.Lock()
	defer p.lock.Unlock()
	sub := uuid.New().String()
	p.users[strings.ToLower(email)] = &fakeUser{
		sub:        sub,
		email:      email,
		password:   password,
		givenName:  givenName,
		familyName: familyName,
		confirmed:  confirmed,
	}
	return sub
}

// IssueRefreshToken returns a valid refresh token for a registered user
func (p *Provider) IssueRefreshToken(email string) string {
	p.lock.Lock()
	defer p.lock.Unlock()
	rt := "rt-" + uuid.New().String()
	p.refreshTokens[rt] = strings.ToLower(email)
	return rt
}

// FailWith makes every call to op fail with err until cleared with a nil err
func (p *Provider) FailWith(op string, err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// QueueSignInResult scripts the next SignIn response, ahead of the user table
func (p *Provider) QueueSignInResult(result identity.SignInResult) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.signInResults = append(p.signInResults, result)
}

// Hold blocks calls to op after they are counted until the returned release
// function is called. Blocked calls also return when their context ends.
func (p *Provider) Hold(op string) (release func()) {
	p.lock.Lock()
	defer p.lock.Unlock()
	ch := make(chan struct{})
	p.holds[op] = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			p.lock.Lock()
			if p.holds[op] == ch {
				delete(p.holds, op)
			}
			p.lock.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times op has been invoked
func (p *Provider) Calls(op string) int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.calls[op]
}

// TotalCalls returns the number of provider calls of any kind
func (p *Provider) TotalCalls() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

func (p *Provider) SignUp(ctx context.Context, input identity.SignUpInput) (identity.SignUpResult, error) {
	if err := p.enter(ctx, OpSignUp); err != nil {
		return identity.SignUpResult{}, err
	}
	p.lock.Lock()
	defer p.lock.Unlock()

	key := strings.ToLower(input.Email)
	if _, ok := p.users[key]; ok {
		return identity.SignUpResult{}, providerError(identity.CodeUserExists, "An account with the given email already exists.")
	}
	sub := uuid.New().String()
	p.users[key] = &fakeUser{
		sub:        sub,
		email:      input.Email,
		password:   input.Password,
		givenName:  input.GivenName,
		familyName: input.FamilyName,
	}
	return identity.SignUpResult{UserSub: sub, Delivery: fmt.Sprintf("Code sent to %s by email", input.Email)}, nil
}

func (p *Provider) ConfirmSignUp(ctx context.Context, email, code string) error {
	if err := p.enter(ctx, OpConfirmSignUp); err != nil {
		return err
	}
	p.lock.Lock()
	defer p.lock.Unlock()

	u, ok := p.users[strings.ToLower(email)]
	if !ok {
		return providerError(identity.CodeUserNotFound, "User does not exist.")
	}
	if code != ConfirmationCode {
		return providerError(identity.CodeInvalidCode, "Invalid verification code provided, please try again.")
	}
	u.confirmed = true
	return nil
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (identity.SignInResult, error) {
	if err := p.enter(ctx, OpSignIn); err != nil {
		return identity.SignInResult{}, err
	}
	p.lock.Lock()
	defer p.lock.Unlock()

	if len(p.signInResults) > 0 {
		result := p.signInResults[0]
		p.signInResults = p.signInResults[1:]
		return result, nil
	}

	u, ok := p.users[strings.ToLower(email)]
	if !ok || u.password != password {
		return identity.SignInResult{}, providerError(identity.CodeInvalidCredentials, "Invalid email or password")
	}
	if !u.confirmed {
		return identity.SignInResult{Challenge: &identity.Challenge{Name: "EMAIL_NOT_VERIFIED"}}, nil
	}

	rt := "rt-" + uuid.New().String()
	p.refreshTokens[rt] = strings.ToLower(u.email)
	b := p.bundle(u, rt)
	return identity.SignInResult{Bundle: &b}, nil
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (token.Bundle, error) {
	if err := p.enter(ctx, OpRefresh); err != nil {
		return token.Bundle{}, err
	}
	p.lock.Lock()
	defer p.lock.Unlock()

	email, ok := p.refreshTokens[refreshToken]
	if !ok {
		return token.Bundle{}, providerError(identity.CodeInvalidRefreshToken, "Invalid Refresh Token")
	}
	u, ok := p.users[email]
	if !ok {
		return token.Bundle{}, providerError(identity.CodeUserNotFound, "User does not exist.")
	}

	if p.rotateRefresh {
		delete(p.refreshTokens, refreshToken)
		refreshToken = "rt-" + uuid.New().String()
		p.refreshTokens[refreshToken] = email
	}
	return p.bundle(u, refreshToken), nil
}

// GlobalSignOut revokes every refresh token of the token's user
func (p *Provider) GlobalSignOut(ctx context.Context, accessToken string) error {
	if err := p.enter(ctx, OpGlobalSignOut); err != nil {
		return err
	}
	claims, err := token.DecodeClaims(accessToken)
	if err != nil {
		return providerError(identity.CodeInvalidCredentials, "Access Token has been revoked")
	}
	email := strings.ToLower(fmt.Sprint(claims["email"]))

	p.lock.Lock()
	defer p.lock.Unlock()
	for rt, owner := range p.refreshTokens {
		if owner == email {
			delete(p.refreshTokens, rt)
		}
	}
	return nil
}

func (p *Provider) ResendConfirmationCode(ctx context.Context, email string) (string, error) {
	if err := p.enter(ctx, OpResendCode); err != nil {
		return "", err
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := p.users[strings.ToLower(email)]; !ok {
		return "", providerError(identity.CodeUserNotFound, "User does not exist.")
	}
	return fmt.Sprintf("Code sent to %s by email", email), nil
}

func (p *Provider) ForgotPassword(ctx context.Context, email string) (string, error) {
	if err := p.enter(ctx, OpForgotPassword); err != nil {
		return "", err
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if _, ok := p.users[strings.ToLower(email)]; !ok {
		return "", providerError(identity.CodeUserNotFound, "User does not exist.")
	}
	return fmt.Sprintf("Code sent to %s by email", email), nil
}

func (p *Provider) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	if err := p.enter(ctx, OpConfirmForgotPassword); err != nil {
		return err
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	u, ok := p.users[strings.ToLower(email)]
	if !ok {
		return providerError(identity.CodeUserNotFound, "User does not exist.")
	}
	if code != ConfirmationCode {
		return providerError(identity.CodeInvalidCode, "Invalid verification code provided, please try again.")
	}
	u.password = newPassword
	return nil
}

// enter counts the call, waits on any hold for op and returns the injected failure
func (p *Provider) enter(ctx context.Context, op string) error {
	p.lock.Lock()
	p.calls[op]++
	hold := p.holds[op]
	p.lock.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return &identity.ProviderError{Code: identity.CodeNetwork, Message: identity.DefaultMessage(identity.CodeNetwork), Err: ctx.Err()}
		}
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	return p.failures[op]
}

// bundle must be called with the lock held
func (p *Provider) bundle(u *fakeUser, refreshToken string) token.Bundle {
	now := p.nowTime()
	access := MintToken(jwtlib.MapClaims{
		"iss":            fakeIssuer,
		"sub":            u.sub,
		"email":          u.email,
		"given_name":     u.givenName,
		"family_name":    u.familyName,
		"email_verified": u.confirmed,
		"token_use":      "access",
		"jti":            uuid.New().String(),
		"iat":            now.Unix(),
		"exp":            now.Add(p.tokenLifetime).Unix(),
	})
	id := MintToken(jwtlib.MapClaims{
		"iss":   fakeIssuer,
		"sub":   u.sub,
		"email": u.email,
		"iat":   now.Unix(),
		"exp":   now.Add(p.tokenLifetime).Unix(),
	})
	return token.NewBundle(access, id, refreshToken, p.tokenLifetime, now)
}

// MintToken signs claims with the fake provider's HMAC key. The session
// manager never checks the signature, but the tokens are well-formed JWTs.
func MintToken(claims jwtlib.MapClaims) string {
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(fakeSigningKey))
	if err != nil {
		panic(fmt.Sprintf("identityfake: mint token: %v", err))
	}
	return raw
}

func providerError(code identity.ErrorCode, message string) *identity.ProviderError {
	return &identity.ProviderError{Code: code, Message: message, StatusCode: 400}
}
