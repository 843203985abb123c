package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/identity"
	storeerrors "github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/jrsteele09/go-auth-session/users"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultLoginRedirect = "/login"
	refreshFlightKey     = "refresh"
	initializeFlightKey  = "initialize"

	// refreshTimeout bounds a shared refresh, which outlives its callers
	refreshTimeout = 30 * time.Second
	// cleanupTimeout bounds store clears and revocation after the caller is gone
	cleanupTimeout = 10 * time.Second
)

// Deps holds the collaborators a Manager is built from. Both are required.
type Deps struct {
	Client identity.Client
	Store  *tokenstore.Store
}

// Manager owns the authentication state of one client. It is the only writer
// of its Store and is safe for concurrent use.
//
// Concurrency policy: a SignIn while another SignIn or a refresh is in flight
// is rejected with ErrOperationInProgress. Overlapping refreshes share one
// provider call. SignOut invalidates every operation that started before it;
// their responses are dropped and they return ErrSessionSuperseded.
type Manager struct {
	client        identity.Client
	store         *tokenstore.Store
	verifier      token.Verifier
	logger        zerolog.Logger
	nowTime       func() time.Time
	loginRedirect string

	lock       sync.Mutex
	status     Status
	user       *users.AuthenticatedUser
	bundle     token.Bundle
	returnTo   string
	epoch      uint64
	refreshing bool
	closed     bool

	listeners    []listener
	nextListener int
	pending      []Session
	dispatching  bool

	flights singleflight.Group
}

type listener struct {
	id int
	fn func(Session)
}

// Option configures a Manager
type Option func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithLogger sets the logger (defaults to the global zerolog logger)
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLoginRedirect sets where unauthenticated users are sent to log in
func WithLoginRedirect(path string) Option {
	return func(m *Manager) {
		m.loginRedirect = path
	}
}

// WithIDTokenVerifier makes the manager verify every ID token before accepting a bundle
func WithIDTokenVerifier(v token.Verifier) Option {
	return func(m *Manager) {
		m.verifier = v
	}
}

// New builds a Manager in the Uninitialized state. Call Initialize before use.
func New(deps Deps, options ...Option) (*Manager, error) {
	if deps.Client == nil {
		return nil, pkgerrors.New("[session.New] identity client is required")
	}
	if deps.Store == nil {
		return nil, pkgerrors.New("[session.New] token store is required")
	}

	m := &Manager{
		client:        deps.Client,
		store:         deps.Store,
		logger:        log.Logger,
		nowTime:       time.Now,
		loginRedirect: defaultLoginRedirect,
		status:        StatusUninitialized,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Initialize restores a persisted session. It runs its checks once; later
// calls return the current state. It never fails: every problem degrades to
// StatusUnauthenticated and is logged.
func (m *Manager) Initialize(ctx context.Context) Session {
	_, _, _ = m.flights.Do(initializeFlightKey, func() (any, error) {
		m.initialize(ctx)
		return nil, nil
	})
	return m.State()
}

func (m *Manager) initialize(ctx context.Context) {
	m.lock.Lock()
	if m.status != StatusUninitialized || m.closed {
		m.lock.Unlock()
		return
	}
	epoch := m.epoch
	m.lock.Unlock()

	b, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNoSession) || errors.Is(err, storeerrors.ErrCorrupt) {
			m.logger.Error().Err(err).Msg("Stored session unreadable, starting signed out")
		}
		// Leftovers that do not form a session are dropped too
		m.abandonInitialize(ctx, epoch, !interrupted(err))
		return
	}

	if b.Expired(m.nowTime()) {
		m.logger.Debug().Msg("Stored session expired, refreshing")
		if _, err := m.RefreshSession(ctx); err != nil {
			m.logger.Error().Err(err).Msg("Refresh of stored session failed, starting signed out")
			m.abandonInitialize(ctx, epoch, !interrupted(err))
		}
		return
	}

	user, err := m.resolveUser(ctx, b)
	if err != nil {
		m.logger.Error().Err(err).Msg("Stored tokens rejected, starting signed out")
		m.abandonInitialize(ctx, epoch, true)
		return
	}

	m.lock.Lock()
	if m.epoch == epoch && m.status == StatusUninitialized {
		m.setAuthenticatedLocked(b, user)
	}
	m.lock.Unlock()
	m.dispatch()
}

// SignIn exchanges credentials for tokens. A provider challenge is returned
// as a *ChallengeRequiredError and leaves the store untouched.
func (m *Manager) SignIn(ctx context.Context, email, password string) (Session, error) {
	if err := requireFields(field{"email", email}, field{"password", password}); err != nil {
		return m.State(), err
	}

	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return Session{}, ErrManagerClosed
	}
	if m.status == StatusAuthenticating || m.refreshing {
		m.lock.Unlock()
		return m.State(), ErrOperationInProgress
	}
	epoch := m.epoch
	hadSession := m.status == StatusAuthenticated
	m.setStatusLocked(StatusAuthenticating)
	m.lock.Unlock()
	m.dispatch()

	b, err := m.signIn(ctx, email, password)
	if err != nil {
		return m.failSignIn(ctx, epoch, hadSession, err)
	}

	m.lock.Lock()
	if m.epoch != epoch {
		m.lock.Unlock()
		m.logger.Info().Msg("Sign in response arrived after sign out, discarding")
		return m.State(), ErrSessionSuperseded
	}
	if err := m.store.Save(ctx, b.bundle); err != nil {
		m.lock.Unlock()
		return m.failSignIn(ctx, epoch, true, err)
	}
	m.returnTo = ""
	m.setAuthenticatedLocked(b.bundle, b.user)
	snapshot := m.snapshotLocked()
	m.lock.Unlock()
	m.dispatch()

	m.logger.Info().Str("user_id", b.user.ID).Msg("Signed in")
	return snapshot, nil
}

type acceptedBundle struct {
	bundle token.Bundle
	user   users.AuthenticatedUser
}

func (m *Manager) signIn(ctx context.Context, email, password string) (acceptedBundle, error) {
	result, err := m.client.SignIn(ctx, email, password)
	if err != nil {
		return acceptedBundle{}, err
	}
	if result.Challenge != nil {
		return acceptedBundle{}, &ChallengeRequiredError{
			ChallengeName: result.Challenge.Name,
			Session:       result.Challenge.Session,
		}
	}
	if result.Bundle == nil {
		return acceptedBundle{}, &identity.ProviderError{
			Code:    identity.CodeMalformedResponse,
			Message: identity.DefaultMessage(identity.CodeMalformedResponse),
		}
	}

	user, err := m.resolveUser(ctx, *result.Bundle)
	if err != nil {
		return acceptedBundle{}, err
	}
	return acceptedBundle{bundle: *result.Bundle, user: user}, nil
}

// failSignIn returns the manager to Unauthenticated unless a sign out
// already superseded the attempt.
func (m *Manager) failSignIn(ctx context.Context, epoch uint64, clearStore bool, err error) (Session, error) {
	m.lock.Lock()
	if m.epoch != epoch {
		m.lock.Unlock()
		return m.State(), fmt.Errorf("%w: %w", ErrSessionSuperseded, err)
	}
	if clearStore {
		m.clearStoreLocked(ctx)
	}
	m.setUnauthenticatedLocked()
	snapshot := m.snapshotLocked()
	m.lock.Unlock()
	m.dispatch()

	var challenge *ChallengeRequiredError
	if errors.As(err, &challenge) {
		m.logger.Info().Str("challenge", challenge.ChallengeName).Msg("Sign in requires a challenge")
	} else {
		m.logger.Warn().Err(err).Msg("Sign in failed")
	}
	return snapshot, err
}

// SignUp registers an account. It does not change the session state.
func (m *Manager) SignUp(ctx context.Context, input identity.SignUpInput) (identity.SignUpResult, error) {
	if err := requireFields(
		field{"email", input.Email},
		field{"password", input.Password},
		field{"given_name", input.GivenName},
		field{"family_name", input.FamilyName},
	); err != nil {
		return identity.SignUpResult{}, err
	}
	if err := m.checkOpen(); err != nil {
		return identity.SignUpResult{}, err
	}
	return m.client.SignUp(ctx, input)
}

// ConfirmSignUp submits a registration code. It does not authenticate.
func (m *Manager) ConfirmSignUp(ctx context.Context, email, code string) error {
	if err := requireFields(field{"email", email}, field{"code", code}); err != nil {
		return err
	}
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.client.ConfirmSignUp(ctx, email, code)
}

// ResendConfirmationCode returns the provider's delivery description
func (m *Manager) ResendConfirmationCode(ctx context.Context, email string) (string, error) {
	if err := requireFields(field{"email", email}); err != nil {
		return "", err
	}
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	return m.client.ResendConfirmationCode(ctx, email)
}

// ForgotPassword starts a password reset and returns the provider's delivery
// description. It does not change the session state.
func (m *Manager) ForgotPassword(ctx context.Context, email string) (string, error) {
	if err := requireFields(field{"email", email}); err != nil {
		return "", err
	}
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	return m.client.ForgotPassword(ctx, email)
}

// ConfirmForgotPassword sets a new password using the reset code. The user
// still has to sign in afterwards.
func (m *Manager) ConfirmForgotPassword(ctx context.Context, email, code, newPassword string) error {
	if err := requireFields(field{"email", email}, field{"code", code}, field{"new_password", newPassword}); err != nil {
		return err
	}
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.client.ConfirmForgotPassword(ctx, email, code, newPassword)
}

// SignOut clears the store and moves to Unauthenticated, then tells the
// provider to revoke the session if an access token was held. The provider
// call is best effort; only a storage failure is returned. Both run to
// completion even when ctx has already ended.
func (m *Manager) SignOut(ctx context.Context) error {
	cleanupCtx, cancel := cleanupContext(ctx)
	defer cancel()

	m.lock.Lock()
	m.epoch++
	accessToken := m.bundle.AccessToken
	clearErr := m.store.Clear(cleanupCtx)
	m.setUnauthenticatedLocked()
	m.lock.Unlock()
	m.dispatch()

	if accessToken != "" {
		if err := m.client.GlobalSignOut(cleanupCtx, accessToken); err != nil {
			m.logger.Warn().Err(err).Msg("Global sign out failed, local session cleared")
		}
	}

	if clearErr != nil {
		m.logger.Error().Err(clearErr).Msg("Failed to clear token store on sign out")
		return clearErr
	}
	m.logger.Info().Msg("Signed out")
	return nil
}

// RefreshSession replaces the stored bundle using the stored refresh token.
// Overlapping calls share one provider request. With no refresh token it
// clears the store without a network call and returns ErrNoRefreshToken; a
// failed refresh signs out fully before the error is returned.
//
// The shared refresh is not tied to any one caller: a caller whose ctx ends
// gets ctx.Err() back while the refresh carries on for the others.
func (m *Manager) RefreshSession(ctx context.Context) (Session, error) {
	results := m.flights.DoChan(refreshFlightKey, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(flightCtx)
	})
	select {
	case res := <-results:
		if res.Err != nil {
			return m.State(), res.Err
		}
		return res.Val.(Session), nil
	case <-ctx.Done():
		return m.State(), ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (Session, error) {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return Session{}, ErrManagerClosed
	}
	if m.status == StatusAuthenticating {
		m.lock.Unlock()
		return Session{}, ErrOperationInProgress
	}
	epoch := m.epoch
	m.refreshing = true
	m.lock.Unlock()
	defer func() {
		m.lock.Lock()
		m.refreshing = false
		m.lock.Unlock()
	}()

	stored, err := m.store.Load(ctx)
	if err != nil && !errors.Is(err, tokenstore.ErrNoSession) {
		m.logger.Error().Err(err).Msg("Token store unreadable during refresh")
	}
	if stored.RefreshToken == "" {
		m.lock.Lock()
		if m.epoch == epoch {
			m.clearStoreLocked(ctx)
			m.setUnauthenticatedLocked()
		}
		m.lock.Unlock()
		m.dispatch()
		return Session{}, ErrNoRefreshToken
	}

	accepted, err := m.refreshBundle(ctx, stored.RefreshToken)
	if err != nil {
		return Session{}, m.failRefresh(ctx, epoch, err)
	}

	m.lock.Lock()
	if m.epoch != epoch {
		m.lock.Unlock()
		m.logger.Info().Msg("Refresh response arrived after sign out, discarding")
		return Session{}, ErrSessionSuperseded
	}
	if err := m.store.Save(ctx, accepted.bundle); err != nil {
		m.lock.Unlock()
		return Session{}, m.failRefresh(ctx, epoch, err)
	}
	m.setAuthenticatedLocked(accepted.bundle, accepted.user)
	snapshot := m.snapshotLocked()
	m.lock.Unlock()
	m.dispatch()

	m.logger.Debug().Str("user_id", accepted.user.ID).Msg("Session refreshed")
	return snapshot, nil
}

func (m *Manager) refreshBundle(ctx context.Context, refreshToken string) (acceptedBundle, error) {
	b, err := m.client.Refresh(ctx, refreshToken)
	if err != nil {
		return acceptedBundle{}, err
	}
	if b.RefreshToken == "" {
		b.RefreshToken = refreshToken
	}
	user, err := m.resolveUser(ctx, b)
	if err != nil {
		return acceptedBundle{}, err
	}
	return acceptedBundle{bundle: b, user: user}, nil
}

func (m *Manager) failRefresh(ctx context.Context, epoch uint64, err error) error {
	m.lock.Lock()
	superseded := m.epoch != epoch
	m.lock.Unlock()
	if superseded {
		return fmt.Errorf("%w: %w", ErrSessionSuperseded, err)
	}
	// A timeout says nothing about the refresh token, so the session is kept
	if interrupted(err) {
		m.logger.Warn().Err(err).Msg("Refresh interrupted, keeping session")
		return err
	}

	m.logger.Warn().Err(err).Msg("Refresh failed, signing out")
	if signOutErr := m.SignOut(ctx); signOutErr != nil {
		return errors.Join(err, signOutErr)
	}
	return err
}

// AccessToken returns an access token that is valid beyond the expiry
// buffer, refreshing first when needed.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.lock.Lock()
	status, b := m.status, m.bundle
	m.lock.Unlock()

	if status != StatusAuthenticated {
		return "", ErrNotAuthenticated
	}
	if !b.Expired(m.nowTime()) {
		return b.AccessToken, nil
	}
	if _, err := m.RefreshSession(ctx); err != nil {
		return "", err
	}

	m.lock.Lock()
	defer m.lock.Unlock()
	if m.status != StatusAuthenticated {
		return "", ErrNotAuthenticated
	}
	return m.bundle.AccessToken, nil
}

// State returns the current snapshot
func (m *Manager) State() Session {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn to receive every state transition, in order. fn is
// called without the manager's lock held, so it may call back into the manager.
func (m *Manager) Subscribe(fn func(Session)) (unsubscribe func()) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.nextListener++
	id := m.nextListener
	m.listeners = append(m.listeners, listener{id: id, fn: fn})

	return func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// RememberReturnTo records the path to come back to after the next sign in
func (m *Manager) RememberReturnTo(path string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.returnTo = path
}

// Close drops all listeners and closes the token store. Operations started
// afterwards fail with ErrManagerClosed.
func (m *Manager) Close() error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return nil
	}
	m.closed = true
	m.epoch++
	m.listeners = nil
	m.pending = nil
	m.lock.Unlock()

	return pkgerrors.Wrap(m.store.Close(), "[Manager.Close] token store")
}

func (m *Manager) checkOpen() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	return nil
}

// resolveUser derives the user from the bundle's claims and, when a verifier
// is configured, checks the ID token first.
func (m *Manager) resolveUser(ctx context.Context, b token.Bundle) (users.AuthenticatedUser, error) {
	if m.verifier != nil {
		if err := m.verifier.Verify(ctx, b.IDToken); err != nil {
			return users.AuthenticatedUser{}, pkgerrors.Wrap(err, "[Manager.resolveUser] id token verification")
		}
	}
	user, err := token.UserFromTokens(b.AccessToken, b.IDToken)
	if err != nil {
		return users.AuthenticatedUser{}, pkgerrors.Wrap(err, "[Manager.resolveUser] decode access token")
	}
	return user, nil
}

// cleanupContext detaches ctx from its caller's cancellation so a clear
// that has started is not cut short, and bounds it by cleanupTimeout.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

// interrupted reports an error that came from an ended context rather than
// from the provider or the store rejecting anything
func interrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// clearStoreLocked must be called with the lock held
func (m *Manager) clearStoreLocked(ctx context.Context) {
	cleanupCtx, cancel := cleanupContext(ctx)
	defer cancel()
	if err := m.store.Clear(cleanupCtx); err != nil {
		m.logger.Error().Err(err).Msg("Failed to clear token store")
	}
}

// abandonInitialize settles Unauthenticated, dropping what Initialize found
// when dropStored is set. It does nothing once another operation has moved
// the manager past the state Initialize started from.
func (m *Manager) abandonInitialize(ctx context.Context, epoch uint64, dropStored bool) {
	m.lock.Lock()
	if m.epoch != epoch || m.status != StatusUninitialized || m.closed {
		m.lock.Unlock()
		return
	}
	if dropStored {
		m.clearStoreLocked(ctx)
	}
	m.setUnauthenticatedLocked()
	m.lock.Unlock()
	m.dispatch()
}

func (m *Manager) setAuthenticatedLocked(b token.Bundle, user users.AuthenticatedUser) {
	m.bundle = b
	m.user = &user
	m.setStatusLocked(StatusAuthenticated)
}

func (m *Manager) setUnauthenticatedLocked() {
	m.bundle = token.Bundle{}
	m.user = nil
	m.setStatusLocked(StatusUnauthenticated)
}

// setStatusLocked records the transition and queues it for listeners.
// Callers must call dispatch after releasing the lock.
func (m *Manager) setStatusLocked(status Status) {
	m.status = status
	if !m.closed {
		m.pending = append(m.pending, m.snapshotLocked())
	}
}

func (m *Manager) snapshotLocked() Session {
	s := Session{Status: m.status}
	switch m.status {
	case StatusAuthenticated:
		if m.user != nil {
			user := *m.user
			s.User = &user
		}
	case StatusUnauthenticated:
		s.RedirectTo = m.redirectLocked()
	}
	return s
}

func (m *Manager) redirectLocked() string {
	if m.returnTo == "" {
		return m.loginRedirect
	}
	target, err := url.Parse(m.loginRedirect)
	if err != nil {
		return m.loginRedirect
	}
	q := target.Query()
	q.Set("return_to", m.returnTo)
	target.RawQuery = q.Encode()
	return target.String()
}

// dispatch delivers queued transitions to listeners. Only one goroutine
// delivers at a time so listeners see transitions in the order they happened.
func (m *Manager) dispatch() {
	m.lock.Lock()
	if m.dispatching {
		m.lock.Unlock()
		return
	}
	m.dispatching = true
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		listeners := append([]listener(nil), m.listeners...)
		m.lock.Unlock()
		for _, l := range listeners {
			l.fn(next)
		}
		m.lock.Lock()
	}
	m.dispatching = false
	m.lock.Unlock()
}
