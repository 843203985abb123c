package identity_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testClientID = "trip-planner-web"

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordedRequest struct {
	Path      string
	RequestID string
	Auth      string
	Body      map[string]any
	Form      map[string]string
}

type providerServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func (p *providerServer) last(t *testing.T) recordedRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

// setupProvider serves routes from the given table. Each handler returns the status and body to send.
func setupProvider(t *testing.T, routes map[string]func(r recordedRequest) (int, any)) *providerServer {
	t.Helper()
	p := &providerServer{}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Path:      r.URL.Path,
			RequestID: r.Header.Get("X-Request-ID"),
			Auth:      r.Header.Get("Authorization"),
		}
		if r.Header.Get("Content-Type") == "application/json" {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		} else {
			_ = r.ParseForm()
			rec.Form = map[string]string{}
			for k := range r.PostForm {
				rec.Form[k] = r.PostForm.Get(k)
			}
		}
		p.mu.Lock()
		p.requests = append(p.requests, rec)
		p.mu.Unlock()

		handler, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		status, body := handler(rec)
		if s, ok := body.(string); ok {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(s))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(p.Close)
	return p
}

func newClient(t *testing.T, baseURL string) *identity.HTTPClient {
	t.Helper()
	c, err := identity.NewHTTPClient(baseURL, testClientID,
		identity.WithNowTime(func() time.Time { return testNow }),
		identity.WithLogger(zerolog.Nop()),
		identity.WithTimeout(2*time.Second),
	)
	require.NoError(t, err)
	return c
}

func accessJWT(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("provider-secret"))
	require.NoError(t, err)
	return raw
}

func TestNewHTTPClientRejectsBadURL(t *testing.T) {
	_, err := identity.NewHTTPClient("not a url", testClientID)
	require.Error(t, err)
}

func TestSignInReturnsBundle(t *testing.T) {
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteSignIn: func(recordedRequest) (int, any) {
			return http.StatusOK, map[string]any{
				"access_token":  "A",
				"id_token":      "B",
				"refresh_token": "C",
				"expires_in":    3600,
				"token_type":    "Bearer",
			}
		},
	})
	c := newClient(t, p.URL)

	result, err := c.SignIn(context.Background(), "user@example.com", "correct-pw")
	require.NoError(t, err)
	require.Nil(t, result.Challenge)
	require.NotNil(t, result.Bundle)
	require.Equal(t, "A", result.Bundle.AccessToken)
	require.Equal(t, "B", result.Bundle.IDToken)
	require.Equal(t, "C", result.Bundle.RefreshToken)
	require.Equal(t, testNow.Add(time.Hour), result.Bundle.ExpiresAt)

	req := p.last(t)
	require.Equal(t, "user@example.com", req.Body["email"])
	require.Equal(t, "correct-pw", req.Body["password"])
	require.NotEmpty(t, req.RequestID)
}

func TestSignInChallenge(t *testing.T) {
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteSignIn: func(recordedRequest) (int, any) {
			return http.StatusOK, map[string]any{"challenge_name": "EMAIL_NOT_VERIFIED", "session": "s-1"}
		},
	})
	c := newClient(t, p.URL)

	result, err := c.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)
	require.Nil(t, result.Bundle)
	require.Equal(t, &identity.Challenge{Name: "EMAIL_NOT_VERIFIED", Session: "s-1"}, result.Challenge)
}

func TestSignInExpiryFromExpClaim(t *testing.T) {
	exp := testNow.Add(30 * time.Minute).Truncate(time.Second)
	access := accessJWT(t, jwtlib.MapClaims{"sub": "u", "exp": exp.Unix()})
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteSignIn: func(recordedRequest) (int, any) {
			return http.StatusOK, map[string]any{"access_token": access, "refresh_token": "C"}
		},
	})
	c := newClient(t, p.URL)

	result, err := c.SignIn(context.Background(), "user@example.com", "pw")
	require.NoError(t, err)
	require.True(t, exp.Equal(result.Bundle.ExpiresAt))
}

func TestSignInMalformedResponses(t *testing.T) {
	bodies := map[string]any{
		"empty object":       map[string]any{},
		"opaque no lifetime": map[string]any{"access_token": "A"},
		"not json":           "<html>oops</html>",
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			p := setupProvider(t, map[string]func(recordedRequest) (int, any){
				identity.RouteSignIn: func(recordedRequest) (int, any) { return http.StatusOK, body },
			})
			c := newClient(t, p.URL)

			_, err := c.SignIn(context.Background(), "user@example.com", "pw")
			var pe *identity.ProviderError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, identity.CodeMalformedResponse, pe.Code)
			require.NotEmpty(t, pe.Error())
		})
	}
}

func TestProviderErrorNormalization(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		code     identity.ErrorCode
		inferred bool
		message  string
	}{
		{"message only", 400, map[string]any{"message": "Invalid email or password"}, identity.CodeInvalidCredentials, true, "Invalid email or password"},
		{"structured", 400, map[string]any{"code": "UsernameExistsException", "message": "User already exists"}, identity.CodeUserExists, false, "User already exists"},
		{"plain text", 429, "Too many requests", identity.CodeRateLimited, true, "Too many requests"},
		{"html from proxy", 502, "<html>bad gateway</html>", identity.CodeUnknown, true, identity.DefaultMessage(identity.CodeUnknown)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := setupProvider(t, map[string]func(recordedRequest) (int, any){
				identity.RouteSignIn: func(recordedRequest) (int, any) { return tt.status, tt.body },
			})
			c := newClient(t, p.URL)

			_, err := c.SignIn(context.Background(), "user@example.com", "pw")
			var pe *identity.ProviderError
			require.ErrorAs(t, err, &pe)
			require.Equal(t, tt.code, pe.Code)
			require.Equal(t, tt.inferred, pe.Inferred)
			require.Equal(t, tt.status, pe.StatusCode)
			require.Equal(t, tt.message, pe.Error())
		})
	}
}

func TestTransportFailure(t *testing.T) {
	p := setupProvider(t, nil)
	baseURL := p.URL
	p.Close()

	c := newClient(t, baseURL)
	_, err := c.SignIn(context.Background(), "user@example.com", "pw")

	var pe *identity.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, identity.CodeNetwork, pe.Code)
	require.Zero(t, pe.StatusCode)
	require.NotEmpty(t, pe.Error())
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteSignIn: func(recordedRequest) (int, any) {
			<-release
			return http.StatusOK, map[string]any{}
		},
	})
	t.Cleanup(func() { close(release) })

	c, err := identity.NewHTTPClient(p.URL, testClientID, identity.WithTimeout(50*time.Millisecond), identity.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	_, err = c.SignIn(context.Background(), "user@example.com", "pw")
	var pe *identity.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, identity.CodeNetwork, pe.Code)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRefreshUsesTokenEndpoint(t *testing.T) {
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteToken: func(r recordedRequest) (int, any) {
			return http.StatusOK, map[string]any{
				"access_token": "A2",
				"id_token":     "B2",
				"expires_in":   1800,
				"token_type":   "Bearer",
			}
		},
	})
	c := newClient(t, p.URL)

	b, err := c.Refresh(context.Background(), "C")
	require.NoError(t, err)
	require.Equal(t, "A2", b.AccessToken)
	require.Equal(t, "B2", b.IDToken)
	require.Equal(t, "C", b.RefreshToken, "refresh token is kept when the provider does not rotate it")
	require.Equal(t, testNow.Add(30*time.Minute), b.ExpiresAt)

	req := p.last(t)
	require.Equal(t, "refresh_token", req.Form["grant_type"])
	require.Equal(t, "C", req.Form["refresh_token"])
	require.Equal(t, testClientID, req.Form["client_id"])
	require.NotEmpty(t, req.RequestID)
}

func TestRefreshRotatesRefreshToken(t *testing.T) {
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteToken: func(recordedRequest) (int, any) {
			return http.StatusOK, map[string]any{"access_token": "A2", "refresh_token": "C2", "expires_in": 60, "token_type": "Bearer"}
		},
	})
	c := newClient(t, p.URL)

	b, err := c.Refresh(context.Background(), "C")
	require.NoError(t, err)
	require.Equal(t, "C2", b.RefreshToken)
}

func TestRefreshRejected(t *testing.T) {
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteToken: func(recordedRequest) (int, any) {
			return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Refresh Token has been revoked"}
		},
	})
	c := newClient(t, p.URL)

	_, err := c.Refresh(context.Background(), "C")
	var pe *identity.ProviderError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, identity.CodeInvalidRefreshToken, pe.Code)
	require.False(t, pe.Inferred)
	require.Equal(t, http.StatusBadRequest, pe.StatusCode)
	require.Equal(t, "Refresh Token has been revoked", pe.Error())
}

func TestGlobalSignOutSendsBearer(t *testing.T) {
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteSignOut: func(recordedRequest) (int, any) { return http.StatusOK, map[string]any{} },
	})
	c := newClient(t, p.URL)

	require.NoError(t, c.GlobalSignOut(context.Background(), "A"))
	require.Equal(t, "Bearer A", p.last(t).Auth)
}

func TestAccountFlows(t *testing.T) {
	delivery := map[string]any{
		"code_delivery_details": map[string]any{"destination": "u***@example.com", "delivery_medium": "EMAIL"},
	}
	p := setupProvider(t, map[string]func(recordedRequest) (int, any){
		identity.RouteSignUp: func(recordedRequest) (int, any) {
			return http.StatusOK, map[string]any{
				"user_sub":              "sub-123",
				"code_delivery_details": delivery["code_delivery_details"],
			}
		},
		identity.RouteConfirmSignUp:         func(recordedRequest) (int, any) { return http.StatusOK, map[string]any{} },
		identity.RouteResendCode:            func(recordedRequest) (int, any) { return http.StatusOK, delivery },
		identity.RouteForgotPassword:        func(recordedRequest) (int, any) { return http.StatusOK, delivery },
		identity.RouteConfirmForgotPassword: func(recordedRequest) (int, any) { return http.StatusOK, map[string]any{} },
	})
	c := newClient(t, p.URL)
	ctx := context.Background()

	result, err := c.SignUp(ctx, identity.SignUpInput{Email: "user@example.com", Password: "pw", GivenName: "Ada", FamilyName: "Lovelace"})
	require.NoError(t, err)
	require.Equal(t, "sub-123", result.UserSub)
	require.Equal(t, "Code sent to u***@example.com by email", result.Delivery)
	require.Equal(t, "Ada", p.last(t).Body["given_name"])

	require.NoError(t, c.ConfirmSignUp(ctx, "user@example.com", "123456"))
	require.Equal(t, "123456", p.last(t).Body["code"])

	msg, err := c.ResendConfirmationCode(ctx, "user@example.com")
	require.NoError(t, err)
	require.Equal(t, "Code sent to u***@example.com by email", msg)

	msg, err = c.ForgotPassword(ctx, "user@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, msg)

	require.NoError(t, c.ConfirmForgotPassword(ctx, "user@example.com", "654321", "N3w-password"))
	require.Equal(t, "N3w-password", p.last(t).Body["new_password"])
}
