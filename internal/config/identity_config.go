package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type IdentityConfig interface {
	GetIdentityBaseURL() string
	GetIdentityClientID() string
	GetIdentityIssuer() string
	GetRequestTimeout() time.Duration
	GetLoginRedirect() string
	GetVerifyIDToken() bool
}

// Identity holds the identity provider settings. They are read once at startup.
type Identity struct {
	BaseURL        string        `env:"IDENTITY_BASE_URL" envDefault:"http://localhost:8080"`
	ClientID       string        `env:"IDENTITY_CLIENT_ID" envDefault:"trip-planner-web"`
	Issuer         string        `env:"IDENTITY_ISSUER"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	LoginRedirect  string        `env:"LOGIN_REDIRECT" envDefault:"/login"`
	VerifyIDToken  bool          `env:"VERIFY_ID_TOKEN" envDefault:"false"`
}

var _ IdentityConfig = Identity{}

func (i Identity) GetIdentityBaseURL() string {
	return strings.TrimRight(i.BaseURL, "/")
}

func (i Identity) GetIdentityClientID() string {
	return i.ClientID
}

// GetIdentityIssuer defaults to the base URL when no explicit issuer is configured
func (i Identity) GetIdentityIssuer() string {
	if i.Issuer == "" {
		return i.GetIdentityBaseURL()
	}
	return i.Issuer
}

func (i Identity) GetRequestTimeout() time.Duration {
	return i.RequestTimeout
}

func (i Identity) GetLoginRedirect() string {
	return i.LoginRedirect
}

func (i Identity) GetVerifyIDToken() bool {
	return i.VerifyIDToken
}

func (i Identity) validate() error {
	u, err := url.Parse(i.BaseURL)
	if err != nil {
		return errors.Wrap(err, "invalid IDENTITY_BASE_URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("IDENTITY_BASE_URL must be http or https, got %q", i.BaseURL)
	}
	if i.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
