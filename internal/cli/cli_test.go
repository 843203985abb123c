package cli_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/jrsteele09/go-auth-session/identity/identityfake"
	"github.com/jrsteele09/go-auth-session/internal/cli"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func setupManager(t *testing.T) (*session.Manager, *identityfake.Provider) {
	t.Helper()
	provider := identityfake.New()
	provider.AddUser("demo@example.com", "demo-password", "Demo", "User", true)
	store := tokenstore.New(tokenstore.NewMemoryTier(), tokenstore.NewMemoryTier())
	mgr, err := session.New(session.Deps{Client: provider, Store: store}, session.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mgr, provider
}

func run(t *testing.T, mgr *session.Manager, args ...string) (string, error) {
	t.Helper()
	var errOut bytes.Buffer
	cmd, err := cli.ParseCommand(args, &errOut)
	require.NoError(t, err, errOut.String())

	var out bytes.Buffer
	err = cli.Run(context.Background(), mgr, cmd, &out)
	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	var errOut bytes.Buffer

	cmd, err := cli.ParseCommand([]string{"signin", "-email", "a@example.com", "-password", "pw"}, &errOut)
	require.NoError(t, err)
	require.Equal(t, cli.Command{Name: "signin", Email: "a@example.com", Password: "pw"}, cmd)

	_, err = cli.ParseCommand(nil, &errOut)
	require.ErrorIs(t, err, cli.ErrUsage)

	_, err = cli.ParseCommand([]string{"launch"}, &errOut)
	require.ErrorIs(t, err, cli.ErrUsage)
	require.Contains(t, errOut.String(), "signin")

	_, err = cli.ParseCommand([]string{"signout", "-email", "x"}, &errOut)
	require.ErrorIs(t, err, cli.ErrUsage)
}

func TestSignInStatusSignOut(t *testing.T) {
	mgr, provider := setupManager(t)

	out, err := run(t, mgr, "status", "-return-to", "/trips")
	require.NoError(t, err)
	require.Contains(t, out, "Status: unauthenticated")
	require.Contains(t, out, "Login:  /login?return_to=%2Ftrips")

	out, err = run(t, mgr, "signin", "-email", "demo@example.com", "-password", "demo-password")
	require.NoError(t, err)
	require.Contains(t, out, "Status: authenticated")
	require.Contains(t, out, "User:   Demo User <demo@example.com>")

	out, err = run(t, mgr, "token")
	require.NoError(t, err)
	require.NotEmpty(t, out)

	out, err = run(t, mgr, "signout")
	require.NoError(t, err)
	require.Equal(t, "Signed out\n", out)
	require.Equal(t, 1, provider.Calls(identityfake.OpGlobalSignOut))

	_, err = run(t, mgr, "refresh")
	require.ErrorIs(t, err, session.ErrNoRefreshToken)
}

func TestSignInFailureHasUserMessage(t *testing.T) {
	mgr, _ := setupManager(t)

	_, err := run(t, mgr, "signin", "-email", "demo@example.com", "-password", "nope")
	require.Error(t, err)
	require.Equal(t, "Invalid email or password", session.UserMessage(err))

	_, err = run(t, mgr, "signin")
	require.ErrorIs(t, err, session.ErrMissingFields)
}

func TestRegistrationCommands(t *testing.T) {
	mgr, _ := setupManager(t)

	out, err := run(t, mgr, "signup", "-email", "new@example.com", "-password", "pw-123456", "-given-name", "New", "-family-name", "User")
	require.NoError(t, err)
	require.Contains(t, out, "Code sent to new@example.com by email")

	out, err = run(t, mgr, "confirm", "-email", "new@example.com", "-code", identityfake.ConfirmationCode)
	require.NoError(t, err)
	require.Contains(t, out, "Account confirmed")

	out, err = run(t, mgr, "resend", "-email", "new@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "Code sent to")

	_, err = run(t, mgr, "forgot", "-email", "new@example.com")
	require.NoError(t, err)
	out, err = run(t, mgr, "reset", "-email", "new@example.com", "-code", identityfake.ConfirmationCode, "-new-password", "pw-654321")
	require.NoError(t, err)
	require.Contains(t, out, "Password updated")

	out, err = run(t, mgr, "signin", "-email", "new@example.com", "-password", "pw-654321")
	require.NoError(t, err)
	require.Contains(t, out, "New User <new@example.com>")
}
