package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/identity/identityfake"
	"github.com/jrsteele09/go-auth-session/internal/cli"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/internal/logging"
	"github.com/jrsteele09/go-auth-session/session"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/jrsteele09/go-auth-session/tokenstore"
	"github.com/rs/zerolog"
)

const (
	demoEmail    = "demo@example.com"
	demoPassword = "demo-password"
)

func main() {
	os.Exit(start())
}

func start() int {
	useFake := flag.Bool("fake", false, "use an in-memory identity provider with a demo@example.com / demo-password account")
	quiet := flag.Bool("q", false, "do not print the banner")
	flag.Usage = func() { cli.Usage(flag.CommandLine.Output()) }
	flag.Parse()

	cmd, err := cli.ParseCommand(flag.Args(), os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cmd, *useFake, *quiet); err != nil {
		fmt.Fprintln(os.Stderr, session.UserMessage(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cmd cli.Command, useFake, quiet bool) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return err
	}
	logger := logging.New(c.GetLogLevel(), c.GetEnv())
	if !quiet {
		displayAppname(c.GetAppName())
	}

	mgr, err := newManager(ctx, c, logger, useFake)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start session manager")
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close session manager")
		}
	}()

	if err := cli.Run(ctx, mgr, cmd, os.Stdout); err != nil {
		logger.Debug().Err(err).Str("command", cmd.Name).Msg("Command failed")
		return err
	}
	return nil
}

func newManager(ctx context.Context, c config.Config, logger zerolog.Logger, useFake bool) (*session.Manager, error) {
	options := []session.Option{
		session.WithLogger(logger),
		session.WithLoginRedirect(c.GetLoginRedirect()),
	}

	if useFake {
		provider := identityfake.New()
		provider.AddUser(demoEmail, demoPassword, "Demo", "User", true)
		store := tokenstore.New(tokenstore.NewMemoryTier(), tokenstore.NewMemoryTier())
		return session.New(session.Deps{Client: provider, Store: store}, options...)
	}

	client, err := identity.NewHTTPClient(
		c.GetIdentityBaseURL(),
		c.GetIdentityClientID(),
		identity.WithTimeout(c.GetRequestTimeout()),
		identity.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	if c.GetVerifyIDToken() {
		verifier, err := token.NewOIDCVerifier(ctx, c.GetIdentityIssuer(), c.GetIdentityClientID())
		if err != nil {
			return nil, err
		}
		options = append(options, session.WithIDTokenVerifier(verifier))
	}

	store, err := tokenstore.Open(ctx, c, c.GetIdentityClientID())
	if err != nil {
		return nil, err
	}
	return session.New(session.Deps{Client: client, Store: store}, options...)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
