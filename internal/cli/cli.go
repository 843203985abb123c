package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/jrsteele09/go-auth-session/identity"
	"github.com/jrsteele09/go-auth-session/session"
)

// ErrUsage is returned for an unknown command or bad flags
var ErrUsage = errors.New("usage")

// Command is one parsed sessionctl invocation
type Command struct {
	Name        string
	Email       string
	Password    string
	Code        string
	NewPassword string
	GivenName   string
	FamilyName  string
	ReturnTo    string
}

type commandEntry struct {
	summary string
	flags   func(fs *flag.FlagSet, c *Command)
	run     func(ctx context.Context, mgr *session.Manager, c Command, out io.Writer) error
}

var commands = map[string]commandEntry{
	"status":  {"show the restored session", returnToFlag, runStatus},
	"signin":  {"sign in with email and password", credentialFlags, runSignIn},
	"signup":  {"register a new account", signUpFlags, runSignUp},
	"confirm": {"confirm a registration code", confirmFlags, runConfirm},
	"resend":  {"resend the registration code", emailFlag, runResend},
	"signout": {"sign out everywhere and clear stored tokens", noFlags, runSignOut},
	"refresh": {"refresh the stored session", noFlags, runRefresh},
	"token":   {"print a valid access token", noFlags, runToken},
	"forgot":  {"request a password reset code", emailFlag, runForgot},
	"reset":   {"set a new password with a reset code", resetFlags, runReset},
}

// ParseCommand reads the command name and its flags from args
func ParseCommand(args []string, errOut io.Writer) (Command, error) {
	if len(args) == 0 {
		Usage(errOut)
		return Command{}, ErrUsage
	}

	entry, ok := commands[args[0]]
	if !ok {
		Usage(errOut)
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}

	c := Command{Name: args[0]}
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(errOut)
	entry.flags(fs, &c)
	if err := fs.Parse(args[1:]); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return c, nil
}

// Usage lists the available commands
func Usage(out io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "usage: sessionctl [-fake] <command> [flags]")
	for _, name := range names {
		fmt.Fprintf(out, "  %-8s %s\n", name, commands[name].summary)
	}
}

// Run restores the session and executes c against it
func Run(ctx context.Context, mgr *session.Manager, c Command, out io.Writer) error {
	entry, ok := commands[c.Name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrUsage, c.Name)
	}
	if c.ReturnTo != "" {
		mgr.RememberReturnTo(c.ReturnTo)
	}
	mgr.Initialize(ctx)
	return entry.run(ctx, mgr, c, out)
}

func noFlags(*flag.FlagSet, *Command) {}

func emailFlag(fs *flag.FlagSet, c *Command) {
	fs.StringVar(&c.Email, "email", "", "account email")
}

func returnToFlag(fs *flag.FlagSet, c *Command) {
	fs.StringVar(&c.ReturnTo, "return-to", "", "path to come back to after signing in")
}

func credentialFlags(fs *flag.FlagSet, c *Command) {
	emailFlag(fs, c)
	fs.StringVar(&c.Password, "password", "", "account password")
}

func signUpFlags(fs *flag.FlagSet, c *Command) {
	credentialFlags(fs, c)
	fs.StringVar(&c.GivenName, "given-name", "", "first name")
	fs.StringVar(&c.FamilyName, "family-name", "", "last name")
}

func confirmFlags(fs *flag.FlagSet, c *Command) {
	emailFlag(fs, c)
	fs.StringVar(&c.Code, "code", "", "confirmation code")
}

func resetFlags(fs *flag.FlagSet, c *Command) {
	confirmFlags(fs, c)
	fs.StringVar(&c.NewPassword, "new-password", "", "new password")
}

func runStatus(_ context.Context, mgr *session.Manager, _ Command, out io.Writer) error {
	printSession(out, mgr.State())
	return nil
}

func runSignIn(ctx context.Context, mgr *session.Manager, c Command, out io.Writer) error {
	s, err := mgr.SignIn(ctx, c.Email, c.Password)
	if err != nil {
		return err
	}
	printSession(out, s)
	return nil
}

func runSignUp(ctx context.Context, mgr *session.Manager, c Command, out io.Writer) error {
	result, err := mgr.SignUp(ctx, identity.SignUpInput{
		Email:      c.Email,
		Password:   c.Password,
		GivenName:  c.GivenName,
		FamilyName: c.FamilyName,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Registered %s (confirmed: %t)\n", result.UserSub, result.UserConfirmed)
	if result.Delivery != "" {
		fmt.Fprintln(out, result.Delivery)
	}
	return nil
}

func runConfirm(ctx context.Context, mgr *session.Manager, c Command, out io.Writer) error {
	if err := mgr.ConfirmSignUp(ctx, c.Email, c.Code); err != nil {
		return err
	}
	fmt.Fprintln(out, "Account confirmed, you can now sign in")
	return nil
}

func runResend(ctx context.Context, mgr *session.Manager, c Command, out io.Writer) error {
	delivery, err := mgr.ResendConfirmationCode(ctx, c.Email)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, deliveryOrDefault(delivery))
	return nil
}

func runSignOut(ctx context.Context, mgr *session.Manager, _ Command, out io.Writer) error {
	if err := mgr.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Signed out")
	return nil
}

func runRefresh(ctx context.Context, mgr *session.Manager, _ Command, out io.Writer) error {
	s, err := mgr.RefreshSession(ctx)
	if err != nil {
		return err
	}
	printSession(out, s)
	return nil
}

func runToken(ctx context.Context, mgr *session.Manager, _ Command, out io.Writer) error {
	accessToken, err := mgr.AccessToken(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, accessToken)
	return nil
}

func runForgot(ctx context.Context, mgr *session.Manager, c Command, out io.Writer) error {
	delivery, err := mgr.ForgotPassword(ctx, c.Email)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, deliveryOrDefault(delivery))
	return nil
}

func runReset(ctx context.Context, mgr *session.Manager, c Command, out io.Writer) error {
	if err := mgr.ConfirmForgotPassword(ctx, c.Email, c.Code, c.NewPassword); err != nil {
		return err
	}
	fmt.Fprintln(out, "Password updated, you can now sign in")
	return nil
}

func printSession(out io.Writer, s session.Session) {
	fmt.Fprintf(out, "Status: %s\n", s.Status)
	if s.User != nil {
		fmt.Fprintf(out, "User:   %s <%s>\n", s.User.DisplayName(), s.User.Email)
		fmt.Fprintf(out, "ID:     %s (email verified: %t)\n", s.User.ID, s.User.EmailVerified)
	}
	if s.RedirectTo != "" {
		fmt.Fprintf(out, "Login:  %s\n", s.RedirectTo)
	}
}

func deliveryOrDefault(delivery string) string {
	if delivery == "" {
		return "Code sent"
	}
	return delivery
}
