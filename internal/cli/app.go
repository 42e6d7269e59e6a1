package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
)

// Sessions is the token lifecycle the commands drive.
type Sessions interface {
	Login(ctx context.Context, email, password string) (*models.TokenPair, error)
	Register(ctx context.Context, in models.NewAccount) (*models.TokenPair, error)
	Refresh(ctx context.Context, value string) (*models.TokenPair, error)
	RevokeOne(ctx context.Context, value string) error
	RevokeAll(ctx context.Context, userID string) (int64, error)
	Cleanup(ctx context.Context) (services.CleanupReport, error)
	CurrentUser(accessToken string) (*models.UserClaims, error)
	IdentityFromExpired(accessToken string) (*models.UserClaims, error)
	ActiveSessions(ctx context.Context, userID string) ([]models.RefreshToken, error)
}

// Accounts is the account management the commands drive.
type Accounts interface {
	GetProfile(ctx context.Context, id string) (*models.UserProfile, error)
	GetProfileByEmail(ctx context.Context, email string) (*models.UserProfile, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, acc *models.Account) error
	Deactivate(ctx context.Context, id string) error
	Activate(ctx context.Context, id string) error
}

// ErrUsage is returned for unknown commands and wrong argument counts.
var ErrUsage = errors.New("usage error")

type App struct {
	sessions Sessions
	accounts Accounts
	out      io.Writer
	reader   *bufio.Reader
}

func NewApp(s Sessions, a Accounts, in io.Reader, out io.Writer) *App {
	return &App{sessions: s, accounts: a, out: out, reader: bufio.NewReader(in)}
}

type command struct {
	args  []string
	usage string
	run   func(a *App, ctx context.Context, args []string) error
}

var commands = map[string]command{
	"register":      {[]string{"email", "first-name", "last-name"}, "create an account and log in", (*App).register},
	"login":         {[]string{"email"}, "issue a token pair", (*App).login},
	"refresh":       {[]string{"refresh-token"}, "redeem a refresh token for a new pair", (*App).refresh},
	"revoke":        {[]string{"refresh-token"}, "revoke one refresh token", (*App).revoke},
	"revoke-all":    {[]string{"email"}, "revoke every refresh token of an account", (*App).revokeAll},
	"deactivate":    {[]string{"email"}, "disable an account and revoke its tokens", (*App).deactivate},
	"activate":      {[]string{"email"}, "re-enable an account", (*App).activate},
	"whoami":        {[]string{"access-token"}, "show the identity in an access token", (*App).whoami},
	"whois-expired": {[]string{"access-token"}, "show the identity in a signed but expired access token", (*App).whoisExpired},
	"profile":       {[]string{"user-id"}, "show an account profile", (*App).profile},
	"rename":        {[]string{"email", "first-name", "last-name"}, "change the name on an account", (*App).rename},
	"sessions":      {[]string{"email"}, "list active refresh tokens of an account", (*App).listSessions},
	"cleanup":       {nil, "delete expired refresh tokens now", (*App).cleanup},
}

var commandOrder = []string{"register", "login", "refresh", "revoke", "revoke-all", "deactivate", "activate", "whoami", "whois-expired", "profile", "rename", "sessions", "cleanup"}

// Run executes the command named by args[0].
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "help" {
		a.help()
		if len(args) == 0 {
			return ErrUsage
		}
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		a.help()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
	if len(args)-1 != len(cmd.args) {
		return fmt.Errorf("%w: %s %v", ErrUsage, args[0], cmd.args)
	}
	return cmd.run(a, ctx, args[1:])
}

func (a *App) help() {
	fmt.Fprintln(a.out, "Usage: authctl [-c config] <command> [args]")
	fmt.Fprintln(a.out)
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	for _, name := range commandOrder {
		cmd := commands[name]
		fmt.Fprintf(tw, "  %s %v\t%s\n", name, cmd.args, cmd.usage)
	}
	_ = tw.Flush()
}

func (a *App) printPair(p *models.TokenPair) {
	fmt.Fprintf(a.out, "access_token: %s\n", p.AccessToken)
	fmt.Fprintf(a.out, "access_token_expires_at: %s\n", p.AccessTokenExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(a.out, "refresh_token: %s\n", p.RefreshToken)
	fmt.Fprintf(a.out, "refresh_token_expires_at: %s\n", p.RefreshTokenExpiresAt.Format(time.RFC3339))
}

// userID resolves an email to an account id.
func (a *App) userID(ctx context.Context, email string) (string, error) {
	p, err := a.accounts.GetProfileByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("account %s: %w", email, err)
	}
	return p.ID, nil
}
