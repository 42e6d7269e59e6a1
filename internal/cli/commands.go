package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

func (a *App) register(ctx context.Context, args []string) error {
	pw, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	confirm, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	if confirm != pw {
		return fmt.Errorf("%w: passwords do not match", ErrUsage)
	}

	pair, err := a.sessions.Register(ctx, models.NewAccount{
		Email:     args[0],
		Password:  pw,
		FirstName: args[1],
		LastName:  args[2],
	})
	if err != nil {
		return err
	}
	a.printPair(pair)
	return nil
}

func (a *App) login(ctx context.Context, args []string) error {
	pw, err := GetPassword(a.out)
	if err != nil {
		return err
	}
	pair, err := a.sessions.Login(ctx, args[0], pw)
	if err != nil {
		return err
	}
	a.printPair(pair)
	return nil
}

func (a *App) refresh(ctx context.Context, args []string) error {
	pair, err := a.sessions.Refresh(ctx, args[0])
	if err != nil {
		return err
	}
	a.printPair(pair)
	return nil
}

func (a *App) revoke(ctx context.Context, args []string) error {
	if err := a.sessions.RevokeOne(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "revoked")
	return nil
}

func (a *App) revokeAll(ctx context.Context, args []string) error {
	id, err := a.userID(ctx, args[0])
	if err != nil {
		return err
	}
	n, err := a.sessions.RevokeAll(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "revoked %d refresh token(s)\n", n)
	return nil
}

func (a *App) deactivate(ctx context.Context, args []string) error {
	id, err := a.userID(ctx, args[0])
	if err != nil {
		return err
	}
	answer, err := GetSimpleText(a.reader, fmt.Sprintf("Deactivate %s and revoke all its tokens? [y/N]", args[0]), a.out)
	if err != nil {
		return err
	}
	if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
		fmt.Fprintln(a.out, "aborted")
		return nil
	}
	if err := a.accounts.Deactivate(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deactivated %s\n", args[0])
	return nil
}

func (a *App) activate(ctx context.Context, args []string) error {
	id, err := a.userID(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.accounts.Activate(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "activated %s\n", args[0])
	return nil
}

func (a *App) whoami(_ context.Context, args []string) error {
	c, err := a.sessions.CurrentUser(args[0])
	if err != nil {
		return err
	}
	a.printClaims(c)
	return nil
}

func (a *App) whoisExpired(_ context.Context, args []string) error {
	c, err := a.sessions.IdentityFromExpired(args[0])
	if err != nil {
		return err
	}
	a.printClaims(c)
	return nil
}

func (a *App) printClaims(c *models.UserClaims) {
	fmt.Fprintf(a.out, "user_id: %s\n", c.UserID)
	fmt.Fprintf(a.out, "email: %s\n", c.Email)
	fmt.Fprintf(a.out, "name: %s %s\n", c.FirstName, c.LastName)
	fmt.Fprintf(a.out, "expires_at: %s\n", c.ExpiresAt.Format(time.RFC3339))
}

func (a *App) profile(ctx context.Context, args []string) error {
	p, err := a.accounts.GetProfile(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user_id: %s\n", p.ID)
	fmt.Fprintf(a.out, "email: %s\n", p.Email)
	fmt.Fprintf(a.out, "name: %s %s\n", p.FirstName, p.LastName)
	fmt.Fprintf(a.out, "active: %t\n", p.IsActive)
	fmt.Fprintf(a.out, "created_at: %s\n", p.CreatedAt.Format(time.RFC3339))
	if p.LastLoginAt != nil {
		fmt.Fprintf(a.out, "last_login_at: %s\n", p.LastLoginAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(a.out, "last_login_at: never")
	}
	return nil
}

func (a *App) rename(ctx context.Context, args []string) error {
	id, err := a.userID(ctx, args[0])
	if err != nil {
		return err
	}
	acc, err := a.accounts.FindByID(ctx, id)
	if err != nil {
		return err
	}
	acc.FirstName, acc.LastName = args[1], args[2]
	if err := a.accounts.UpdateAccount(ctx, acc); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "renamed %s\n", args[0])
	return nil
}

func (a *App) listSessions(ctx context.Context, args []string) error {
	id, err := a.userID(ctx, args[0])
	if err != nil {
		return err
	}
	tokens, err := a.sessions.ActiveSessions(ctx, id)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tEXPIRES")
	for _, t := range tokens {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.ID, t.CreatedAt.Format(time.RFC3339), t.ExpiresAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func (a *App) cleanup(ctx context.Context, _ []string) error {
	report, err := a.sessions.Cleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "swept %d expired, purged %d revoked\n", report.Swept, report.Purged)
	return nil
}
