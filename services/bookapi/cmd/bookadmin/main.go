// bookadmin manages bookapi user accounts. There is no HTTP registration
// route, so every account is created here.
//
// Usage:
//
//	bookadmin create-user --email a@example.com --password ... --role admin
//	bookadmin set-role --email a@example.com --role viewer
//	bookadmin list-users [--json]
//
// Configuration is read the same way as bookapi (config.yaml, BOOKAPI_CONFIG
// and environment overrides).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"bookshelf/services/bookapi/internal/app"
	"bookshelf/services/bookapi/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

const usage = `usage: bookadmin <command> [flags]

commands:
  create-user   create an account (--email, --password or $BOOKADMIN_PASSWORD, --role)
  set-role      change a role and revoke the user's sessions (--email, --role)
  list-users    print all accounts (--json)

global flags:
  --config      path to config.yaml
`

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return pflag.ErrHelp
	}
	command, rest := args[0], args[1:]

	flagSet := pflag.NewFlagSet("bookadmin "+command, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	configPath := flagSet.String("config", config.ConfigPath, "path to config.yaml")
	var email, password, role string
	var asJSON bool
	switch command {
	case "create-user":
		flagSet.StringVar(&email, "email", "", "account email")
		flagSet.StringVar(&password, "password", "", "account password (default $BOOKADMIN_PASSWORD)")
		flagSet.StringVar(&role, "role", "viewer", "viewer or admin")
	case "set-role":
		flagSet.StringVar(&email, "email", "", "account email")
		flagSet.StringVar(&role, "role", "", "viewer or admin")
	case "list-users":
		flagSet.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
	if err := flagSet.Parse(rest); err != nil {
		return err
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}
	// Operators may type roles in any case; stored roles are always canonical.
	role = strings.ToLower(strings.TrimSpace(role))

	core, err := openApp(*configPath)
	if err != nil {
		return err
	}
	defer core.Close()

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch command {
	case "create-user":
		if password == "" {
			password = os.Getenv("BOOKADMIN_PASSWORD")
		}
		user, err := core.CreateUser(ctx, email, password, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "created user %d %s (%s)\n", user.ID, user.Email, user.Role)
	case "set-role":
		user, err := core.SetUserRole(ctx, email, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "user %d %s is now %s; existing sessions revoked\n", user.ID, user.Email, user.Role)
	case "list-users":
		users, err := core.ListUsers(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(users)
		}
		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tEMAIL\tROLE\tCREATED")
		for _, u := range users {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Email, u.Role, u.CreatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	}
	return nil
}

func openApp(path string) (*app.App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		return nil, err
	}
	verifyKeys, err := config.ParseVerifyPublicKeys(cfg.JWTVerifyPublicKeys)
	if err != nil {
		return nil, err
	}
	return app.New(app.Config{
		DatabaseURL:         cfg.DatabaseURL,
		RedisAddr:           cfg.RedisAddr,
		RedisPassword:       cfg.RedisPassword,
		SessionTTL:          sessionTTL,
		JWTPrivateKeyPath:   cfg.JWTPrivateKeyPath,
		JWTPublicKeyPath:    cfg.JWTPublicKeyPath,
		JWTKeyID:            cfg.JWTKeyID,
		JWTVerifyPublicKeys: verifyKeys,
		JWTIssuer:           cfg.JWTIssuer,
		JWTAudience:         cfg.JWTAudience,
		JWTLeeway:           jwtLeeway,
	})
}
