// Command adminctl manages admin accounts: password hashes, MFA secrets
// and one-off codes for support.
//
//	adminctl create-user -email admin@example.com
//	adminctl set-secret -email admin@example.com
//	adminctl set-password -email admin@example.com < password.txt
//	adminctl hash-password
//	adminctl gen-secret -email admin@example.com
//	adminctl code -secret JBSWY3DPEHPK3PXP
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/portfolio/adminauth"
	"github.com/portfolio/adminauth/internal/dbx"
	"github.com/portfolio/adminauth/internal/users"
	"github.com/portfolio/adminauth/password"
	"github.com/portfolio/adminauth/totp"
)

const minPasswordLength = 12

var errUsage = errors.New("usage: adminctl <create-user|set-secret|set-password|hash-password|gen-secret|code> [flags]")

type accountStore interface {
	Create(ctx context.Context, email, passwordHash, mfaSecret string) (adminauth.UserRecord, error)
	SetMFASecret(ctx context.Context, email, secret string) error
	SetPasswordHash(ctx context.Context, email, hash string) error
}

// openStore is replaced in tests.
var openStore = func(ctx context.Context, dsn string) (accountStore, func() error, error) {
	db, err := dbx.Open(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return users.NewPostgresRepository(db), db.Close, nil
}

type cli struct {
	stdin  *bufio.Reader
	stdout io.Writer
	getenv func(string) string
}

func main() {
	_ = godotenv.Load()

	c := &cli{stdin: bufio.NewReader(os.Stdin), stdout: os.Stdout, getenv: os.Getenv}
	if err := c.run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "adminctl:", err)
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "create-user":
		return c.createUser(ctx, rest)
	case "set-secret":
		return c.setSecret(ctx, rest)
	case "set-password":
		return c.setPassword(ctx, rest)
	case "hash-password":
		return c.hashPassword(rest)
	case "gen-secret":
		return c.genSecret(rest)
	case "code":
		return c.code(rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (c *cli) createUser(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	email := fs.String("email", "", "admin email")
	pw := fs.String("password", "", "password; read from stdin when empty")
	noMFA := fs.Bool("no-mfa", false, "create without an MFA secret (cannot log in until set-secret)")
	issuer := fs.String("issuer", adminauth.DefaultConfig().MFA.Issuer, "issuer shown in authenticator apps")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}

	hash, err := c.hashFrom(*pw)
	if err != nil {
		return err
	}

	var secret string
	if !*noMFA {
		if secret, err = totp.GenerateSecret(adminauth.DefaultConfig().MFA.SecretLength); err != nil {
			return err
		}
	}

	store, closeFn, err := c.store(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	user, err := store.Create(ctx, *email, hash, secret)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "created %s (%s)\n", user.Email, user.ID)
	if secret != "" {
		c.printSecret(*issuer, user.Email, secret)
	}
	return nil
}

func (c *cli) setSecret(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-secret", flag.ContinueOnError)
	email := fs.String("email", "", "admin email")
	secret := fs.String("secret", "", "base32 secret; generated when empty")
	issuer := fs.String("issuer", adminauth.DefaultConfig().MFA.Issuer, "issuer shown in authenticator apps")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}

	s := strings.ToUpper(strings.TrimSpace(*secret))
	if s == "" {
		var err error
		if s, err = totp.GenerateSecret(adminauth.DefaultConfig().MFA.SecretLength); err != nil {
			return err
		}
	} else if _, err := totp.New(totp.Strict).Decode(s); err != nil {
		return err
	}

	store, closeFn, err := c.store(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.SetMFASecret(ctx, *email, s); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "mfa secret updated for %s\n", strings.ToLower(*email))
	c.printSecret(*issuer, strings.ToLower(*email), s)
	return nil
}

func (c *cli) setPassword(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("set-password", flag.ContinueOnError)
	email := fs.String("email", "", "admin email")
	pw := fs.String("password", "", "password; read from stdin when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}

	hash, err := c.hashFrom(*pw)
	if err != nil {
		return err
	}

	store, closeFn, err := c.store(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.SetPasswordHash(ctx, *email, hash); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "password updated for %s\n", strings.ToLower(*email))
	return nil
}

func (c *cli) hashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	pw := fs.String("password", "", "password; read from stdin when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	hash, err := c.hashFrom(*pw)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, hash)
	return nil
}

func (c *cli) genSecret(args []string) error {
	fs := flag.NewFlagSet("gen-secret", flag.ContinueOnError)
	email := fs.String("email", "admin", "account label for the provisioning URI")
	issuer := fs.String("issuer", adminauth.DefaultConfig().MFA.Issuer, "issuer shown in authenticator apps")
	length := fs.Int("length", adminauth.DefaultConfig().MFA.SecretLength, "secret length in base32 characters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := totp.GenerateSecret(*length)
	if err != nil {
		return err
	}
	c.printSecret(*issuer, *email, secret)
	return nil
}

func (c *cli) code(args []string) error {
	fs := flag.NewFlagSet("code", flag.ContinueOnError)
	secret := fs.String("secret", "", "base32 secret")
	strict := fs.Bool("strict", false, "reject secrets with characters outside the base32 alphabet")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("-secret is required")
	}

	mode := totp.Lenient
	if *strict {
		mode = totp.Strict
	}
	code, err := totp.New(mode).CurrentCode(*secret)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, code)
	return nil
}

func (c *cli) store(ctx context.Context) (accountStore, func() error, error) {
	dsn := c.getenv("DATABASE_URL")
	if dsn == "" {
		return nil, nil, errors.New("DATABASE_URL is not set")
	}
	return openStore(ctx, dsn)
}

// hashFrom hashes pw, or the first line of stdin when pw is empty.
func (c *cli) hashFrom(pw string) (string, error) {
	if pw == "" {
		line, err := c.stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if len(pw) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	v, err := password.New(password.DefaultConfig())
	if err != nil {
		return "", err
	}
	return v.Hash(pw)
}

func (c *cli) printSecret(issuer, account, secret string) {
	fmt.Fprintf(c.stdout, "secret: %s\n", secret)
	fmt.Fprintf(c.stdout, "uri:    %s\n", totp.ProvisionURI(issuer, account, secret))
}
