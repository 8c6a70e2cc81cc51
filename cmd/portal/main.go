package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"placement/internal/config"
	"placement/internal/core"
	"placement/internal/identity"
	"placement/internal/identity/memory"
	"placement/internal/identity/remote"
	"placement/internal/log"
	"placement/internal/models"
	"placement/internal/portal"
	"placement/internal/session"
)

type app struct {
	client *portal.Client
	out    io.Writer
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"login":    commandLogin,
	"logout":   commandLogout,
	"whoami":   commandWhoami,
	"register": commandRegister,
	"accounts": commandAccounts,
}

func main() {
	global := flag.NewFlagSet("portal", flag.ExitOnError)
	useMemory := global.Bool("memory", false, "Use an in-process identity store (only useful with shell)")
	configFile := global.String("config", "", "Config file path")
	global.Usage = printUsage
	global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, closeApp, err := newApp(ctx, *configFile, *useMemory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeApp()

	if args[0] == "shell" {
		err = runShell(ctx, a, os.Stdin)
	} else {
		err = dispatch(ctx, a, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		closeApp()
		os.Exit(1)
	}
}

func newApp(ctx context.Context, configFile string, useMemory bool) (*app, func(), error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, err
	}

	logger := log.NewWithWriter(os.Stderr, cfg.Environment, cfg.Logging.Level)

	var (
		store      identity.Store
		reconciler identity.Reconciler
	)
	if useMemory {
		mem := memory.New()
		store, reconciler = mem, mem
	} else {
		rs, err := remote.New(
			cfg.Portal.APIURL,
			remote.WithCredentialFile(cfg.Portal.CredentialFile),
			remote.WithTimeout(cfg.Portal.RequestTimeout),
			remote.WithLogger(logger),
		)
		if err != nil {
			return nil, nil, err
		}
		if err := rs.Restore(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not restore saved session")
		}
		store, reconciler = rs, rs
	}

	client := portal.New(store, reconciler, session.New(), logger)
	if err := waitReady(ctx, client, logger); err != nil {
		client.Close()
		return nil, nil, err
	}

	return &app{client: client, out: os.Stdout}, client.Close, nil
}

func waitReady(ctx context.Context, client *portal.Client, logger zerolog.Logger) error {
	select {
	case <-client.Bootstrap(ctx):
		if err := client.Session().Err; err != nil {
			logger.Warn().Err(err).Msg("saved session dropped")
		}
		return nil
	case <-time.After(30 * time.Second):
		return errors.New("session check timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func dispatch(ctx context.Context, a *app, args []string) error {
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return cmd(ctx, a, args[1:])
}

// runShell reads one command per line and runs them against the same
// session until EOF or "exit".
func runShell(ctx context.Context, a *app, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(a.out, "> ")
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		switch {
		case len(fields) == 0:
		case fields[0] == "exit" || fields[0] == "quit":
			return nil
		default:
			if err := dispatch(ctx, a, fields); err != nil {
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(a.out, "> ")
	}
	return scanner.Err()
}

func commandLogin(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return errors.New("--email is required")
	}

	secret, err := readSecret("Password: ", *password)
	if err != nil {
		return err
	}

	res := a.client.Login(ctx, *email, secret)
	if err := a.print(res); err != nil || !res.Success {
		return err
	}
	fmt.Fprintf(a.out, "landing: %s\n", a.client.Destination())
	return nil
}

func commandLogout(ctx context.Context, a *app, _ []string) error {
	return a.print(a.client.Logout(ctx))
}

func commandWhoami(_ context.Context, a *app, _ []string) error {
	snap := a.client.Session()
	if !snap.Authenticated() {
		fmt.Fprintln(a.out, "not signed in")
		if snap.Err != nil {
			fmt.Fprintf(a.out, "last error: %v\n", snap.Err)
		}
		return nil
	}
	fmt.Fprintf(a.out, "%s <%s>\nrole: %s\naccount: %s\nlanding: %s\n",
		snap.Name, snap.Email, snap.Role, snap.AccountID, a.client.Destination())
	return nil
}

func commandRegister(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	name := fs.String("name", "", "Full name")
	email := fs.String("email", "", "Email address")
	phone := fs.String("phone", "", "Phone number")
	role := fs.String("role", "student", "student, coordinator, recruiter or admin")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	registerNumber := fs.String("register-number", "", "Student register number")
	passoutYear := fs.String("passout-year", "", "Student passout year")
	branch := fs.String("branch", "", "Student branch")
	gender := fs.String("gender", "", "Student gender")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, err := readSecret("Password: ", *password)
	if err != nil {
		return err
	}
	confirm := secret
	if *password == "" {
		if confirm, err = readSecret("Confirm password: ", ""); err != nil {
			return err
		}
	}

	parsedRole, _ := models.ParseRole(*role)
	return a.print(a.client.Register(ctx, core.RegisterInput{
		Name:            *name,
		Email:           *email,
		Phone:           *phone,
		Password:        secret,
		ConfirmPassword: confirm,
		Role:            parsedRole,
		Student: core.StudentDetails{
			RegisterNumber: *registerNumber,
			PassoutYear:    *passoutYear,
			Branch:         *branch,
			Gender:         *gender,
		},
	}))
}

func commandAccounts(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: accounts list|approve|reject|block|unblock|add|delete")
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "list":
		fs := flag.NewFlagSet("accounts list", flag.ContinueOnError)
		role := fs.String("role", "student", "Role to list")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		parsed, _ := models.ParseRole(*role)
		return a.print(a.client.ListByRole(ctx, parsed))
	case "approve", "reject", "block", "unblock", "delete":
		if len(rest) != 1 {
			return fmt.Errorf("usage: accounts %s <account-id>", sub)
		}
		id := rest[0]
		switch sub {
		case "approve":
			return a.print(a.client.SetStatus(ctx, id, models.StatusApproved))
		case "reject":
			return a.print(a.client.SetStatus(ctx, id, models.StatusRejected))
		case "block":
			return a.print(a.client.SetBlocked(ctx, id, true))
		case "unblock":
			return a.print(a.client.SetBlocked(ctx, id, false))
		default:
			return a.print(a.client.Delete(ctx, id))
		}
	case "add":
		fs := flag.NewFlagSet("accounts add", flag.ContinueOnError)
		name := fs.String("name", "", "Full name")
		email := fs.String("email", "", "Email address")
		phone := fs.String("phone", "", "Phone number")
		role := fs.String("role", "recruiter", "recruiter or coordinator")
		department := fs.String("department", "", "Coordinator department")
		company := fs.String("company", "", "Recruiter company")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		parsed, _ := models.ParseRole(*role)
		return a.print(a.client.CreateManual(ctx, core.ManualInput{
			Name:       *name,
			Email:      *email,
			Phone:      *phone,
			Role:       parsed,
			Department: *department,
			Company:    *company,
		}))
	}
	return fmt.Errorf("unknown accounts command: %s", sub)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readSecret(prompt, given string) (string, error) {
	if secret := strings.TrimSpace(given); secret != "" {
		return secret, nil
	}
	fmt.Print(prompt)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Print("\n")
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(bytes), nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: portal [-memory] [-config file] <command> [flags]

Commands:
  login     --email <email> [--password <password>]
  logout
  whoami
  register  --name --email --role [--phone] [--password] [student flags]
  accounts  list --role <role>
  accounts  approve|reject|block|unblock|delete <account-id>
  accounts  add --name --email --role recruiter|coordinator [--company] [--department]
  shell     read commands from stdin against one session`)
}
