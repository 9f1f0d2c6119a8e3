package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pquerna/otp/totp"
	"golang.org/x/term"

	models "github.com/apimgr/devrestore/src/server/model"
)

// PasswordPrompt asks for a secret without echoing it
type PasswordPrompt func(label string) (string, error)

// AdminCommand manages operator accounts from the command line
type AdminCommand struct {
	Admins *models.AdminModel
	Out    io.Writer
	Prompt PasswordPrompt
	// TOTP issuer shown in authenticator apps
	Issuer string
}

// TerminalPrompt reads from the terminal when stdin is one, otherwise one
// line from stdin so passwords can be piped in.
func TerminalPrompt(out io.Writer) PasswordPrompt {
	reader := bufio.NewReader(os.Stdin)
	return func(label string) (string, error) {
		fd := int(os.Stdin.Fd())
		if term.IsTerminal(fd) {
			fmt.Fprint(out, label)
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(out)
			return string(b), err
		}
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
}

// Run dispatches "add", "list" and "passwd"
func (a *AdminCommand) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: admin <add|list|passwd>")
	}
	switch args[0] {
	case "add":
		return a.add(ctx, args[1:])
	case "list":
		return a.list(ctx)
	case "passwd":
		return a.passwd(ctx, args[1:])
	default:
		return fmt.Errorf("unknown admin command %q", args[0])
	}
}

func (a *AdminCommand) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("admin add", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	privilege := fs.String("privilege", "admin", "guest, operator or admin")
	withTOTP := fs.Bool("totp", false, "Enroll a TOTP second factor")

	username, rest := splitName(args)
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if username == "" && fs.NArg() > 0 {
		username = fs.Arg(0)
	}
	if username == "" {
		return fmt.Errorf("usage: admin add NAME [--privilege LEVEL] [--totp]")
	}

	level, err := models.ParsePrivilege(*privilege)
	if err != nil {
		return err
	}

	password, err := a.newPassword()
	if err != nil {
		return err
	}

	var secret, url string
	if *withTOTP {
		key, err := totp.Generate(totp.GenerateOpts{Issuer: a.issuer(), AccountName: username})
		if err != nil {
			return fmt.Errorf("failed to generate TOTP secret: %w", err)
		}
		secret, url = key.Secret(), key.URL()
	}

	if _, err := a.Admins.Create(ctx, username, password, level, secret); err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "Created %s with privilege %s\n", username, level)
	if secret != "" {
		fmt.Fprintf(a.Out, "TOTP secret: %s\n", secret)
		fmt.Fprintf(a.Out, "TOTP URL:    %s\n", url)
	}
	return nil
}

func (a *AdminCommand) list(ctx context.Context) error {
	admins, err := a.Admins.List(ctx)
	if err != nil {
		return err
	}
	if len(admins) == 0 {
		fmt.Fprintln(a.Out, "No admin accounts")
		return nil
	}

	tw := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tPRIVILEGE\tTOTP\tLAST LOGIN")
	for _, admin := range admins {
		last := "never"
		if admin.LastLoginAt != nil {
			last = admin.LastLoginAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", admin.Username, admin.Privilege, admin.HasTOTP(), last)
	}
	return tw.Flush()
}

func (a *AdminCommand) passwd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: admin passwd NAME")
	}
	password, err := a.newPassword()
	if err != nil {
		return err
	}
	if err := a.Admins.SetPassword(ctx, args[0], password); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Password changed for %s\n", args[0])
	return nil
}

func (a *AdminCommand) newPassword() (string, error) {
	password, err := a.Prompt("Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := a.Prompt("Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func (a *AdminCommand) issuer() string {
	if a.Issuer == "" {
		return "devrestore"
	}
	return a.Issuer
}

// splitName lets the account name come before the flags
func splitName(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return args[0], args[1:]
	}
	return "", args
}
