// Package cli parses the command line of the devrestore binary
package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	BuildDate = "unknown"
	CommitID  = "unknown"
)

// ErrHelp is returned after help or version output was printed
var ErrHelp = errors.New("help requested")

// Options holds the parsed command line
type Options struct {
	ConfigDir string
	Address   string
	// 0 keeps the configured port
	Port   int
	Mode   string
	Status bool
	// Subcommand and its arguments, e.g. ["admin", "add", "root"]
	Command []string
}

// Parse parses args (without the program name). Output for --help and
// --version goes to out; ErrHelp tells the caller to exit cleanly.
func Parse(args []string, out io.Writer) (*Options, error) {
	// Only -h (help) and -v (version) have short forms
	preprocessed := make([]string, len(args))
	copy(preprocessed, args)
	for i, arg := range preprocessed {
		switch arg {
		case "-h":
			preprocessed[i] = "--help"
		case "-v":
			preprocessed[i] = "--version"
		}
	}

	fs := flag.NewFlagSet(binaryName(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	opts := &Options{}
	showHelp := fs.Bool("help", false, "Show this help message")
	showVersion := fs.Bool("version", false, "Show version information")
	fs.BoolVar(&opts.Status, "status", false, "Show status of the running server")
	fs.StringVar(&opts.ConfigDir, "config", "", "Configuration directory")
	fs.StringVar(&opts.Address, "address", "", "Listen address")
	fs.IntVar(&opts.Port, "port", 0, "Listen port")
	fs.StringVar(&opts.Mode, "mode", "", "Application mode: production or development")

	if err := fs.Parse(preprocessed); err != nil {
		return nil, err
	}

	if *showHelp {
		ShowHelp(out)
		return nil, ErrHelp
	}
	if *showVersion {
		ShowVersion(out)
		return nil, ErrHelp
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("invalid --port: %d", opts.Port)
	}

	opts.Command = fs.Args()
	if len(opts.Command) > 0 && opts.Command[0] != "admin" {
		return nil, fmt.Errorf("unknown command %q", opts.Command[0])
	}
	return opts, nil
}

func binaryName() string {
	return filepath.Base(os.Args[0])
}

// ShowHelp displays help information
func ShowHelp(w io.Writer) {
	name := binaryName()

	fmt.Fprintf(w, "%s %s - device configuration restore server\n", name, Version)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [flags]\n", name)
	fmt.Fprintf(w, "  %s [flags] admin <add|list|passwd> ...\n", name)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Information:")
	fmt.Fprintln(w, "  -h, --help                        Show help")
	fmt.Fprintln(w, "  -v, --version                     Show version")
	fmt.Fprintln(w, "      --status                      Show status of the running server")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Server Configuration:")
	fmt.Fprintln(w, "      --config DIR                  Config directory containing server.yml")
	fmt.Fprintln(w, "      --address ADDR                Listen address (default: 0.0.0.0)")
	fmt.Fprintln(w, "      --port PORT                   Listen port (default: 8080)")
	fmt.Fprintln(w, "      --mode {production|development}  Application mode")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Admin Accounts:")
	fmt.Fprintln(w, "  admin add NAME [--privilege LEVEL] [--totp]   Create an account")
	fmt.Fprintln(w, "  admin list                                    List accounts")
	fmt.Fprintln(w, "  admin passwd NAME                             Change a password")
}

// ShowVersion displays version information
func ShowVersion(w io.Writer) {
	fmt.Fprintf(w, "%s v%s\n", binaryName(), Version)
	fmt.Fprintf(w, "Built: %s\n", BuildDate)
	fmt.Fprintf(w, "Commit: %s\n", CommitID)
	fmt.Fprintf(w, "Go: %s\n", runtime.Version())
	fmt.Fprintf(w, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
