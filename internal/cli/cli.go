// Package cli implements the wasmserve command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Kush-Singh-26/wasmserve/internal/mimetypes"
	"github.com/Kush-Singh-26/wasmserve/internal/server"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// usageError marks failures caused by bad arguments.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// Flags holds the parsed command-line options.
type Flags struct {
	Bind       string
	LiveReload bool
	VerifyWasm bool
}

type runFunc func(ctx context.Context, cfg *server.Config) error

// Execute runs the command with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))
	cmd := newCommand(stdout, stderr, serve(stdout, logger))
	return execute(ctx, cmd, args, stderr)
}

func execute(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	var uerr usageError
	if errors.As(err, &uerr) {
		_, _ = fmt.Fprint(stderr, cmd.UsageString())
		_, _ = fmt.Fprintf(stderr, "%s: error: %v\n", cmd.Name(), err)
		return ExitUsage
	}
	_, _ = fmt.Fprintf(stderr, "❌ Error: %v\n", err)
	return ExitFailure
}

func newCommand(stdout, stderr io.Writer, run runFunc) *cobra.Command {
	f := new(Flags)

	command := &cobra.Command{
		Use:   "wasmserve [--bind ADDRESS] [port]",
		Short: "Serve the current directory, with .wasm files as application/wasm",
		Long: "Serve the current directory, with .wasm files as application/wasm.\n\n" +
			"--live-reload and --verify-wasm are opt-in extras; without them the server\n" +
			"only takes --bind and the port.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 1 {
				return usageError{fmt.Errorf("unrecognized arguments: %v", args[1:])}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(args)
			if err != nil {
				return usageError{err}
			}
			return run(cmd.Context(), cfg)
		},
	}
	command.SetOut(stdout)
	command.SetErr(stderr)
	command.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	command.Flags().StringVarP(&f.Bind, "bind", "b", "", "Specify alternate bind address [default: all interfaces]")
	command.Flags().BoolVar(&f.LiveReload, "live-reload", false, "Opt-in: reload connected pages when files change (include "+server.ClientScriptPath+")")
	command.Flags().BoolVar(&f.VerifyWasm, "verify-wasm", false, "Opt-in: compile served .wasm files and warn about invalid ones")

	return command
}

// config builds the server configuration from flags and the optional port.
func (f *Flags) config(args []string) (*server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.Host = f.Bind
	cfg.LiveReload = f.LiveReload
	cfg.VerifyWasm = f.VerifyWasm

	if len(args) == 1 {
		port, err := parsePort(args[0])
		if err != nil {
			return nil, err
		}
		cfg.Port = port
	}
	return cfg, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("argument port: invalid int value: %q", s)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("argument port: %d out of range 0-65535", port)
	}
	return port, nil
}

// serve starts the file server and blocks until ctx is done.
func serve(stdout io.Writer, logger *slog.Logger) runFunc {
	return func(ctx context.Context, cfg *server.Config) error {
		srv, err := server.New(cfg, mimetypes.Default(), logger)
		if err != nil {
			return err
		}

		ln, err := srv.Listen()
		if err != nil {
			return err
		}

		host, port := displayAddr(cfg.Host, ln.Addr())
		_, _ = fmt.Fprintf(stdout, "🌍 Serving HTTP on %s port %s (http://%s/) ...\n", host, port, net.JoinHostPort(host, port))
		if cfg.LiveReload {
			_, _ = fmt.Fprintf(stdout, "   (Auto-reload enabled via %s)\n", server.EventsPath)
		}

		err = srv.Serve(ctx, ln)
		if ctx.Err() != nil {
			_, _ = fmt.Fprintln(stdout, "\n🛑 Interrupt received, server stopped.")
		}
		_, _ = fmt.Fprintln(stdout, srv.Metrics().String())
		return err
	}
}

// displayAddr shows an empty bind address as 0.0.0.0 and reports the port
// actually bound, which differs from the configured one for port 0.
func displayAddr(bind string, addr net.Addr) (string, string) {
	host := bind
	if host == "" {
		host = "0.0.0.0"
	}
	port := ""
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = strconv.Itoa(tcp.Port)
	} else if _, p, err := net.SplitHostPort(addr.String()); err == nil {
		port = p
	}
	return host, port
}
