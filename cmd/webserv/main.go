// Command webserv is the process entrypoint (spec §6.5): it parses CLI
// arguments with cobra, translates SIGINT/SIGTERM into the cooperative
// shutdown signal the Event Loop polls (spec §9), and maps a terminating
// error's ExitCode() onto the process exit status.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nabbar/webserv/internal/webserver"
)

const defaultConfigPath = "config/default.conf"

var validateOnly bool

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if exitCode != 0 {
			return exitCode
		}
		return 1
	}
	return exitCode
}

// exitCode is set by runServer/runValidate before cobra's Execute
// returns, so main can propagate a fatal error's werr.ExitCode() (spec
// §7: "Log at CRITICAL, exit with returned error_code").
var exitCode int

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webserv [config_path]",
		Short: "HTTP/1.1 origin server with static, upload, and CGI routes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := defaultConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if validateOnly {
				return runValidate(path)
			}
			return runServer(path)
		},
	}
	cmd.Flags().BoolVarP(&validateOnly, "validate", "v", false, "parse and validate the configuration without binding any socket")
	return cmd
}

func runValidate(path string) error {
	if _, err := webserver.ParseAndResolve(path); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = err.ExitCode()
		return err
	}
	fmt.Println("configuration OK:", path)
	exitCode = 0
	return nil
}

func runServer(path string) error {
	srv, err := webserver.Bootstrap(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		exitCode = err.ExitCode()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runErr := srv.Run(ctx); runErr != nil {
		fmt.Fprintln(os.Stderr, runErr.Error())
		exitCode = runErr.ExitCode()
		return runErr
	}
	exitCode = 0
	return nil
}
