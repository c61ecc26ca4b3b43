// Courierctl is the operator CLI for a running courier server: submit
// batches, follow jobs and cancel them.
package main

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time.
var Version = "dev"

// app holds the state shared by every subcommand.
type app struct {
	server     string
	token      string
	jsonOutput bool
	quiet      bool
	out        io.Writer
	client     *client
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:           "courierctl",
		Short:         "courierctl - operate a courier email triage server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			a.client = newClient(a.server, a.token)
			return nil
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&a.server, "server", envOr("COURIER_SERVER", "http://localhost:8080"), "courier API base URL")
	root.PersistentFlags().StringVar(&a.token, "token", os.Getenv("COURIER_API_TOKEN"), "bearer token for the API")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")
	root.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Suppress non-essential output")

	root.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Printf("courierctl version %s\n", Version)
			},
		},
		a.submitCmd(),
		a.statusCmd(),
		a.jobsCmd(),
		a.cancelCmd(),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

const defaultPollInterval = 2 * time.Second

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		errorMsg(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
