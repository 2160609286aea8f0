package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/barekit/tabletalk/pkg/config"
	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// errAlreadyReported tells Execute the user has seen the failure.
var errAlreadyReported = errors.New("already reported")

// report shows err to the user as a kind-labelled message. The full error
// only goes to the log.
func report(err error) error {
	if errors.Is(err, errAlreadyReported) {
		return err
	}
	slog.Debug("command failed", "error", err)
	pterm.Error.Println(fault.UserMessage(err))
	return errAlreadyReported
}

var (
	cfgFile     string
	metricsAddr string
	debug       bool
	cfg         *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "tabletalk",
	Short:         "Ask questions about a database in plain language",
	Long:          `tabletalk turns free-text questions into validated, parameterized queries against a relational database and answers in natural language.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			// The user owns the file, so the reason is worth showing.
			pterm.Error.Println("Invalid configuration: " + err.Error())
			return errAlreadyReported
		}
		if metricsAddr != "" {
			loaded.Metrics.Addr = metricsAddr
		}
		if debug {
			loaded.Agent.Debug = true
			loaded.Log.Level = "debug"
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errAlreadyReported) {
			_ = report(err)
			pterm.Info.Println("Run 'tabletalk --help' for usage.")
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./tabletalk.yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log prompts, completions and tool calls")

	rootCmd.AddCommand(askCmd, chatCmd, schemaCmd, notesCmd)
}
