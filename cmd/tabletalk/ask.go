package main

import (
	"strings"

	"github.com/barekit/tabletalk/pkg/agent"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	askSession string
	showCall   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return report(err)
		}
		defer a.close()

		var session *agent.Session
		if askSession != "" {
			session = a.agent.Resume(askSession)
		} else {
			session = a.agent.NewSession()
		}

		answer, err := session.Ask(ctx, strings.Join(args, " "))
		if err != nil {
			return report(err)
		}
		if showCall && answer.Call != nil {
			pterm.Println(pterm.NewStyle(pterm.FgGray).Sprintf("→ %s %s", answer.Call.Name, answer.Call.Args))
		}
		pterm.Println(answer.Text)
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "continue an existing session id")
	askCmd.Flags().BoolVar(&showCall, "show-query", false, "print the tool call behind the answer")
}
