package main

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/barekit/tabletalk/pkg/agent"
	"github.com/barekit/tabletalk/pkg/fault"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long:  `Start an interactive session. Type a question and press enter. /reset clears the conversation, /history prints it and /exit quits.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return report(err)
		}
		defer a.close()

		sessions := agent.NewSessions(a.agent, cfg.Agent.SessionIdle)
		go sessions.Run(ctx, time.Minute)

		var session *agent.Session
		if chatSession != "" {
			session = sessions.Get(chatSession)
		} else {
			session = sessions.Open()
		}

		pterm.DefaultBox.
			WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("tabletalk")).
			Println("Session " + session.ID() + "\nAsk about: " + strings.Join(a.schema.TableNames(), ", "))

		reader := bufio.NewReader(os.Stdin)
		for {
			pterm.Print(pterm.NewStyle(pterm.FgLightCyan).Sprint("> "))
			line, err := reader.ReadString('\n')
			if errors.Is(err, io.EOF) {
				pterm.Println()
				return nil
			}
			if err != nil {
				return report(err)
			}
			if ctx.Err() != nil {
				return nil
			}

			question := strings.TrimSpace(line)
			switch question {
			case "":
				continue
			case "/exit", "/quit":
				return nil
			case "/reset":
				if err := session.Reset(ctx); err != nil {
					pterm.Error.Println(fault.UserMessage(err))
				} else {
					pterm.Info.Println("Conversation cleared.")
				}
				continue
			case "/history":
				printHistory(cmd, session)
				continue
			}

			spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Thinking...")
			answer, err := session.Ask(ctx, question)
			if spinner != nil {
				_ = spinner.Stop()
			}
			// An idle sweep may have closed the session; its transcript survives.
			if errors.Is(err, agent.ErrSessionClosed) {
				session = sessions.Get(session.ID())
				answer, err = session.Ask(ctx, question)
			}
			if err != nil {
				pterm.Error.Println(fault.UserMessage(err))
				continue
			}
			pterm.Println(answer.Text)
			pterm.Println()
		}
	},
}

func printHistory(cmd *cobra.Command, session *agent.Session) {
	history, err := session.History(cmd.Context())
	if err != nil {
		pterm.Error.Println(fault.UserMessage(err))
		return
	}
	if len(history) == 0 {
		pterm.Info.Println("No messages yet.")
		return
	}
	items := make([]pterm.BulletListItem, len(history))
	for i, m := range history {
		items[i] = pterm.BulletListItem{Level: 0, Text: string(m.Role) + ": " + m.Content}
	}
	_ = pterm.DefaultBulletList.WithItems(items).Render()
}

func init() {
	chatCmd.Flags().StringVar(&chatSession, "session", "", "continue an existing session id")
}
