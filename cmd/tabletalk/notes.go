package main

import (
	"github.com/barekit/tabletalk/pkg/config"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Manage knowledge notes about the data",
}

var notesIngestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Embed and store the notes in a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := &app{logger: newLogger(cfg)}
		defer a.close()

		kb, done, err := a.newKnowledge(ctx, cfg)
		if err != nil {
			return report(err)
		}
		a.closers = append(a.closers, done)

		n, err := ingestFile(ctx, kb, args[0])
		if err != nil {
			return report(err)
		}
		if cfg.Knowledge.Backend == config.KnowledgeInMemory {
			pterm.Warning.Println("The inmemory backend forgets notes on exit; set knowledge.notes_file instead.")
		}
		pterm.Success.Printf("Ingested %d notes into the %s store\n", n, cfg.Knowledge.Backend)
		return nil
	},
}

func init() {
	notesCmd.AddCommand(notesIngestCmd)
}
