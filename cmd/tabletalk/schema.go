package main

import (
	"github.com/barekit/tabletalk/pkg/prompt"
	"github.com/barekit/tabletalk/pkg/schema"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the system context sent to the model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger(cfg)
		s, err := schema.Load(cfg.Schema.Path)
		if err != nil {
			return report(err)
		}
		registry, err := newRegistry(cfg, nil, s, logger)
		if err != nil {
			return report(err)
		}

		snap := prompt.BuildContext(s, registry)
		pterm.Println(snap.Text)
		pterm.Println()
		pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Schema version:   ") + snap.SchemaVersion)
		pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Catalog version:  ") + snap.CatalogVersion)
		pterm.Println(pterm.NewStyle(pterm.FgLightCyan).Sprint("→ Fingerprint:      ") + snap.Fingerprint)
		return nil
	},
}
