package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/askelva/herbarium-batch/constants"
	"github.com/askelva/herbarium-batch/internal/llm"
	"github.com/askelva/herbarium-batch/internal/store"
)

func newModelsCmd(a *app) *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List selectable models per provider",
		Long:  "Queries each configured provider's model listing (falling back to a built-in list when a key is missing or the call fails).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if st, err := store.Open(ctx, a.cfg.Store.Path, a.log); err == nil {
				if err := applyStoredSettings(ctx, st, a.cfg); err != nil {
					a.log.Warn("settings.load_failed", "error", err)
				}
				_ = st.Close()
			}
			registry := llm.NewRegistry(nil, a.log)

			providers := constants.Providers()
			if providerName != "" {
				id, err := constants.ParseProviderID(providerName)
				if err != nil {
					return err
				}
				providers = []constants.ProviderID{id}
			}

			out := cmd.OutOrStdout()
			for _, id := range providers {
				p, err := registry.ForProvider(id)
				if err != nil {
					return err
				}
				key := a.cfg.Credentials[id]
				models, err := p.ListModels(ctx, key, a.cfg.Relay.URL)
				if err != nil {
					a.log.Warn("models.list_failed", "provider", id, "error", err)
					continue
				}
				fmt.Fprintf(out, "%s:\n", id)
				for _, m := range models {
					marker := " "
					if m.ID == llm.DefaultModel(id) {
						marker = "*"
					}
					fmt.Fprintf(out, "  %s %s\n", marker, m.ID)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "restrict to one provider (openai|gemini|anthropic|xai)")
	return cmd
}
