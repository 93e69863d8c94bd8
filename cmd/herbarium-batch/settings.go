package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/askelva/herbarium-batch/constants"
	"github.com/askelva/herbarium-batch/internal/common"
	"github.com/askelva/herbarium-batch/internal/store"
)

// storedSettings is the durable settings payload: credentials and the
// relay URL survive between runs without living in the environment.
type storedSettings struct {
	Keys     map[string]string `json:"keys,omitempty"`
	RelayURL string            `json:"relayUrl,omitempty"`
}

func newSettingsCmd(a *app) *cobra.Command {
	var (
		setKeys  []string
		relayURL string
		clear    bool
	)
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or update stored credentials and relay URL",
		Long:  "Stored settings fill in whatever the environment and config file leave unset. Keys are stored in the local state database.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := store.Open(ctx, a.cfg.Store.Path, a.log)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			settings, err := loadStoredSettings(ctx, st)
			if err != nil {
				return err
			}

			changed := false
			if clear {
				settings = storedSettings{}
				changed = true
			}
			for _, kv := range setKeys {
				name, key, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("bad --set-key %q, want provider=KEY", kv)
				}
				id, err := constants.ParseProviderID(strings.TrimSpace(name))
				if err != nil {
					return err
				}
				if settings.Keys == nil {
					settings.Keys = map[string]string{}
				}
				settings.Keys[string(id)] = strings.TrimSpace(key)
				changed = true
			}
			if relayURL != "" {
				settings.RelayURL = relayURL
				changed = true
			}

			if changed {
				raw, err := json.Marshal(settings)
				if err != nil {
					return err
				}
				if err := st.SaveSettings(ctx, raw); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			for _, id := range constants.Providers() {
				state := "unset"
				if settings.Keys[string(id)] != "" {
					state = "stored"
				} else if a.cfg.Credentials[id] != "" {
					state = "from environment"
				}
				fmt.Fprintf(out, "%-10s %s\n", id, state)
			}
			relay := settings.RelayURL
			if relay == "" {
				relay = a.cfg.Relay.URL
			}
			if relay == "" {
				relay = "(direct)"
			}
			fmt.Fprintf(out, "%-10s %s\n", "relay", relay)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&setKeys, "set-key", nil, "store a provider key, e.g. --set-key openai=sk-...")
	cmd.Flags().StringVar(&relayURL, "relay", "", "store the relay base URL")
	cmd.Flags().BoolVar(&clear, "clear", false, "forget all stored settings first")
	return cmd
}

func loadStoredSettings(ctx context.Context, st store.Store) (storedSettings, error) {
	var settings storedSettings
	raw, err := st.LoadSettings(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return settings, nil
	}
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return settings, common.WrapError(err, "decode stored settings")
	}
	return settings, nil
}

// applyStoredSettings fills config gaps from the durable settings:
// environment and config file win, stored values fill what they left
// unset.
func applyStoredSettings(ctx context.Context, st store.Store, cfg *common.Config) error {
	settings, err := loadStoredSettings(ctx, st)
	if err != nil {
		return err
	}
	for name, key := range settings.Keys {
		id, err := constants.ParseProviderID(name)
		if err != nil || key == "" {
			continue
		}
		if cfg.Credentials[id] == "" {
			cfg.Credentials[id] = key
		}
	}
	if cfg.Relay.URL == "" {
		cfg.Relay.URL = settings.RelayURL
	}
	return nil
}
