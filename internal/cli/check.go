package cli

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mattfrayser/whiteboard-backend/internal/logging"
	"github.com/mattfrayser/whiteboard-backend/internal/store"
)

func newCheckCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "check <room>",
		Short: "Print the persisted document for a room",
		Long:  "check reads a room straight from the store, bypassing memory. The badger store is opened read-only, so the server must not be holding it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logging.Init(cfg.Log())

			if cfg.Store.Driver != "badger" {
				return fmt.Errorf("check needs a persistent store, driver is %q", cfg.Store.Driver)
			}
			st, err := store.OpenBadger(store.BadgerOptions{Path: cfg.Store.Path, ReadOnly: true})
			if err != nil {
				return err
			}
			defer st.Close()

			doc, err := st.Find(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("room %q: %w", args[0], err)
			}
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
}
