package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
)

type CollectionsCmd struct{}

func NewCollectionsCmd() *CollectionsCmd {
	return &CollectionsCmd{}
}

func (c *CollectionsCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the collections available to query",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := cmd.Root().PersistentFlags().GetString("server")
			if err != nil {
				return fmt.Errorf("failed to get server flag: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var resp struct {
				Collections []string `json:"collections"`
			}
			if err := newClient(server).getJSON(ctx, "/api/collections", &resp); err != nil {
				return err
			}

			sort.Strings(resp.Collections)
			for _, name := range resp.Collections {
				fmt.Println(name)
			}
			return nil
		},
	}
}
