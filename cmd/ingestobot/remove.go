package ingestobot

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/config"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/pipeline"
)

var cleanupArtifacts bool

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the configured input's documents from the vector store",
	Long: `Delete every chunk whose source document matches the configured input.
With --cleanup-artifacts the archived original, page artifacts and
manifest are deleted as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Action.DocumentAction = config.ActionRemove
		if cmd.Flags().Changed("cleanup-artifacts") {
			cfg.Action.CleanupArtifacts = cleanupArtifacts
		}

		orch, err := pipeline.New(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := orch.Close(); closeErr != nil {
				fmt.Printf("Warning: failed to close vector store: %v\n", closeErr)
			}
		}()

		status, err := orch.Run(cmd.Context())
		if err != nil {
			return err
		}

		for _, r := range status.Results {
			if r.Success {
				fmt.Printf("  removed %s: %d chunks\n", r.Filename, r.ChunksIndexed)
			} else {
				fmt.Printf("  FAIL    %s: [%s] %s\n", r.Filename, r.ErrorKind, r.ErrorMessage)
			}
		}
		if status.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed", status.Failed, status.TotalDocuments)
		}
		return nil
	},
}

func init() {
	removeCmd.Flags().BoolVar(&cleanupArtifacts, "cleanup-artifacts", false, "also delete archived artifacts")
}
