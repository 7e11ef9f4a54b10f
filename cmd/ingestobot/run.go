package ingestobot

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/config"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/pipeline"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest the configured input into the vector store",
	Long: `Discover every document matching the configured input, run each one
through extraction, enrichment, chunking and embedding, and upsert the
resulting chunks. Documents already in the index are replaced in full.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Action.DocumentAction = config.ActionAdd

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
				fmt.Printf("  ok   %s: %d chunks (%.1fs)\n", r.Filename, r.ChunksIndexed, r.ProcessingSecs)
			} else {
				fmt.Printf("  FAIL %s: [%s] %s\n", r.Filename, r.ErrorKind, r.ErrorMessage)
			}
			for _, w := range r.Warnings {
				fmt.Printf("       warning: %s\n", w)
			}
		}
		fmt.Printf("Run %s: %d/%d documents ingested (%.0f%%)\n",
			status.RunID, status.Succeeded, status.TotalDocuments, status.SuccessRate*100)

		if status.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed", status.Failed, status.TotalDocuments)
		}
		return nil
	},
}
