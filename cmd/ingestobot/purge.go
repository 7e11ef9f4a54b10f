package ingestobot

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/config"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/pipeline"
)

var (
	force        bool
	purgeCleanup bool
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Clear the entire vector store index",
	Long: `Delete every chunk in the index regardless of source. With
--cleanup-artifacts every archived artifact except the run summaries is
deleted as well. This operation cannot be undone!`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !force {
			fmt.Print("Are you sure you want to clear the index? This cannot be undone! (y/N): ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				return fmt.Errorf("failed to read input")
			}
			input := strings.ToLower(strings.TrimSpace(scanner.Text()))
			if input != "y" && input != "yes" {
				fmt.Println("Purge cancelled.")
				return nil
			}
		}

		cfg.Action.DocumentAction = config.ActionRemoveAll
		if cmd.Flags().Changed("cleanup-artifacts") {
			cfg.Action.CleanupArtifacts = purgeCleanup
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
		if status.Failed > 0 {
			r := status.Results[0]
			return fmt.Errorf("purge failed: [%s] %s", r.ErrorKind, r.ErrorMessage)
		}
		fmt.Printf("Index cleared: %d chunks deleted.\n", status.Results[0].ChunksIndexed)
		return nil
	},
}

func init() {
	purgeCmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	purgeCmd.Flags().BoolVar(&purgeCleanup, "cleanup-artifacts", false, "also delete archived artifacts")
}
