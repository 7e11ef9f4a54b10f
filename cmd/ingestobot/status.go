package ingestobot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/artifact"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/config"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

var statusRuns int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent run summaries",
	Long: `List the run summaries persisted in the artifact store, most recent
last. In local artifact mode the latest summary is printed in full.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := buildArtifactStore(cmd)
		if err != nil {
			return err
		}

		keys, err := store.List(cmd.Context(), "status/")
		if err != nil {
			return fmt.Errorf("failed to list run summaries: %w", err)
		}
		if len(keys) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		// Keys sort chronologically because the filename carries the
		// run's UTC start timestamp.
		if statusRuns > 0 && len(keys) > statusRuns {
			keys = keys[len(keys)-statusRuns:]
		}
		for _, key := range keys {
			fmt.Println(key)
		}

		if cfg.Artifacts.Mode == config.ModeLocal {
			return printSummary(filepath.Join(cfg.Artifacts.Dir, keys[len(keys)-1]))
		}
		return nil
	},
}

func buildArtifactStore(cmd *cobra.Command) (domain.ArtifactStore, error) {
	switch cfg.Artifacts.Mode {
	case config.ModeLocal:
		return artifact.NewLocal(cfg.Artifacts.Dir)
	case config.ModeObjectStore:
		return artifact.NewS3(cmd.Context(), cfg.Artifacts.Bucket, cfg.Artifacts.Prefix,
			cfg.Artifacts.Region, cfg.Artifacts.Endpoint)
	}
	return nil, fmt.Errorf("unknown artifacts mode: %s", cfg.Artifacts.Mode)
}

func printSummary(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read run summary: %w", err)
	}
	var status domain.PipelineStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("failed to parse run summary: %w", err)
	}

	fmt.Printf("\nRun %s\n", status.RunID)
	fmt.Printf("  started:  %s\n", status.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  finished: %s\n", status.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  documents: %d succeeded, %d failed (%.0f%%)\n",
		status.Succeeded, status.Failed, status.SuccessRate*100)
	for _, r := range status.Results {
		if !r.Success {
			fmt.Printf("  FAIL %s: [%s] %s\n", r.Filename, r.ErrorKind, r.ErrorMessage)
		}
	}
	return nil
}

func init() {
	statusCmd.Flags().IntVar(&statusRuns, "runs", 10, "number of recent runs to list (0 for all)")
}
