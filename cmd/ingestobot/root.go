package ingestobot

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/config"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/log"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	version string = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "ingestobot",
	Short: "Document ingestion pipeline for vector search",
	Long: `ingestobot discovers documents, extracts their pages, enriches tables
and figures, chunks the enriched text on a token budget, embeds the
chunks and upserts them into a vector store. Re-running over unchanged
input reproduces the same index.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		log.SetVerbose(verbose)

		// init and version run without an existing config.
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// GetRootCmd returns the root cobra command for testing purposes.
func GetRootCmd() *cobra.Command {
	return RootCmd
}

// SetVersion sets the version for the CLI.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ingestobot version %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path (default: ./ingestobot.yaml)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging output")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(removeCmd)
	RootCmd.AddCommand(purgeCmd)
	RootCmd.AddCommand(statusCmd)
}
