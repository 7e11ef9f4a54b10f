package ingestobot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	forceInit  bool
	outputPath string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new ingestobot configuration file",
	Long: `Initialize creates an ingestobot.yaml in the current directory with
all default configuration values, which you can then customize.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := outputPath
		if configPath == "" {
			configPath = "ingestobot.yaml"
		}

		if !forceInit {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
			}
		}

		dir := filepath.Dir(configPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}

		if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0644); err != nil {
			return fmt.Errorf("failed to write configuration file: %w", err)
		}

		fmt.Printf("Configuration file created at: %s\n", configPath)
		fmt.Printf("Customize it and run: ingestobot --config %s run\n", configPath)
		return nil
	},
}

const defaultConfigYAML = `# ingestobot configuration.
# Every key can be overridden with an INGESTOBOT_* environment variable,
# e.g. INGESTOBOT_EMBEDDINGS_API_KEY.

input:
  mode: local            # local | object-store
  glob: "./data/*"
  # bucket: my-documents
  # prefix: incoming/
  # filter: "*.pdf"
  # region: us-east-1
  # endpoint: http://localhost:9000

artifacts:
  # mode defaults to input.mode
  dir: "./artifacts"
  # bucket: my-artifacts

extraction:
  mode: hybrid           # text | pdf | markitdown | hybrid
  max_page_concurrency: 10
  partial_page_tolerance: true

media:
  mode: disabled         # vision | disabled
  # model: gpt-4o-mini
  # api_key: ""

table:
  render: markdown       # plain | markdown | html

chunking:
  target_tokens: 500
  overlap_percent: 10
  cross_page_overlap: true
  max_chars: 2000

embeddings:
  provider: local        # openai | compat | ollama | local
  model: text-embedding-3-small
  dimensions: 768
  batch_size: 64
  batch_tokens: 100000
  max_concurrency: 10
  integrated_vectorization: false
  # endpoint: http://localhost:11434
  # api_key: ""

vector_store:
  provider: sqlite       # qdrant | sqlite
  db_path: "./data/index.db"
  # url: http://localhost:6334
  # collection: documents
  upload_batch_size: 1000

action:
  document_action: add   # add | remove | remove_all
  cleanup_artifacts: false

performance:
  max_workers: 3
`

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "overwrite an existing configuration file")
	initCmd.Flags().StringVarP(&outputPath, "output", "o", "", "path for the configuration file")
}
