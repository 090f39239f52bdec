// Augmentd retrieves document chunks and agent memories to augment chat
// messages.
//
// The serve command runs the HTTP API. The remaining commands run one
// operation against the configured stores and print JSON to stdout.
//
// Usage:
//
//	# Start the API on the configured port
//	augmentd serve
//
//	# Index a file, then query it
//	augmentd index notes.md --title "Team notes"
//	augmentd search "release checklist"
//
//	# Work with the memory backend
//	augmentd memory search "deploy steps" --task t-42 --user u-7
//	augmentd memory add "prefers terse answers" --scope user --user u-7
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the YAML file given with --config. Empty means the default
// location, which may be absent.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "augmentd",
	Short: "Retrieval augmentation for agent chat messages",
	Long: `augmentd indexes documents into a vector store and keeps task and user
memories in an external memory backend. Both are retrieved to annotate
chat messages with rag_context and memory_context blocks.

Configuration comes from defaults, an optional YAML file and environment
variables (SECTION_FIELD, e.g. RAG_ENABLED=true, MEMORY_API_KEY=...).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/augmentd/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "augmentd by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
