package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fyrsmithlabs/augmentd/internal/rag"
	"github.com/spf13/cobra"
)

var (
	indexTitle     string
	indexURL       string
	indexChunkSize int
	indexOverlap   int
	searchTopK     int
)

var indexCmd = &cobra.Command{
	Use:   "index [file|-]",
	Short: "Index a file or stdin into the vector store",
	Long: `Chunk, embed and store text as a new document.

Requires RAG to be enabled (RAG_ENABLED=true) with a working embedding
provider. Prints the document ID and the number of chunks stored.

Examples:
  # Index a file
  augmentd index docs/runbook.md --title Runbook

  # Index from stdin with smaller chunks
  cat notes.txt | augmentd index - --chunk-size 600 --overlap 60`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Retrieve the chunks most similar to a query",
	Long: `Embed the query and print the closest chunks as JSON.

Retrieval never fails: with RAG disabled or on any backend error the
result is an empty list.

Examples:
  augmentd search "how do we rotate credentials" --top-k 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	indexCmd.Flags().StringVar(&indexTitle, "title", "", "document title (defaults to the file name)")
	indexCmd.Flags().StringVar(&indexURL, "url", "", "source URL recorded with the document")
	indexCmd.Flags().IntVar(&indexChunkSize, "chunk-size", 0, "chunk size in characters (0 uses rag.chunk_size); must exceed the overlap")
	indexCmd.Flags().IntVar(&indexOverlap, "overlap", -1, "chunk overlap in characters (-1 uses rag.chunk_overlap)")

	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "number of chunks to return (0 uses rag.top_k)")
}

// readInput reads the named file, or stdin for "" and "-".
func readInput(stdin io.Reader, args []string) ([]byte, string, error) {
	if len(args) == 0 || args[0] == "-" {
		content, err := io.ReadAll(stdin)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return content, "", nil
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file %s: %w", args[0], err)
	}
	return content, args[0], nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	content, name, err := readInput(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{rag: true, logStderr: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.pipeline.Enabled() {
		return errors.New("rag is disabled; set RAG_ENABLED=true and configure an embedding provider")
	}

	req := rag.IndexRequest{
		Text:      string(content),
		Title:     indexTitle,
		URL:       indexURL,
		ChunkSize: indexChunkSize,
	}
	if req.Title == "" {
		req.Title = name
	}
	if indexOverlap >= 0 {
		overlap := indexOverlap
		req.Overlap = &overlap
	}

	res, err := a.pipeline.IndexText(cmd.Context(), req)
	if err != nil {
		if res != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "partially indexed %s: %d chunks stored\n", res.DocumentID, res.ChunkCount)
		}
		return fmt.Errorf("indexing failed: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{rag: true, logStderr: true})
	if err != nil {
		return err
	}
	defer a.Close()

	return printJSON(cmd.OutOrStdout(), a.pipeline.Retrieve(cmd.Context(), args[0], searchTopK))
}
