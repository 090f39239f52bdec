package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/augmentd/internal/memory"
	"github.com/spf13/cobra"
)

var (
	memTaskID      string
	memUserID      string
	memSearchScope string
	memAddScope    string
	memTopK        int
	memTags        []string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Search and manage memories in the memory backend",
	Long: `Search and manage task and user memories.

The backend is used only when MEMORY_ENABLED=true and MEMORY_API_KEY is
set. Otherwise searches return nothing and changes are not sent.`,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search task and user memories",
	Long: `Search memories and print them as JSON, task scope first.

Without --scope, the task scope (--task) and the user scope (--user) are
searched concurrently and merged.

Examples:
  augmentd memory search "deploy steps" --task t-42 --user u-7
  augmentd memory search "tone" --scope user --user u-7 --top-k 5`,
	Args: cobra.ExactArgs(1),
	RunE: runMemorySearch,
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store a memory",
	Long: `Store a memory and print the backend ID.

Examples:
  augmentd memory add "staging uses the eu-west cluster" --task t-42
  augmentd memory add "prefers terse answers" --scope user --user u-7 --tag style`,
	Args: cobra.ExactArgs(1),
	RunE: runMemoryAdd,
}

var memoryPromoteCmd = &cobra.Command{
	Use:   "promote <id>",
	Short: "Promote a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryByID("promote", memory.Gateway.Promote),
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemoryByID("delete", memory.Gateway.Delete),
}

func init() {
	memoryCmd.PersistentFlags().StringVar(&memTaskID, "task", "", "task ID")
	memoryCmd.PersistentFlags().StringVar(&memUserID, "user", "", "user ID")

	memorySearchCmd.Flags().StringVar(&memSearchScope, "scope", "", "search a single scope: task, user or project")
	memorySearchCmd.Flags().IntVar(&memTopK, "top-k", 0, "results per scope (0 uses memory.top_k_task and memory.top_k_user)")

	memoryAddCmd.Flags().StringVar(&memAddScope, "scope", memory.ScopeTask, "scope: task, user or project")
	memoryAddCmd.Flags().StringSliceVar(&memTags, "tag", nil, "tag to attach (repeatable)")

	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memoryPromoteCmd)
	memoryCmd.AddCommand(memoryDeleteCmd)
}

func validScope(scope string) error {
	switch scope {
	case memory.ScopeTask, memory.ScopeUser, memory.ScopeProject:
		return nil
	}
	return fmt.Errorf("invalid scope %q (want %s)", scope,
		strings.Join([]string{memory.ScopeTask, memory.ScopeUser, memory.ScopeProject}, ", "))
}

// openMemory builds the app without RAG and notes a disabled backend on
// stderr.
func openMemory(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{logStderr: true})
	if err != nil {
		return nil, err
	}
	if !a.memory.Enabled() {
		fmt.Fprintln(cmd.ErrOrStderr(), "memory backend disabled; set MEMORY_ENABLED=true and MEMORY_API_KEY")
	}
	return a, nil
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	if memSearchScope != "" {
		if err := validScope(memSearchScope); err != nil {
			return err
		}
	}
	a, err := openMemory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var items []memory.Item
	if memSearchScope != "" {
		items = a.memory.Search(cmd.Context(), memory.SearchRequest{
			Query:  args[0],
			Scope:  memSearchScope,
			TaskID: memTaskID,
			UserID: memUserID,
			Limit:  memTopK,
		})
	} else {
		req := memory.RetrieveRequest{
			Query:    args[0],
			TaskID:   memTaskID,
			UserID:   memUserID,
			TopKTask: a.cfg.Memory.TopKTask,
			TopKUser: a.cfg.Memory.TopKUser,
		}
		if memTopK > 0 {
			req.TopKTask, req.TopKUser = memTopK, memTopK
		}
		items = memory.NewMerger(a.memory, a.logger).Retrieve(cmd.Context(), req)
	}
	return printJSON(cmd.OutOrStdout(), items)
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	if err := validScope(memAddScope); err != nil {
		return err
	}
	if strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("memory text cannot be empty")
	}
	a, err := openMemory(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.memory.Add(cmd.Context(), memory.AddInput{
		Text:   args[0],
		Scope:  memAddScope,
		Tags:   memTags,
		TaskID: memTaskID,
		UserID: memUserID,
	})
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("memory add failed")
	}
	return nil
}

func runMemoryByID(op string, call func(memory.Gateway, context.Context, string) bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openMemory(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ok := call(a.memory, cmd.Context(), args[0])
		if err := printJSON(cmd.OutOrStdout(), struct {
			OK bool `json:"ok"`
		}{ok}); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("memory %s failed", op)
		}
		return nil
	}
}
