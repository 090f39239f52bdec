// Package augment builds the annotation blocks attached to an outbound
// agent message: retrieved document chunks and remembered facts.
package augment

import (
	"context"

	"github.com/fyrsmithlabs/augmentd/internal/logging"
	"github.com/fyrsmithlabs/augmentd/internal/memory"
	"github.com/fyrsmithlabs/augmentd/internal/rag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Block types.
const (
	BlockRAG    = "rag_context"
	BlockMemory = "memory_context"
)

// Block is one annotation. Items holds []rag.Item for rag_context and
// []memory.Item for memory_context.
type Block struct {
	Type  string `json:"type"`
	Items any    `json:"items"`
}

// Request is the message to annotate. TopK limits document chunks; zero
// uses the pipeline default.
type Request struct {
	Query  string `json:"query"`
	TaskID string `json:"taskId,omitempty"`
	UserID string `json:"userId,omitempty"`
	TopK   int    `json:"topK,omitempty"`
}

// Retriever finds document chunks.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) []rag.Item
}

// MemoryRetriever finds memories across scopes.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, req memory.RetrieveRequest) []memory.Item
}

// Options sets the per-scope memory limits. Zero values use the memory
// package defaults and a negative value skips the scope.
type Options struct {
	TopKTask int
	TopKUser int
}

// Augmenter runs document and memory retrieval side by side.
type Augmenter struct {
	docs     Retriever
	memories MemoryRetriever
	opts     Options
	logger   *logging.Logger
}

// New builds an Augmenter. Either retriever may be nil, which omits its
// block.
func New(docs Retriever, memories MemoryRetriever, opts Options, logger *logging.Logger) *Augmenter {
	if logger == nil {
		logger = logging.Nop()
	}
	if opts.TopKTask == 0 {
		opts.TopKTask = memory.DefaultTopKTask
	}
	if opts.TopKUser == 0 {
		opts.TopKUser = memory.DefaultTopKUser
	}
	return &Augmenter{
		docs:     docs,
		memories: memories,
		opts:     opts,
		logger:   logger.Named("augment"),
	}
}

// Annotate returns the non-empty blocks for req, rag_context first. It
// never fails; both retrievals already absorb their own errors.
func (a *Augmenter) Annotate(ctx context.Context, req Request) []Block {
	ctx = logging.WithTaskID(ctx, req.TaskID)
	ctx = logging.WithUserID(ctx, req.UserID)

	var (
		docs []rag.Item
		mems []memory.Item
		g    errgroup.Group
	)
	if a.docs != nil {
		g.Go(func() error {
			docs = a.docs.Retrieve(ctx, req.Query, req.TopK)
			return nil
		})
	}
	if a.memories != nil {
		g.Go(func() error {
			mems = a.memories.Retrieve(ctx, memory.RetrieveRequest{
				Query:    req.Query,
				TaskID:   req.TaskID,
				UserID:   req.UserID,
				TopKTask: a.opts.TopKTask,
				TopKUser: a.opts.TopKUser,
			})
			return nil
		})
	}
	_ = g.Wait()

	blocks := make([]Block, 0, 2)
	if len(docs) > 0 {
		blocks = append(blocks, Block{Type: BlockRAG, Items: docs})
	}
	if len(mems) > 0 {
		blocks = append(blocks, Block{Type: BlockMemory, Items: mems})
	}
	a.logger.Debug(ctx, "annotated message",
		zap.Int("rag_items", len(docs)),
		zap.Int("memory_items", len(mems)))
	return blocks
}
