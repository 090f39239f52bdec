// Package memory talks to the external memory backend.
//
// A Gateway is either live or disabled, decided once by NewGateway. The
// disabled gateway answers every call with a benign default and performs
// no I/O, so callers never need to check whether memory is configured.
//
// The live gateway absorbs backend failures: searches fall back to a list
// call and then to an empty result, while add, promote and delete report
// failure through their return values. None of them return an error.
package memory

import (
	"context"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/fyrsmithlabs/augmentd/internal/logging"
)

// Memory scopes.
const (
	ScopeTask    = "task"
	ScopeUser    = "user"
	ScopeProject = "project"
)

// Item is a normalized memory record.
type Item struct {
	ID        string   `json:"id"`
	Scope     string   `json:"scope"`
	Snippet   string   `json:"snippet"`
	Score     *float64 `json:"score,omitempty"`
	UpdatedAt string   `json:"updatedAt,omitempty"`
}

// AddInput is a memory to store. An empty Scope is stored as task scope.
type AddInput struct {
	Text     string         `json:"text"`
	Scope    string         `json:"scope"`
	Tags     []string       `json:"tags,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	TaskID   string         `json:"taskId,omitempty"`
	UserID   string         `json:"userId,omitempty"`
}

// AddResult reports an add. ID is empty when the backend did not return
// one, which includes every add on a disabled gateway.
type AddResult struct {
	ID string `json:"id,omitempty"`
	OK bool   `json:"ok"`
}

// SearchRequest is a single-scope search. Empty TaskID and UserID are not
// sent as filters.
type SearchRequest struct {
	Query  string
	Scope  string
	TaskID string
	UserID string
	Limit  int
}

// Gateway is the memory backend as seen by the rest of augmentd.
type Gateway interface {
	// Enabled reports whether calls reach the backend.
	Enabled() bool
	Add(ctx context.Context, in AddInput) AddResult
	// Search never fails; backend errors yield an empty slice.
	Search(ctx context.Context, req SearchRequest) []Item
	Promote(ctx context.Context, id string) bool
	Delete(ctx context.Context, id string) bool
}

// NewGateway returns the HTTP gateway when memory is enabled and an API key
// is configured, and the disabled gateway otherwise.
func NewGateway(cfg config.MemoryConfig, logger *logging.Logger) Gateway {
	if logger == nil {
		logger = logging.Nop()
	}
	if !cfg.Active() {
		logger.Named("memory").Debug(context.Background(), "memory gateway disabled")
		return disabledGateway{}
	}
	return NewHTTPGateway(cfg, nil, logger)
}

type disabledGateway struct{}

func (disabledGateway) Enabled() bool { return false }

func (disabledGateway) Add(context.Context, AddInput) AddResult {
	return AddResult{OK: true}
}

func (disabledGateway) Search(context.Context, SearchRequest) []Item {
	return []Item{}
}

func (disabledGateway) Promote(context.Context, string) bool { return true }

func (disabledGateway) Delete(context.Context, string) bool { return true }
