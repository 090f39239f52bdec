package memory

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/augmentd/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Default per-scope limits.
const (
	DefaultTopKTask = 8
	DefaultTopKUser = 3
)

// RetrieveRequest asks for memories across the task and user scopes. A
// zero TopK skips that scope; an empty id still queries its scope, just
// without the id filter.
type RetrieveRequest struct {
	Query    string
	TaskID   string
	UserID   string
	TopKTask int
	TopKUser int
}

// NewRetrieveRequest returns a request with the default limits.
func NewRetrieveRequest(query string) RetrieveRequest {
	return RetrieveRequest{
		Query:    query,
		TopKTask: DefaultTopKTask,
		TopKUser: DefaultTopKUser,
	}
}

// Merger queries the task and user scopes concurrently and concatenates
// the results, task first.
type Merger struct {
	gateway Gateway
	logger  *logging.Logger
}

func NewMerger(gateway Gateway, logger *logging.Logger) *Merger {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Merger{gateway: gateway, logger: logger.Named("memory.merger")}
}

// Retrieve returns task-scope items as the backend ordered them, followed
// by user-scope items. Items are neither deduplicated nor re-ranked. It
// never fails: a failed merge yields an empty slice.
func (m *Merger) Retrieve(ctx context.Context, req RetrieveRequest) []Item {
	if m.gateway == nil || !m.gateway.Enabled() {
		return []Item{}
	}

	var task, user []Item
	var g errgroup.Group
	if req.TopKTask > 0 {
		g.Go(m.search(ctx, SearchRequest{
			Query:  req.Query,
			Scope:  ScopeTask,
			TaskID: req.TaskID,
			Limit:  req.TopKTask,
		}, &task))
	}
	if req.TopKUser > 0 {
		g.Go(m.search(ctx, SearchRequest{
			Query:  req.Query,
			Scope:  ScopeUser,
			UserID: req.UserID,
			Limit:  req.TopKUser,
		}, &user))
	}
	if err := g.Wait(); err != nil {
		m.logger.Warn(ctx, "memory retrieval failed", zap.Error(err))
		return []Item{}
	}

	items := make([]Item, 0, len(task)+len(user))
	items = append(items, task...)
	items = append(items, user...)
	return items
}

func (m *Merger) search(ctx context.Context, req SearchRequest, out *[]Item) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s scope: %v", ErrMergeFailed, req.Scope, r)
			}
		}()
		*out = m.gateway.Search(ctx, req)
		return nil
	}
}
