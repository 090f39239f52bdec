package memory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backend is a fake memory service that records every request.
type backend struct {
	*httptest.Server
	calls atomic.Int32

	mu       sync.Mutex
	requests []recorded
}

type recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

func newBackend(t *testing.T, handler http.HandlerFunc) *backend {
	t.Helper()
	b := &backend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)
		rec := recorded{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
		}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		b.mu.Lock()
		b.requests = append(b.requests, rec)
		b.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *backend) request(t *testing.T, i int) recorded {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.Greater(t, len(b.requests), i)
	return b.requests[i]
}

func (b *backend) config() config.MemoryConfig {
	return config.MemoryConfig{
		Enabled: true,
		APIKey:  config.Secret("secret"),
		BaseURL: b.URL + "/",
		Timeout: config.Duration(time.Second),
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewGateway_DisabledPerformsNoIO(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":"x"}`)
	})

	noKey := b.config()
	noKey.APIKey = ""
	notEnabled := b.config()
	notEnabled.Enabled = false

	for name, cfg := range map[string]config.MemoryConfig{"no key": noKey, "not enabled": notEnabled} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			g := NewGateway(cfg, nil)
			assert.False(t, g.Enabled())

			assert.Equal(t, AddResult{OK: true}, g.Add(ctx, AddInput{Text: "remember", Scope: ScopeUser}))
			items := g.Search(ctx, SearchRequest{Query: "q", Scope: ScopeTask})
			assert.NotNil(t, items)
			assert.Empty(t, items)
			assert.True(t, g.Promote(ctx, "m1"))
			assert.True(t, g.Delete(ctx, "m1"))
			assert.Empty(t, NewMerger(g, nil).Retrieve(ctx, NewRetrieveRequest("q")))
		})
	}
	assert.Equal(t, int32(0), b.calls.Load())
}

func TestNewGateway_Enabled(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {})
	g := NewGateway(b.config(), nil)
	assert.True(t, g.Enabled())
	assert.IsType(t, &HTTPGateway{}, g)
}

func TestHTTPGateway_Add(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantID      string
	}{
		{"bare id", "application/json", `{"id":"m1"}`, "m1"},
		{"nested id", "application/json", `{"data":{"id":"m2"}}`, "m2"},
		{"bare id wins", "application/json", `{"id":"m3","data":{"id":"other"}}`, "m3"},
		{"numeric id", "application/json", `{"id":42}`, "42"},
		{"no id", "application/json", `{"status":"queued"}`, ""},
		{"plain text", "text/plain", `created`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				_, _ = io.WriteString(w, tt.body)
			})
			g := NewHTTPGateway(b.config(), nil, nil)

			got := g.Add(context.Background(), AddInput{Text: "likes tea", Scope: ScopeUser, UserID: "u1"})
			assert.Equal(t, AddResult{ID: tt.wantID, OK: true}, got)
		})
	}
}

func TestHTTPGateway_AddRequestShape(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, `{"id":"m1"}`)
	})
	g := NewHTTPGateway(b.config(), nil, nil)

	got := g.Add(context.Background(), AddInput{Text: "uses vim"})
	require.True(t, got.OK)

	req := b.request(t, 0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/memories", req.Path)
	assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "uses vim", req.Body["text"])
	assert.Equal(t, ScopeTask, req.Body["scope"])
	assert.Equal(t, []any{}, req.Body["tags"])
	assert.Equal(t, map[string]any{}, req.Body["metadata"])
	assert.NotContains(t, req.Body, "taskId")
	assert.NotContains(t, req.Body, "userId")
}

func TestHTTPGateway_AddFailure(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"error":"boom"}`)
	})
	g := NewHTTPGateway(b.config(), nil, nil)

	assert.Equal(t, AddResult{}, g.Add(context.Background(), AddInput{Text: "x"}))
	assert.Equal(t, int32(1), b.calls.Load(), "add is single-attempt")
}

func TestHTTPGateway_SearchStructured(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":[{"_id":"a","content":"x","score":0.7},{"id":"b"}]}`)
	})
	g := NewHTTPGateway(b.config(), nil, nil)

	items := g.Search(context.Background(), SearchRequest{Query: "tea", Scope: ScopeTask, TaskID: "t1", Limit: 5})
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "x", items[0].Snippet)
	assert.Equal(t, ScopeTask, items[0].Scope)
	require.NotNil(t, items[0].Score)
	assert.InDelta(t, 0.7, *items[0].Score, 1e-9)

	assert.Equal(t, int32(1), b.calls.Load())
	req := b.request(t, 0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/memories/search", req.Path)
	assert.Equal(t, "tea", req.Body["query"])
	assert.Equal(t, float64(5), req.Body["limit"])
	assert.Equal(t, map[string]any{"scope": "task", "taskId": "t1"}, req.Body["filters"])
}

func TestHTTPGateway_SearchFallsBackToList(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			writeJSON(w, http.StatusNotFound, `{"error":"no search endpoint"}`)
			return
		}
		writeJSON(w, http.StatusOK, `[{"uuid":"c","text":"y","updated_at":"2024-01-02T03:04:05Z"}]`)
	})
	g := NewHTTPGateway(b.config(), nil, nil)

	items := g.Search(context.Background(), SearchRequest{Query: "green tea", Scope: ScopeUser, UserID: "u1", Limit: 3})
	require.Len(t, items, 1)
	assert.Equal(t, Item{ID: "c", Scope: ScopeUser, Snippet: "y", UpdatedAt: "2024-01-02T03:04:05Z"}, items[0])

	assert.Equal(t, int32(2), b.calls.Load())
	req := b.request(t, 1)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/memories", req.Path)
	assert.Empty(t, req.Body)
	assert.Contains(t, req.Query, "q=green+tea")
	assert.Contains(t, req.Query, "scope=user")
	assert.Contains(t, req.Query, "limit=3")
	assert.Contains(t, req.Query, "userId=u1")
	assert.NotContains(t, req.Query, "taskId")
}

func TestHTTPGateway_SearchFallbackFailureIsEmpty(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{}`)
	})
	g := NewHTTPGateway(b.config(), nil, nil)

	items := g.Search(context.Background(), SearchRequest{Query: "q", Scope: ScopeTask})
	assert.NotNil(t, items)
	assert.Empty(t, items)
	assert.Equal(t, int32(2), b.calls.Load(), "one structured attempt and one fallback")
}

func TestHTTPGateway_SearchPlainTextIsEmpty(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, `[{"id":"a","text":"x"}]`)
	})
	g := NewHTTPGateway(b.config(), nil, nil)

	assert.Empty(t, g.Search(context.Background(), SearchRequest{Query: "q", Scope: ScopeTask}))
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestHTTPGateway_PromoteAndDelete(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	g := NewHTTPGateway(b.config(), nil, nil)
	ctx := context.Background()

	assert.True(t, g.Promote(ctx, "a/b"))
	assert.True(t, g.Delete(ctx, "m1"))

	promote := b.request(t, 0)
	assert.Equal(t, http.MethodPost, promote.Method)
	assert.Equal(t, "/memories/a%2Fb/promote", promote.Path)

	del := b.request(t, 1)
	assert.Equal(t, http.MethodDelete, del.Method)
	assert.Equal(t, "/memories/m1", del.Path)
}

func TestHTTPGateway_PromoteAndDeleteFailure(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":"not found"}`)
	})
	g := NewHTTPGateway(b.config(), nil, nil)
	ctx := context.Background()

	assert.False(t, g.Promote(ctx, "m1"))
	assert.False(t, g.Delete(ctx, "m1"))
	assert.False(t, g.Delete(ctx, ""))
	assert.Equal(t, int32(2), b.calls.Load(), "empty id is rejected without a call")
}

func TestHTTPGateway_Timeout(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	cfg := b.config()
	cfg.Timeout = config.Duration(50 * time.Millisecond)
	g := NewHTTPGateway(cfg, nil, nil)

	start := time.Now()
	assert.False(t, g.Promote(context.Background(), "m1"))
	assert.Empty(t, g.Search(context.Background(), SearchRequest{Query: "q", Scope: ScopeTask}))
	assert.Less(t, time.Since(start), 2*time.Second)

	_, err := g.do(context.Background(), "list", http.MethodGet, "/memories", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPGateway_RequestError(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, strings.Repeat("x", 500))
	})
	g := NewHTTPGateway(b.config(), nil, nil)

	_, err := g.do(context.Background(), "add", http.MethodPost, "/memories", nil, map[string]string{})
	var reqErr *RequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "add", reqErr.Op)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.Status)
	assert.Len(t, reqErr.Body, maxErrorBody)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestHTTPGateway_InvalidJSON(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"id":`)
	})
	g := NewHTTPGateway(b.config(), nil, nil)

	assert.Equal(t, AddResult{}, g.Add(context.Background(), AddInput{Text: "x"}))
}

func TestHTTPGateway_RateLimitCountsAgainstDeadline(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	cfg := b.config()
	cfg.Timeout = config.Duration(50 * time.Millisecond)
	cfg.RateLimit = 0.01
	cfg.RateBurst = 1
	g := NewHTTPGateway(cfg, nil, nil)
	ctx := context.Background()

	assert.True(t, g.Promote(ctx, "m1"))
	assert.False(t, g.Promote(ctx, "m2"), "next token is beyond the call deadline")
	assert.Equal(t, int32(1), b.calls.Load())
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt([]byte("short")))
	assert.Len(t, excerpt([]byte(strings.Repeat("a", 300))), maxErrorBody)

	// A two-byte rune straddling the limit is dropped rather than split.
	body := strings.Repeat("a", maxErrorBody-1) + "é"
	assert.Equal(t, strings.Repeat("a", maxErrorBody-1), excerpt([]byte(body)))
}
