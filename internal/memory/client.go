package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/augmentd/internal/config"
	"github.com/fyrsmithlabs/augmentd/internal/logging"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 1500 * time.Millisecond
	defaultSearchLimit = 10
	maxResponseBytes   = 4 << 20
)

// HTTPGateway is the live Gateway.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewHTTPGateway builds a gateway against cfg.BaseURL. It does not check
// cfg.Active; use NewGateway for that. A nil client uses a fresh
// http.Client; deadlines come from the per-call context either way.
func NewHTTPGateway(cfg config.MemoryConfig, client *http.Client, logger *logging.Logger) *HTTPGateway {
	if logger == nil {
		logger = logging.Nop()
	}
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	g := &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey.Value(),
		timeout: timeout,
		client:  client,
		logger:  logger.Named("memory"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return g
}

func (g *HTTPGateway) Enabled() bool { return true }

type addBody struct {
	Text     string         `json:"text"`
	Scope    string         `json:"scope"`
	Tags     []string       `json:"tags"`
	Metadata map[string]any `json:"metadata"`
	TaskID   string         `json:"taskId,omitempty"`
	UserID   string         `json:"userId,omitempty"`
}

// Add stores a memory. The backend may answer {id} or {data:{id}}.
func (g *HTTPGateway) Add(ctx context.Context, in AddInput) AddResult {
	body := addBody{
		Text:     in.Text,
		Scope:    in.Scope,
		Tags:     in.Tags,
		Metadata: in.Metadata,
		TaskID:   in.TaskID,
		UserID:   in.UserID,
	}
	if body.Scope == "" {
		body.Scope = ScopeTask
	}
	if body.Tags == nil {
		body.Tags = []string{}
	}
	if body.Metadata == nil {
		body.Metadata = map[string]any{}
	}

	res, err := g.do(ctx, "add", http.MethodPost, "/memories", nil, body)
	if err != nil {
		g.logger.Warn(ctx, "add memory failed", zap.String("scope", body.Scope), zap.Error(err))
		return AddResult{}
	}
	return AddResult{ID: firstString(res, "id", "data.id"), OK: true}
}

type searchFilters struct {
	Scope  string `json:"scope"`
	TaskID string `json:"taskId,omitempty"`
	UserID string `json:"userId,omitempty"`
}

type searchBody struct {
	Query   string        `json:"query"`
	Limit   int           `json:"limit"`
	Filters searchFilters `json:"filters"`
}

// Search tries the structured search endpoint, then the list endpoint with
// query parameters. If both fail the result is empty.
func (g *HTTPGateway) Search(ctx context.Context, req SearchRequest) []Item {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	res, err := g.do(ctx, "search", http.MethodPost, "/memories/search", nil, searchBody{
		Query: req.Query,
		Limit: limit,
		Filters: searchFilters{
			Scope:  req.Scope,
			TaskID: req.TaskID,
			UserID: req.UserID,
		},
	})
	if err == nil {
		return normalize(res, req.Scope)
	}
	g.logger.Debug(ctx, "memory search failed, trying list fallback",
		zap.String("scope", req.Scope), zap.Error(err))

	q := url.Values{}
	q.Set("q", req.Query)
	q.Set("scope", req.Scope)
	q.Set("limit", strconv.Itoa(limit))
	if req.TaskID != "" {
		q.Set("taskId", req.TaskID)
	}
	if req.UserID != "" {
		q.Set("userId", req.UserID)
	}

	res, err = g.do(ctx, "list", http.MethodGet, "/memories", q, nil)
	if err != nil {
		SearchFallbacks.WithLabelValues("error").Inc()
		g.logger.Debug(ctx, "memory list fallback failed",
			zap.String("scope", req.Scope), zap.Error(err))
		return []Item{}
	}
	SearchFallbacks.WithLabelValues("success").Inc()
	return normalize(res, req.Scope)
}

// Promote asks the backend to raise a memory's scope.
func (g *HTTPGateway) Promote(ctx context.Context, id string) bool {
	return g.byID(ctx, "promote", http.MethodPost, id, "/promote")
}

func (g *HTTPGateway) Delete(ctx context.Context, id string) bool {
	return g.byID(ctx, "delete", http.MethodDelete, id, "")
}

func (g *HTTPGateway) byID(ctx context.Context, op, method, id, suffix string) bool {
	if id == "" {
		g.logger.Warn(ctx, "memory "+op+" without id")
		return false
	}
	if _, err := g.do(ctx, op, method, "/memories/"+url.PathEscape(id)+suffix, nil, nil); err != nil {
		g.logger.Warn(ctx, "memory "+op+" failed", zap.String("memory_id", id), zap.Error(err))
		return false
	}
	return true
}

// do performs one backend call under the gateway timeout. Waiting for the
// rate limiter counts against the same deadline.
//
// JSON responses are parsed; any other content type comes back as a gjson
// string result, which normalizes to no items.
func (g *HTTPGateway) do(ctx context.Context, op, method, path string, query url.Values, body any) (res gjson.Result, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return gjson.Result{}, &RequestError{Op: op, Err: fmt.Errorf("rate limit: %w", err)}
		}
	}

	target := g.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil && method != http.MethodGet {
		payload, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, &RequestError{Op: op, Err: fmt.Errorf("marshaling request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return gjson.Result{}, &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return gjson.Result{}, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, &RequestError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return gjson.Result{}, &RequestError{Op: op, Status: resp.StatusCode, Body: excerpt(raw)}
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		return gjson.Result{Type: gjson.String, Str: string(raw)}, nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &RequestError{Op: op, Status: resp.StatusCode, Body: excerpt(raw), Err: errInvalidJSON}
	}
	return gjson.ParseBytes(raw), nil
}
