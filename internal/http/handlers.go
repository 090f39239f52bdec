package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/fyrsmithlabs/augmentd/internal/chunker"
	"github.com/fyrsmithlabs/augmentd/internal/embeddings"
	"github.com/fyrsmithlabs/augmentd/internal/memory"
	"github.com/fyrsmithlabs/augmentd/internal/rag"
	"github.com/fyrsmithlabs/augmentd/internal/vectorstore"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// OKResponse is the response body for memory mutations.
type OKResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id,omitempty"`
}

// handleMemoryList merges task and user memories for a query. A topK
// parameter overrides both scope limits; scope filters the merged list.
func (s *Server) handleMemoryList(c echo.Context) error {
	ctx := c.Request().Context()
	if !s.svc.Memory.Enabled() {
		setOutcome(c, OutcomeMemoryDisabled)
		return c.JSON(http.StatusOK, []memory.Item{})
	}

	req := memory.RetrieveRequest{
		Query:    c.QueryParam("q"),
		TaskID:   c.QueryParam("taskId"),
		UserID:   c.QueryParam("userId"),
		TopKTask: s.config.TopKTask,
		TopKUser: s.config.TopKUser,
	}
	if raw := c.QueryParam("topK"); raw != "" {
		topK, err := strconv.Atoi(raw)
		if err != nil || topK < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "topK must be a non-negative integer")
		}
		req.TopKTask, req.TopKUser = topK, topK
	}

	items := s.svc.Merger.Retrieve(ctx, req)
	if scope := c.QueryParam("scope"); scope != "" {
		filtered := make([]memory.Item, 0, len(items))
		for _, it := range items {
			if it.Scope == scope {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	if len(items) == 0 {
		setOutcome(c, OutcomeEmpty)
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleMemoryAdd(c echo.Context) error {
	var in memory.AddInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if in.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}
	res := s.svc.Memory.Add(c.Request().Context(), in)
	s.memoryOutcome(c, res.OK)
	return c.JSON(http.StatusOK, OKResponse{OK: res.OK, ID: res.ID})
}

func (s *Server) handleMemoryPromote(c echo.Context) error {
	ok := s.svc.Memory.Promote(c.Request().Context(), c.Param("id"))
	s.memoryOutcome(c, ok)
	return c.JSON(http.StatusOK, OKResponse{OK: ok})
}

func (s *Server) handleMemoryDelete(c echo.Context) error {
	ok := s.svc.Memory.Delete(c.Request().Context(), c.Param("id"))
	s.memoryOutcome(c, ok)
	return c.JSON(http.StatusOK, OKResponse{OK: ok})
}

// memoryOutcome separates a disabled gateway from a backend that
// answered ok=false; both respond 200.
func (s *Server) memoryOutcome(c echo.Context, ok bool) {
	switch {
	case !s.svc.Memory.Enabled():
		setOutcome(c, OutcomeMemoryDisabled)
	case !ok:
		setOutcome(c, OutcomeRefused)
	}
}

// SkippedResponse is returned by POST /api/v1/rag/index when RAG is off.
type SkippedResponse struct {
	Skipped bool `json:"skipped"`
}

// IndexErrorResponse reports a failed index. DocumentID and Chunks are set
// when the document was partially stored.
type IndexErrorResponse struct {
	Error      string `json:"error"`
	DocumentID string `json:"documentId,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
}

func (s *Server) handleRAGIndex(c echo.Context) error {
	ctx := c.Request().Context()
	if !s.svc.RAG.Enabled() {
		setOutcome(c, OutcomeSkipped)
		return c.JSON(http.StatusAccepted, SkippedResponse{Skipped: true})
	}

	var req rag.IndexRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text field is required")
	}

	result, err := s.svc.RAG.IndexText(ctx, req)
	if err != nil {
		status := ragStatus(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error(ctx, "index failed", zap.Error(err))
		}
		if status == http.StatusBadGateway {
			setOutcome(c, OutcomeEmbeddingFailed)
		}
		resp := IndexErrorResponse{Error: err.Error()}
		if result != nil {
			setOutcome(c, OutcomePartial)
			resp.DocumentID = result.DocumentID
			resp.Chunks = result.ChunkCount
		}
		return c.JSON(status, resp)
	}
	return c.JSON(http.StatusCreated, result)
}

// SearchRequest is the request body for POST /api/v1/rag/search.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"topK,omitempty"`
}

func (s *Server) handleRAGSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	items := s.svc.RAG.Retrieve(c.Request().Context(), req.Query, req.TopK)
	if len(items) == 0 {
		setOutcome(c, OutcomeEmpty)
	}
	return c.JSON(http.StatusOK, items)
}

func (s *Server) handleRAGDocument(c echo.Context) error {
	doc, err := s.svc.RAG.Document(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(ragStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleRAGDelete(c echo.Context) error {
	if err := s.svc.RAG.DeleteDocument(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(ragStatus(err), err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ragStatus maps pipeline errors to HTTP status codes.
func ragStatus(err error) int {
	switch {
	case errors.Is(err, rag.ErrEmptyText),
		errors.Is(err, chunker.ErrInvalidSize),
		errors.Is(err, chunker.ErrInvalidOverlap):
		return http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rag.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, embeddings.ErrProviderError),
		errors.Is(err, embeddings.ErrEmbeddingUnavailable),
		errors.Is(err, embeddings.ErrDimensionMismatch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
