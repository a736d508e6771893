package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/repomem/internal/api"
	"github.com/cloo-solutions/repomem/internal/domain"
)

const defaultSuggestionLimit = 5

type Searcher interface {
	Search(ctx context.Context, query string, filters domain.SearchFilters, opts domain.SearchOptions) (*domain.SearchResponse, error)
	Suggest(ctx context.Context, prefix string, limit int) ([]string, error)
}

type SearchHandler struct {
	search Searcher
}

func NewSearchHandler(search Searcher) *SearchHandler {
	return &SearchHandler{search: search}
}

type SearchRequest struct {
	Query   string               `json:"query"`
	Filters domain.SearchFilters `json:"filters"`
	Options domain.SearchOptions `json:"options"`
}

type SuggestionsResponse struct {
	Suggestions []string `json:"suggestions"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.search.Search(r.Context(), req.Query, req.Filters, req.Options)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if resp.Results == nil {
		resp.Results = []domain.HybridSearchResult{}
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *SearchHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSuggestionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	suggestions, err := h.search.Suggest(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if suggestions == nil {
		suggestions = []string{}
	}
	api.Success(w, http.StatusOK, SuggestionsResponse{Suggestions: suggestions})
}
