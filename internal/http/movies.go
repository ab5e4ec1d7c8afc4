package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/movietn/internal/config"
	"github.com/Clark-Hu/movietn/internal/domain"
)

// maxMovieIDs caps the ids accepted by GET /movies.
const maxMovieIDs = 100

type movieSummaryResponse struct {
	ID            string      `json:"id"`
	AverageRating json.Number `json:"averageRating"`
	VoteCount     int64       `json:"voteCount"`
}

type movieListResponse struct {
	Items []movieSummaryResponse `json:"items"`
}

func (s *Server) handleGetMovies(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDs(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	movies, err := s.svc.GetMovies(r.Context(), ids)
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.respondJSON(w, http.StatusOK, toMovieListResponse(movies))
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	movie, err := s.svc.GetMovie(r.Context(), chi.URLParam(r, "movieID"))
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.respondJSON(w, http.StatusOK, toMovieSummaryResponse(movie))
}

func (s *Server) handleListMovieReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.svc.ListMovieReviews(r.Context(), chi.URLParam(r, "movieID"))
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	resp := reviewListResponse{Items: make([]reviewResponse, 0, len(reviews))}
	for _, rv := range reviews {
		resp.Items = append(resp.Items, toReviewResponse(rv))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount(r.URL.Query(), s.cfg.RecommendDefaultAmount)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	movies, err := s.svc.Recommend(r.Context(), chi.URLParam(r, "movieID"), userFrom(r), amount)
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.respondJSON(w, http.StatusOK, toMovieListResponse(movies))
}

// parseIDs reads a comma separated ids parameter. The parameter may also be
// repeated.
func parseIDs(query url.Values) ([]string, error) {
	var ids []string
	for _, raw := range query["ids"] {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("ids must list at least one movie id")
	}
	if len(ids) > maxMovieIDs {
		return nil, fmt.Errorf("ids accepts at most %d movie ids", maxMovieIDs)
	}
	return ids, nil
}

// parseAmount reads the recommendation amount, falling back to def.
func parseAmount(query url.Values, def int) (int, error) {
	raw := query.Get("amount")
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	n, err := atoiStrict(raw)
	if err != nil {
		return 0, fmt.Errorf("amount: %w", err)
	}
	if n < config.MinRecommendAmount || n > config.MaxRecommendAmount {
		return 0, fmt.Errorf("amount must be between %d and %d", config.MinRecommendAmount, config.MaxRecommendAmount)
	}
	return n, nil
}

func toMovieSummaryResponse(m domain.MovieSummary) movieSummaryResponse {
	return movieSummaryResponse{
		ID:            m.ID,
		AverageRating: fixed(m.AverageRating, domain.AveragePlaces),
		VoteCount:     m.VoteCount,
	}
}

func toMovieListResponse(movies []domain.MovieSummary) movieListResponse {
	resp := movieListResponse{Items: make([]movieSummaryResponse, 0, len(movies))}
	for _, m := range movies {
		resp.Items = append(resp.Items, toMovieSummaryResponse(m))
	}
	return resp
}
