package httpserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/movietn/internal/domain"
	"github.com/Clark-Hu/movietn/internal/review"
)

type reviewCreateRequest struct {
	MovieID     string       `json:"movieId" validate:"required,max=64"`
	Rating      *json.Number `json:"rating" validate:"required"`
	Description string       `json:"description" validate:"required,max=5000"`
}

type reviewUpdateRequest struct {
	Rating      *json.Number `json:"rating" validate:"required"`
	Description *string      `json:"description" validate:"omitempty,max=5000"`
}

type reviewResponse struct {
	ID          string      `json:"id"`
	MovieID     string      `json:"movieId"`
	UserID      string      `json:"userId"`
	Rating      json.Number `json:"rating"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

type reviewResultResponse struct {
	Review reviewResponse       `json:"review"`
	Movie  movieSummaryResponse `json:"movie"`
}

type reviewListResponse struct {
	Items []reviewResponse `json:"items"`
}

func (s *Server) handleRecordReview(w http.ResponseWriter, r *http.Request) {
	var req reviewCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}
	rating, err := domain.ParseRating(req.Rating.String())
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusUnprocessableEntity)
		return
	}

	res, err := s.svc.RecordReview(r.Context(), review.RecordReviewParams{
		MovieID:     strings.TrimSpace(req.MovieID),
		UserID:      userFrom(r),
		Rating:      rating,
		Description: req.Description,
	})
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Location", "/reviews/"+url.PathEscape(res.Review.ID))
	s.respondJSON(w, http.StatusCreated, toReviewResultResponse(res))
}

func (s *Server) handleGetReview(w http.ResponseWriter, r *http.Request) {
	rv, err := s.svc.GetReview(r.Context(), chi.URLParam(r, "reviewID"))
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResponse(rv))
}

func (s *Server) handleEditReview(w http.ResponseWriter, r *http.Request) {
	var req reviewUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondValidationError(w, err)
		return
	}
	rating, err := domain.ParseRating(req.Rating.String())
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusUnprocessableEntity)
		return
	}

	res, err := s.svc.EditReview(r.Context(), review.EditReviewParams{
		ReviewID:    chi.URLParam(r, "reviewID"),
		UserID:      userFrom(r),
		Rating:      rating,
		Description: req.Description,
	})
	if err != nil {
		s.respondServiceError(w, r, err, http.StatusUnprocessableEntity)
		return
	}
	s.respondJSON(w, http.StatusOK, toReviewResultResponse(res))
}

func (s *Server) handleRemoveReview(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveReview(r.Context(), chi.URLParam(r, "reviewID"), userFrom(r)); err != nil {
		s.respondServiceError(w, r, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toReviewResponse(rv domain.Review) reviewResponse {
	return reviewResponse{
		ID:          rv.ID,
		MovieID:     rv.MovieID,
		UserID:      rv.UserID,
		Rating:      fixed(rv.Rating, domain.RatingPlaces),
		Description: rv.Description,
		CreatedAt:   rv.CreatedAt,
		UpdatedAt:   rv.UpdatedAt,
	}
}

func toReviewResultResponse(res domain.ReviewResult) reviewResultResponse {
	return reviewResultResponse{
		Review: toReviewResponse(res.Review),
		Movie:  toMovieSummaryResponse(res.Movie),
	}
}
