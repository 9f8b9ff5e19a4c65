package session

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/masterypath/backend/internal/bank"
	"github.com/masterypath/backend/internal/models"
)

type Handler struct {
	service *Service
	bank    *bank.Bank
}

func NewHandler(service *Service, b *bank.Bank) *Handler {
	return &Handler{service: service, bank: b}
}

// getUserID extracts the authenticated user ID from the request context.
func getUserID(r *http.Request) (int64, bool) {
	uid, ok := r.Context().Value("user_id").(int64)
	return uid, ok
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}

	var req models.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.service.StartSession(r.Context(), userID, req.ObjectiveIDs)
	if err != nil {
		writeServiceError(w, err, "Failed to start session")
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}
	sessionID := mux.Vars(r)["id"]

	var req models.SubmitResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.service.SubmitResponse(r.Context(), userID, sessionID, req)
	if err != nil {
		writeServiceError(w, err, "Failed to submit response")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}
	sessionID := mux.Vars(r)["id"]

	var req models.SubmitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.service.SubmitAnswer(r.Context(), userID, sessionID, req)
	if err != nil {
		writeServiceError(w, err, "Failed to submit answer")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetSessionSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}
	sessionID := mux.Vars(r)["id"]

	summary, err := h.service.GetSessionSummary(r.Context(), userID, sessionID)
	if err != nil {
		writeServiceError(w, err, "Failed to load session summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) GetMastery(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Unauthorized"})
		return
	}
	objectiveID := mux.Vars(r)["objectiveId"]
	if objectiveID == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "objectiveId is required"})
		return
	}

	snap, err := h.service.MasterySnapshot(r.Context(), userID, objectiveID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to evaluate mastery"})
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) ListFlaggedQuestions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := intQueryParam(query, "limit", 20)
	offset := intQueryParam(query, "offset", 0)

	questions, total, err := h.bank.Flagged(r.Context(), limit, offset)
	if err != nil {
		log.Printf("WARN: [session] list flagged questions: %v", err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list flagged questions"})
		return
	}

	if questions == nil {
		questions = []models.Question{}
	}
	writeJSON(w, http.StatusOK, models.QuestionListResponse{
		Questions: questions,
		Total:     total,
		Page:      offset/max(limit, 1) + 1,
		PageSize:  limit,
	})
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
	case errors.Is(err, ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Session not found"})
	case errors.Is(err, ErrSessionClosed):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "Session no longer accepts responses"})
	case errors.Is(err, ErrDuplicateSubmission):
		writeJSON(w, http.StatusConflict, models.ErrorResponse{Error: "Duplicate submission"})
	case errors.Is(err, bank.ErrGenerationUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "No question available: generation unavailable"})
	default:
		log.Printf("WARN: [session] %s: %v", fallback, err)
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: fallback})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
