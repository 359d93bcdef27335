// Package api implements the submission API: gorilla/mux routes that
// accept a submission, enqueue it and write an initial cache entry, and
// expose status/results/cancel/health endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cxeteam/cxe/pkg/execution/cache"
	"github.com/cxeteam/cxe/pkg/execution/logging"
	"github.com/cxeteam/cxe/pkg/execution/queue"
	"github.com/cxeteam/cxe/pkg/execution/types"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// APIResponse is the {success, data, error} envelope error replies are
// wrapped in; successful replies carry their payload unwrapped.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ActiveWorkerCounter reports how many workers are currently mid-submission,
// for the health endpoint.
type ActiveWorkerCounter interface {
	ActiveWorkers() int
}

// LanguageValidator reports whether a language has a registered adapter, so
// submit can reject an unsupported one before it ever reaches the queue.
type LanguageValidator interface {
	Supports(name string) bool
}

// Server holds the dependencies the Submission API needs: the queue and
// cache every other component also shares, the worker pool only for its
// active-worker count, and the language registry only to validate intake.
type Server struct {
	queue     *queue.Queue
	cache     cache.StatusCache
	workers   ActiveWorkerCounter
	languages LanguageValidator
	cacheTTL  time.Duration
	log       *logging.Logger
}

// NewServer builds a Server.
func NewServer(q *queue.Queue, c cache.StatusCache, workers ActiveWorkerCounter, languages LanguageValidator, cacheTTL time.Duration, log *logging.Logger) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	return &Server{queue: q, cache: c, workers: workers, languages: languages, cacheTTL: cacheTTL, log: log.WithComponent("api")}
}

// Router builds the gorilla/mux router for this server, rooted at
// /execution.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	exec := r.PathPrefix("/execution").Subrouter()
	exec.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	exec.HandleFunc("/status/{id}", s.handleStatus).Methods(http.MethodGet)
	exec.HandleFunc("/results/{id}", s.handleResults).Methods(http.MethodGet)
	exec.HandleFunc("/cancel/{id}", s.handleCancel).Methods(http.MethodDelete)
	exec.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// submitRequest mirrors types.Submission's wire shape but keeps
// SubmissionID optional at the boundary.
type submitRequest struct {
	SubmissionID string                 `json:"submissionId,omitempty"`
	UserID       string                 `json:"userId"`
	QuestionID   string                 `json:"questionId"`
	Language     string                 `json:"language"`
	Code         string                 `json:"code"`
	Metadata     types.QuestionMetadata `json:"metadata"`
	TestCases    []types.TestCase       `json:"testCases"`
}

type submitResponse struct {
	SubmissionID        string `json:"submissionId"`
	Status              string `json:"status"`
	Message             string `json:"message"`
	QueuePosition       int    `json:"queuePosition"`
	EstimatedWaitTimeMs int64  `json:"estimatedWaitTimeMs"`
	StatusURL           string `json:"statusUrl"`
	ResultsURL          string `json:"resultsUrl"`
}

// handleSubmit validates, enqueues, and writes the initial cache record.
// It must return before execution begins.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" || req.QuestionID == "" || req.Language == "" || req.Code == "" {
		sendError(w, http.StatusBadRequest, "userId, questionId, language, and code are required")
		return
	}
	if !s.languages.Supports(req.Language) {
		sendError(w, http.StatusBadRequest, "unsupported language: "+req.Language)
		return
	}

	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	} else if _, err := s.cache.Get(r.Context(), req.SubmissionID); err == nil {
		// Submit is not idempotent: a repeat with the same id is rejected
		// rather than silently re-run.
		sendError(w, http.StatusConflict, "submissionId already exists")
		return
	}

	sub := &types.Submission{
		SubmissionID: req.SubmissionID,
		UserID:       req.UserID,
		QuestionID:   req.QuestionID,
		Language:     req.Language,
		Code:         req.Code,
		Metadata:     req.Metadata,
		TestCases:    req.TestCases,
		ClientIP:     r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	}

	queuedAt := time.Now()
	record := &types.StatusRecord{
		SubmissionID:    sub.SubmissionID,
		Status:          types.StatusQueued,
		TestCaseResults: []types.TestCaseResult{},
		QueuedAt:        queuedAt,
	}
	if err := s.cache.Put(r.Context(), sub.SubmissionID, record, s.cacheTTL); err != nil {
		sendError(w, http.StatusServiceUnavailable, "cache unavailable: "+err.Error())
		return
	}

	s.queue.Enqueue(sub)

	position := 0
	if p := s.queue.PositionOf(sub.SubmissionID); p != nil {
		position = *p
	}

	sendJSON(w, http.StatusAccepted, submitResponse{
		SubmissionID:        sub.SubmissionID,
		Status:              string(types.StatusQueued),
		Message:             "submission queued",
		QueuePosition:       position,
		EstimatedWaitTimeMs: s.queue.EstimatedWait().Milliseconds(),
		StatusURL:           "/execution/status/" + sub.SubmissionID,
		ResultsURL:          "/execution/results/" + sub.SubmissionID,
	})
}

// handleStatus returns the cached record, injecting a live queuePosition
// while the submission is still QUEUED: position is recomputed on read,
// never stored.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	record, err := s.cache.Get(r.Context(), id)
	if err != nil {
		sendError(w, http.StatusNotFound, "submission not found")
		return
	}
	if record.Status == types.StatusQueued {
		if p := s.queue.PositionOf(id); p != nil {
			record.QueuePosition = p
		}
	}
	sendJSON(w, http.StatusOK, record)
}

// handleResults is identical to handleStatus: it is the final-poll
// counterpart of the same cache read.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	s.handleStatus(w, r)
}

// handleCancel removes a QUEUED submission from the queue and CASes its
// cache record to CANCELLED; any other status is rejected.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.cache.Get(r.Context(), id)
	if err != nil {
		sendError(w, http.StatusNotFound, "submission not found")
		return
	}
	if record.Status != types.StatusQueued {
		sendError(w, http.StatusBadRequest, "submission is no longer cancellable")
		return
	}

	cancelled := &types.StatusRecord{
		SubmissionID:    id,
		Status:          types.StatusCancelled,
		TestCaseResults: []types.TestCaseResult{},
		QueuedAt:        record.QueuedAt,
	}
	ok, err := s.cache.CompareAndSet(r.Context(), id, types.StatusQueued, cancelled, s.cacheTTL)
	if err != nil {
		sendError(w, http.StatusServiceUnavailable, "cache unavailable: "+err.Error())
		return
	}
	if !ok {
		sendError(w, http.StatusBadRequest, "submission is no longer cancellable")
		return
	}

	// Best-effort: the queue removal can race a worker's dequeue, but the
	// CAS above is the actual source of truth for cancellation safety.
	s.queue.Cancel(id)

	sendJSON(w, http.StatusOK, cancelled)
}

type healthResponse struct {
	Status             string `json:"status"`
	QueueSize          int    `json:"queueSize"`
	ActiveWorkers      int    `json:"activeWorkers"`
	AvgExecutionTimeMs int64  `json:"avgExecutionTimeMs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, healthResponse{
		Status:             "UP",
		QueueSize:          s.queue.Size(),
		ActiveWorkers:      s.workers.ActiveWorkers(),
		AvgExecutionTimeMs: s.queue.AverageExecutionDuration().Milliseconds(),
	})
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message})
}
