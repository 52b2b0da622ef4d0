package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MikoAlt/scrapqt/internal/credentials"
	"github.com/MikoAlt/scrapqt/internal/metrics"
	"github.com/MikoAlt/scrapqt/internal/sentiment"
)

// AnalysisService drives sentiment jobs. The app layer implements it by
// resolving the credential reference, building a scorer, and delegating to
// the runner.
type AnalysisService interface {
	Start(ctx context.Context, credentialRef string, batchSize int) (string, error)
	Progress(jobID string) (sentiment.Snapshot, error)
	Cancel(jobID string) error
}

// CredentialStore registers and unlocks provider credentials. Raw keys are
// held in the service process only; the wire requests carrying them are the
// session hand-off.
type CredentialStore interface {
	Add(name, rawKey string) (credentials.Record, error)
	Unlock(ref, rawKey string) error
	List() []credentials.Record
}

// SentimentServer exposes analysis job control over HTTP.
type SentimentServer struct {
	router  chi.Router
	service AnalysisService
	creds   CredentialStore
	logger  *zap.Logger
}

// NewSentimentServer constructs a SentimentServer with middleware and routes.
func NewSentimentServer(service AnalysisService, creds CredentialStore, logger *zap.Logger) *SentimentServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SentimentServer{
		service: service,
		creds:   creds,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/analysis", func(r chi.Router) {
			r.Post("/", s.startAnalysis)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", s.getAnalysis)
				r.Delete("/", s.cancelAnalysis)
			})
		})
		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", s.listCredentials)
			r.Post("/", s.addCredential)
			r.Post("/{ref}/unlock", s.unlockCredential)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *SentimentServer) Handler() http.Handler {
	return s.router
}

func (s *SentimentServer) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startAnalysisRequest struct {
	CredentialRef string `json:"credential_ref"`
	BatchSize     int    `json:"batch_size"`
}

func (s *SentimentServer) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req startAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CredentialRef == "" {
		writeError(w, http.StatusBadRequest, "credential_ref is required")
		return
	}
	jobID, err := s.service.Start(r.Context(), req.CredentialRef, req.BatchSize)
	if err != nil {
		var credErr *credentials.CredentialError
		switch {
		case errors.Is(err, sentiment.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &credErr), errors.Is(err, sentiment.ErrInvalidCredential):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Error("start analysis failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type analysisStatusResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Processed     int64  `json:"processed"`
	Scored        int64  `json:"scored"`
	Errored       int64  `json:"errored"`
	Skipped       int64  `json:"skipped"`
	TotalEstimate int64  `json:"total_estimate"`
	LastError     string `json:"last_error,omitempty"`
}

func (s *SentimentServer) getAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snap, err := s.service.Progress(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, analysisStatusResponse{
		JobID:         snap.JobID,
		Status:        string(snap.Status),
		Processed:     snap.Processed,
		Scored:        snap.Scored,
		Errored:       snap.Errored,
		Skipped:       snap.Skipped,
		TotalEstimate: snap.Total,
		LastError:     snap.LastError,
	})
}

type addCredentialRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

func (s *SentimentServer) addCredential(w http.ResponseWriter, r *http.Request) {
	var req addCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rec, err := s.creds.Add(req.Name, req.Key)
	if err != nil {
		var credErr *credentials.CredentialError
		if errors.As(err, &credErr) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type unlockCredentialRequest struct {
	Key string `json:"key"`
}

func (s *SentimentServer) unlockCredential(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	var req unlockCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.creds.Unlock(ref, req.Key); err != nil {
		var credErr *credentials.CredentialError
		if errors.As(err, &credErr) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (s *SentimentServer) listCredentials(w http.ResponseWriter, _ *http.Request) {
	recs := s.creds.List()
	if recs == nil {
		recs = []credentials.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": recs})
}

func (s *SentimentServer) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.service.Cancel(jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "cancelling"})
}
