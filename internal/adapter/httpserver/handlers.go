// Package httpserver contains HTTP handlers and middleware.
//
// It exposes the submission and polling surface of the ingestion
// pipeline: multipart or pre-uploaded-object submission, and job
// status reads. The package follows clean architecture principles and
// keeps HTTP concerns separate from orchestration logic.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/resumecore/ingestion-core/internal/config"
	"github.com/resumecore/ingestion-core/internal/domain"
	"github.com/resumecore/ingestion-core/internal/usecase/orchestrator"
	"github.com/resumecore/ingestion-core/pkg/fileval"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg          config.Config
	Orchestrator *orchestrator.Service
	Blobs        domain.BlobStore
	DBCheck      func(ctx domain.Context) error
	QdrantCheck  func(ctx domain.Context) error
	TikaCheck    func(ctx domain.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, orch *orchestrator.Service, blobs domain.BlobStore, dbCheck, qdrantCheck, tikaCheck func(domain.Context) error) *Server {
	return &Server{Cfg: cfg, Orchestrator: orch, Blobs: blobs, DBCheck: dbCheck, QdrantCheck: qdrantCheck, TikaCheck: tikaCheck}
}

type submitJSONRequest struct {
	StoragePath string `json:"storage_path"`
	FileName    string `json:"file_name"`
	Size        int64  `json:"size"`
}

type submitResponse struct {
	JobID       string `json:"job_id"`
	CandidateID string `json:"candidate_id"`
}

// SubmitHandler handles POST /upload/submit: either a multipart{file} body
// validated and staged through the object store's presigned-put, or a JSON
// body referencing an object the caller already uploaded out of band.
func (s *Server) SubmitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := TenantIDFromContext(r.Context())
		if tenantID == "" {
			writeError(w, r, fmt.Errorf("%w: missing tenant context", domain.ErrUnauthorized), nil)
			return
		}
		ctx := r.Context()

		var (
			fileName string
			fileSize int64
			filePath string
		)

		contentType := r.Header.Get("Content-Type")
		switch {
		case strings.Contains(contentType, "multipart/form-data"):
			maxBytes := s.Cfg.MaxFileSize
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes*2)
			if err := r.ParseMultipartForm(maxBytes * 2); err != nil {
				writeError(w, r, fmt.Errorf("%w: %v", domain.ErrFileValidation, err), nil)
				return
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: file field required", domain.ErrFileValidation), map[string]string{"field": "file"})
				return
			}
			defer func() { _ = file.Close() }()

			data, err := io.ReadAll(file)
			if err != nil {
				writeError(w, r, fmt.Errorf("%w: read failed: %v", domain.ErrFileValidation, err), nil)
				return
			}
			if err := fileval.Validate(header.Filename, data, s.Cfg.MaxFileSize); err != nil {
				writeError(w, r, err, nil)
				return
			}

			jobID := uuid.NewString()
			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
			key := blobstoreUploadKey(tenantID, jobID, ext)
			if err := s.putObject(ctx, key, data); err != nil {
				writeError(w, r, fmt.Errorf("op=httpserver.Submit: store upload: %w", err), nil)
				return
			}
			fileName, fileSize, filePath = header.Filename, int64(len(data)), key
			result, err := s.Orchestrator.Submit(ctx, tenantID, fileName, ext, fileSize, filePath, domain.ModePhase1, r.Header.Get("Idempotency-Key"))
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			writeJSON(w, http.StatusOK, submitResponse{JobID: result.JobID, CandidateID: result.CandidateID})
			return

		case strings.Contains(contentType, "application/json"):
			r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
			var req submitJSONRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if req.StoragePath == "" || req.FileName == "" {
				writeError(w, r, fmt.Errorf("%w: storage_path and file_name required", domain.ErrInvalidArgument), nil)
				return
			}
			fileName, fileSize, filePath = req.FileName, req.Size, req.StoragePath
			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
			if !fileval.AllowedExtensions[ext] {
				writeError(w, r, fmt.Errorf("%w: unsupported extension %q", domain.ErrFileValidation, ext), nil)
				return
			}
			result, err := s.Orchestrator.Submit(ctx, tenantID, fileName, ext, fileSize, filePath, domain.ModePhase1, r.Header.Get("Idempotency-Key"))
			if err != nil {
				writeError(w, r, err, nil)
				return
			}
			writeJSON(w, http.StatusOK, submitResponse{JobID: result.JobID, CandidateID: result.CandidateID})
			return

		default:
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data or application/json", domain.ErrInvalidArgument), nil)
			return
		}
	}
}

// putObject stages raw bytes through the blob store's presigned-put URL,
// mirroring the upload path a client would take against the same
// BlobStore.PresignPut contract, since domain.BlobStore has no direct
// byte-upload method.
func (s *Server) putObject(ctx domain.Context, key string, data []byte) error {
	url, err := s.Blobs.PresignPut(ctx, key, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("presign put: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("presigned put failed: %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func blobstoreUploadKey(tenantID, jobID, ext string) string {
	return fmt.Sprintf("uploads/%s/%s.%s", tenantID, jobID, ext)
}

type jobResponse struct {
	Status          string   `json:"status"`
	Phase           string   `json:"phase,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
	ErrorCode       string   `json:"error_code,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
}

// JobHandler handles GET /jobs/{job_id}: returns the current lifecycle
// status, non-terminal phase, and, once failed, the recorded error.
func (s *Server) JobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		if jobID == "" {
			writeError(w, r, fmt.Errorf("%w: job_id missing", domain.ErrInvalidArgument), nil)
			return
		}
		job, err := s.Orchestrator.Status(r.Context(), jobID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := jobResponse{Status: string(job.Status)}
		if !job.Status.Terminal() {
			resp.Phase = string(job.Status)
		}
		if job.Status == domain.JobFailed {
			resp.ErrorCode = job.ErrorCode
			resp.ErrorMessage = job.ErrorMessage
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// ReadyzHandler returns a readiness handler that probes metadata store,
// vector store and text extractor dependencies.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		run := func(name string, fn func(domain.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, check{Name: name, OK: true})
		}
		run("metadata_store", s.DBCheck)
		run("vector_store", s.QdrantCheck)
		run("text_extractor", s.TikaCheck)

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
