// Package httpapi exposes the HTTP surface: the builder endpoints a task
// notification drives (/tasks/build, /tasks/revise), the submission intake
// (/submissions), and liveness. Published artifacts are served from the same
// listener so rendered URLs resolve without a second process.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"practicum/internal/forge"
	"practicum/internal/logging"
	"practicum/internal/notify"
	"practicum/internal/secrets"
	"practicum/internal/store"
	"practicum/internal/submit"
)

// BuildRequest is the body of /tasks/build and /tasks/revise.
type BuildRequest struct {
	ParticipantID string             `json:"participant_id"`
	Credential    string             `json:"credential"`
	TaskID        string             `json:"task_id"`
	Round         int                `json:"round"`
	Nonce         string             `json:"nonce"`
	Brief         string             `json:"brief"`
	Checks        []store.Check      `json:"checks"`
	CallbackURL   string             `json:"callback_url"`
	Attachments   []store.Attachment `json:"attachments"`
}

// BuildResponse reports where the built artifact landed.
type BuildResponse struct {
	ArtifactLocation string `json:"artifact_location"`
	ContentID        string `json:"content_id"`
	RenderedURL      string `json:"rendered_url"`
	Notified         bool   `json:"notified"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type acceptResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Server wires the HTTP handlers. Construct with NewServer, start with
// ListenAndServe or mount Handler on a listener of your own.
type Server struct {
	validator  *submit.Validator
	registry   *secrets.Registry
	builder    forge.Generator
	publisher  forge.Publisher
	notifier   *notify.Notifier
	artifacts  http.Handler // file server over the publisher root, optional
	forwardURL string
	logger     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithArtifactDir serves the given directory under /artifacts/.
func WithArtifactDir(dir string) Option {
	return func(s *Server) {
		s.artifacts = http.StripPrefix("/artifacts/", http.FileServer(http.Dir(dir)))
	}
}

// WithForwardURL forwards every accepted submission to the given URL
// through the delivery engine. Forwarding failures are logged, never
// surfaced to the submitter.
func WithForwardURL(url string) Option {
	return func(s *Server) {
		s.forwardURL = url
	}
}

// NewServer assembles the HTTP surface.
func NewServer(v *submit.Validator, r *secrets.Registry, b forge.Generator, p forge.Publisher, n *notify.Notifier, opts ...Option) *Server {
	s := &Server{
		validator: v,
		registry:  r,
		builder:   b,
		publisher: p,
		notifier:  n,
		logger:    logging.New("httpapi"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks/build", s.handleBuild)
	mux.HandleFunc("POST /tasks/revise", s.handleRevise)
	mux.HandleFunc("POST /submissions", s.handleSubmission)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.artifacts != nil {
		mux.Handle("GET /artifacts/", s.artifacts)
	}
	return mux
}

// ListenAndServe blocks serving the API until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	s.build(w, r, false)
}

func (s *Server) handleRevise(w http.ResponseWriter, r *http.Request) {
	s.build(w, r, true)
}

func (s *Server) build(w http.ResponseWriter, r *http.Request, revise bool) {
	var req BuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode body: %v", err)})
		return
	}
	if missing := missingBuildField(&req); missing != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing field: " + missing})
		return
	}
	if !s.registry.Verify(req.ParticipantID, req.Credential) {
		s.logger.Warn("credential rejected", "participant", req.ParticipantID)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credential"})
		return
	}

	buildReq := forge.BuildRequest{
		TaskID:      req.TaskID,
		Round:       req.Round,
		Brief:       req.Brief,
		Checks:      req.Checks,
		Attachments: req.Attachments,
	}
	target := targetName(req.ParticipantID, req.TaskID, req.Round)

	var (
		fs  forge.FileSet
		err error
	)
	if revise {
		prevTarget := targetName(req.ParticipantID, req.TaskID, req.Round-1)
		existing, loadErr := s.publisher.Load(r.Context(), prevTarget)
		if loadErr != nil {
			s.logger.Warn("load previous publication", "target", prevTarget, "error", loadErr)
		}
		fs, err = s.builder.Revise(r.Context(), buildReq, existing)
	} else {
		fs, err = s.builder.Build(r.Context(), buildReq)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("build: %v", err)})
		return
	}

	pub, err := s.publisher.Publish(r.Context(), fs, target)
	if err != nil {
		s.logger.Error("publish failed", "target", target, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("publish: %v", err)})
		return
	}

	notified := false
	if req.CallbackURL != "" {
		callback := submit.Callback{
			ParticipantID:    req.ParticipantID,
			TaskID:           req.TaskID,
			Round:            req.Round,
			Nonce:            req.Nonce,
			ArtifactLocation: pub.ArtifactLocation,
			ContentID:        pub.ContentID,
			RenderedURL:      pub.RenderedURL,
		}
		out := s.notifier.Deliver(r.Context(), req.CallbackURL, callback)
		notified = out.Success
		if !out.Success {
			s.logger.Warn("callback delivery failed",
				"participant", req.ParticipantID, "url", req.CallbackURL, "error", out.Err)
		}
	}

	writeJSON(w, http.StatusOK, BuildResponse{
		ArtifactLocation: pub.ArtifactLocation,
		ContentID:        pub.ContentID,
		RenderedURL:      pub.RenderedURL,
		Notified:         notified,
	})
}

func (s *Server) handleSubmission(w http.ResponseWriter, r *http.Request) {
	var cb submit.Callback
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		writeJSON(w, http.StatusBadRequest, acceptResponse{
			Status: "rejected",
			Reason: fmt.Sprintf("%s: %v", submit.ReasonMissingField, err),
		})
		return
	}
	res, err := s.validator.AcceptCallback(&cb)
	if err != nil {
		s.logger.Error("submission validation errored", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if !res.Accepted {
		writeJSON(w, http.StatusBadRequest, acceptResponse{Status: "rejected", Reason: res.Reason})
		return
	}
	if s.forwardURL != "" {
		go s.forward(&cb)
	}
	writeJSON(w, http.StatusOK, acceptResponse{Status: "accepted", Reason: res.Reason})
}

// forward relays an accepted submission to the configured evaluation URL.
func (s *Server) forward(cb *submit.Callback) {
	out := s.notifier.Deliver(context.Background(), s.forwardURL, cb)
	if !out.Success {
		s.logger.Warn("submission forward failed",
			"participant", cb.ParticipantID, "task", cb.TaskID,
			"attempts", out.Attempts, "error", out.Err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func missingBuildField(req *BuildRequest) string {
	switch {
	case req.ParticipantID == "":
		return "participant_id"
	case req.Credential == "":
		return "credential"
	case req.TaskID == "":
		return "task_id"
	case req.Round < 1:
		return "round"
	case req.Nonce == "":
		return "nonce"
	case req.Brief == "":
		return "brief"
	}
	return ""
}

// targetName flattens the task identity into a single path segment.
func targetName(participant, taskID string, round int) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '-'
		}
	}, participant)
	return fmt.Sprintf("%s-%s-r%d", clean, taskID, round)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
