// Package submit is the inbound gate for participant callbacks. A callback is
// authenticated against the Task it answers (key and nonce must match a task
// we actually issued) and recorded exactly once.
package submit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"practicum/internal/logging"
	"practicum/internal/store"
)

// Reject reasons returned to callers. The reason string is part of the wire
// contract: it is echoed in the HTTP 400 body.
const (
	ReasonTaskNotFound            = "TaskNotFound"
	ReasonNonceMismatch           = "NonceMismatch"
	ReasonMissingField            = "MissingField"
	ReasonConflictingResubmission = "ConflictingResubmission"
)

// Callback is the submission payload a participant posts back.
type Callback struct {
	ParticipantID    string `json:"participant_id"`
	TaskID           string `json:"task_id"`
	Round            int    `json:"round"`
	Nonce            string `json:"nonce"`
	ArtifactLocation string `json:"artifact_location"`
	ContentID        string `json:"content_id"`
	RenderedURL      string `json:"rendered_url"`
}

// Result is the outcome of validating one callback.
type Result struct {
	Accepted   bool
	Reason     string // reject reason, or detail like "duplicate" on accept
	Submission *store.Submission
}

// Validator checks inbound callbacks against issued tasks.
type Validator struct {
	st     store.Store
	logger *slog.Logger
}

// NewValidator creates a Validator over the given store.
func NewValidator(st store.Store) *Validator {
	return &Validator{st: st, logger: logging.New("submit")}
}

// Accept parses and validates a raw callback body. A malformed body or a
// missing required field rejects with MissingField; the error return is
// reserved for store failures.
func (v *Validator) Accept(body []byte) (*Result, error) {
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return &Result{Reason: fmt.Sprintf("%s: %v", ReasonMissingField, err)}, nil
	}
	return v.AcceptCallback(&cb)
}

// AcceptCallback validates an already-decoded callback.
func (v *Validator) AcceptCallback(cb *Callback) (*Result, error) {
	if reason := missingField(cb); reason != "" {
		return &Result{Reason: reason}, nil
	}

	task, err := v.st.GetTask(cb.ParticipantID, cb.TaskID, cb.Round)
	if err != nil {
		return nil, fmt.Errorf("look up task: %w", err)
	}
	if task == nil {
		v.logger.Warn("callback for unknown task",
			"participant", cb.ParticipantID, "task", cb.TaskID, "round", cb.Round)
		return &Result{Reason: ReasonTaskNotFound}, nil
	}
	if task.Nonce != cb.Nonce {
		v.logger.Warn("callback nonce mismatch",
			"participant", cb.ParticipantID, "task", cb.TaskID, "round", cb.Round)
		return &Result{Reason: ReasonNonceMismatch}, nil
	}

	sub := &store.Submission{
		Participant:      cb.ParticipantID,
		TaskID:           cb.TaskID,
		Round:            cb.Round,
		Nonce:            cb.Nonce,
		ArtifactLocation: cb.ArtifactLocation,
		ContentID:        cb.ContentID,
		RenderedURL:      cb.RenderedURL,
	}
	_, err = v.st.CreateSubmission(sub)
	if errors.Is(err, store.ErrAlreadyExists) {
		existing, gerr := v.st.GetSubmission(cb.ParticipantID, cb.TaskID, cb.Round)
		if gerr != nil {
			return nil, fmt.Errorf("look up existing submission: %w", gerr)
		}
		if existing != nil && existing.ContentID == cb.ContentID {
			// Idempotent re-delivery of the same content.
			return &Result{Accepted: true, Reason: "duplicate", Submission: existing}, nil
		}
		v.logger.Warn("conflicting resubmission",
			"participant", cb.ParticipantID, "task", cb.TaskID, "round", cb.Round)
		return &Result{Reason: ReasonConflictingResubmission}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	v.logger.Info("accepted submission",
		"participant", cb.ParticipantID, "task", cb.TaskID, "round", cb.Round)
	return &Result{Accepted: true, Submission: sub}, nil
}

func missingField(cb *Callback) string {
	switch {
	case cb.ParticipantID == "":
		return ReasonMissingField + ": participant_id"
	case cb.TaskID == "":
		return ReasonMissingField + ": task_id"
	case cb.Round < 1:
		return ReasonMissingField + ": round"
	case cb.Nonce == "":
		return ReasonMissingField + ": nonce"
	case cb.ArtifactLocation == "":
		return ReasonMissingField + ": artifact_location"
	case cb.ContentID == "":
		return ReasonMissingField + ": content_id"
	case cb.RenderedURL == "":
		return ReasonMissingField + ": rendered_url"
	}
	return ""
}
