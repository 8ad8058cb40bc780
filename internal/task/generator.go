package task

import (
	"fmt"
	"log/slog"
	"time"

	"practicum/internal/logging"
	"practicum/internal/store"

	"github.com/google/uuid"
)

// bucketFormat is the coarse time window used for parametrization seeds.
// Distribution re-runs within the same hour reproduce identical tasks.
const bucketFormat = "2006-01-02-15"

// Generator derives tasks and records them in the store. Re-running
// generation for a key that already has a Task returns store.ErrAlreadyExists
// instead of a duplicate.
type Generator struct {
	st          store.Store
	set         *Set
	callbackURL string
	now         func() time.Time
	logger      *slog.Logger
}

// NewGenerator wires a Generator against a store and template set.
// callbackURL is the submission endpoint participants must call back to.
func NewGenerator(st store.Store, set *Set, callbackURL string) *Generator {
	return &Generator{
		st:          st,
		set:         set,
		callbackURL: callbackURL,
		now:         time.Now,
		logger:      logging.New("task"),
	}
}

// WithClock overrides the time source (used by tests to pin the bucket).
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate derives the task for (participant, round). templateID selects a
// template explicitly (revision rounds reuse the round-1 template); when
// empty, the template is picked from the participant/bucket seed. The task's
// nonce is freshly generated on every successful creation and never reused.
func (g *Generator) Generate(p *store.Participant, round int, templateID string) (*store.Task, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("participant is required")
	}
	if round < 1 {
		return nil, fmt.Errorf("round must be >= 1")
	}

	bucket := g.now().UTC().Format(bucketFormat)
	seed := p.ID + "-" + bucket

	var tpl *Template
	if templateID != "" {
		tpl = g.set.Get(templateID)
		if tpl == nil {
			return nil, fmt.Errorf("unknown template %q", templateID)
		}
	} else {
		tpl = g.set.Pick(seed)
	}

	brief, checks, attachments := tpl.Render(round, seed)
	taskID := TaskID(tpl.ID, brief, attachments)

	existing, err := g.st.GetTask(p.ID, taskID, round)
	if err != nil {
		return nil, fmt.Errorf("check existing task: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("task %s round %d for %s: %w", taskID, round, p.ID, store.ErrAlreadyExists)
	}

	t := &store.Task{
		Participant: p.ID,
		TaskID:      taskID,
		Round:       round,
		Nonce:       uuid.NewString(),
		TemplateID:  tpl.ID,
		Brief:       brief,
		Checks:      checks,
		Attachments: attachments,
		CallbackURL: g.callbackURL,
		Endpoint:    p.Endpoint,
	}
	if _, err := g.st.CreateTask(t); err != nil {
		// A concurrent worker may have won the insert race; surface that the
		// same way as the pre-check.
		return nil, fmt.Errorf("create task %s round %d for %s: %w", taskID, round, p.ID, err)
	}
	g.logger.Info("generated task", "participant", p.ID, "task", taskID, "round", round, "template", tpl.ID)
	return t, nil
}
