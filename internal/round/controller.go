// Package round drives the assignment lifecycle through its phases: issue
// tasks to every eligible participant, wait for callbacks, evaluate the
// submissions, then advance or close each participant for the next round.
package round

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"practicum/internal/logging"
	"practicum/internal/notify"
	"practicum/internal/store"
	"practicum/internal/task"
)

// Phase is the controller's position in the round lifecycle.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseIssuing    Phase = "issuing"
	PhaseAwaiting   Phase = "awaiting_submissions"
	PhaseEvaluating Phase = "evaluating"
	PhaseAdvanced   Phase = "advanced"
	PhaseClosed     Phase = "closed"
)

// PassPolicy decides whether a participant's round results qualify them for
// the next round. The threshold lives with the operator, not in this package.
type PassPolicy func([]*store.CheckResult) bool

// MeanThreshold passes when the mean score across all checks meets threshold.
// An empty result set never passes.
func MeanThreshold(threshold float64) PassPolicy {
	return func(results []*store.CheckResult) bool {
		if len(results) == 0 {
			return false
		}
		total := 0.0
		for _, r := range results {
			total += r.Score
		}
		return total/float64(len(results)) >= threshold
	}
}

// Evaluator scores one submission. Satisfied by evaluate.Harness.
type Evaluator interface {
	Evaluate(ctx context.Context, sub *store.Submission) ([]*store.CheckResult, error)
}

// Deliverer pushes a payload to a participant endpoint. Satisfied by
// notify.Notifier.
type Deliverer interface {
	Deliver(ctx context.Context, url string, payload any) notify.Outcome
}

// IssueOutcome is the per-participant result of one issuing pass.
type IssueOutcome struct {
	Participant string
	TaskID      string
	Skipped     bool // task already existed, issuing re-run
	Delivered   bool
	StatusCode  int
	Attempts    int
	Err         error
}

// EvalOutcome is the per-participant result of one evaluation pass.
type EvalOutcome struct {
	Participant string
	Results     []*store.CheckResult
	Advanced    bool
	Err         error
}

// TaskPayload is the body delivered to a participant endpoint when a task is
// issued. Field names are the wire contract.
type TaskPayload struct {
	ParticipantID string             `json:"participant_id"`
	TaskID        string             `json:"task_id"`
	Round         int                `json:"round"`
	Nonce         string             `json:"nonce"`
	Brief         string             `json:"brief"`
	Checks        []store.Check      `json:"checks"`
	Attachments   []store.Attachment `json:"attachments"`
	CallbackURL   string             `json:"callback_url"`
}

// Controller runs rounds. One controller instance manages one round at a
// time; phase transitions are serialized, the per-participant work inside a
// phase fans out across workers.
type Controller struct {
	st        store.Store
	gen       *task.Generator
	deliverer Deliverer
	evaluator Evaluator
	policy    PassPolicy
	parallel  int
	logger    *slog.Logger

	mu    sync.Mutex
	phase Phase
	round int
}

// Option configures a Controller.
type Option func(*Controller)

// WithParallelism bounds the worker pool for issuing and evaluating.
func WithParallelism(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.parallel = n
		}
	}
}

// NewController wires a Controller.
func NewController(st store.Store, gen *task.Generator, d Deliverer, e Evaluator, policy PassPolicy, opts ...Option) *Controller {
	c := &Controller{
		st:        st,
		gen:       gen,
		deliverer: d,
		evaluator: e,
		policy:    policy,
		parallel:  4,
		phase:     PhaseIdle,
		logger:    logging.New("round"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Phase returns the current lifecycle phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase, round int) {
	c.mu.Lock()
	c.phase = p
	c.round = round
	c.mu.Unlock()
	c.logger.Info("phase transition", "phase", p, "round", round)
}

// IssueRound generates and delivers a task to every participant eligible for
// the round. templateID forces a template for round 1; revision rounds
// (round > 1) always reuse each participant's previous template and ignore
// it. Participants who already hold a task for this round are skipped, so
// re-running an interrupted pass is safe. Delivery failures are recorded on
// the task and do not abort the batch.
func (c *Controller) IssueRound(ctx context.Context, round int, templateID string) ([]IssueOutcome, error) {
	if round < 1 {
		return nil, fmt.Errorf("round must be >= 1")
	}
	c.setPhase(PhaseIssuing, round)

	participants, err := c.EligibleForRound(round)
	if err != nil {
		c.setPhase(PhaseIdle, round)
		return nil, err
	}
	c.logger.Info("issuing round", "round", round, "participants", len(participants))

	outcomes := make([]IssueOutcome, len(participants))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i, p := range participants {
		i, p := i, p
		g.Go(func() error {
			outcomes[i] = c.issueOne(gCtx, p, round, templateID)
			return nil
		})
	}
	_ = g.Wait()

	c.setPhase(PhaseAwaiting, round)
	return outcomes, ctx.Err()
}

func (c *Controller) issueOne(ctx context.Context, p *store.Participant, round int, templateID string) IssueOutcome {
	out := IssueOutcome{Participant: p.ID}

	tplID := templateID
	if round > 1 {
		prev, err := c.previousTask(p.ID, round-1)
		if err != nil {
			out.Err = err
			return out
		}
		if prev == nil {
			out.Err = fmt.Errorf("participant %s has no round %d task to revise", p.ID, round-1)
			return out
		}
		tplID = prev.TemplateID
	}

	t, err := c.gen.Generate(p, round, tplID)
	if errors.Is(err, store.ErrAlreadyExists) {
		out.Skipped = true
		return out
	}
	if err != nil {
		out.Err = fmt.Errorf("generate for %s: %w", p.ID, err)
		return out
	}
	out.TaskID = t.TaskID

	payload := TaskPayload{
		ParticipantID: t.Participant,
		TaskID:        t.TaskID,
		Round:         t.Round,
		Nonce:         t.Nonce,
		Brief:         t.Brief,
		Checks:        t.Checks,
		Attachments:   t.Attachments,
		CallbackURL:   t.CallbackURL,
	}
	res := c.deliverer.Deliver(ctx, p.Endpoint, payload)
	out.Delivered = res.Success
	out.StatusCode = res.StatusCode
	out.Attempts = res.Attempts
	if !res.Success {
		out.Err = fmt.Errorf("deliver to %s: %w", p.Endpoint, res.Err)
	}

	var deliveryErr string
	if res.Err != nil {
		deliveryErr = res.Err.Error()
	}
	if err := c.st.UpdateTaskDelivery(t.ID, res.StatusCode, deliveryErr); err != nil {
		c.logger.Error("record delivery outcome", "participant", p.ID, "error", err)
	}
	return out
}

func (c *Controller) previousTask(participant string, round int) (*store.Task, error) {
	tasks, err := c.st.ListTasksByParticipant(participant)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", participant, err)
	}
	for _, t := range tasks {
		if t.Round == round {
			return t, nil
		}
	}
	return nil, nil
}

// EvaluateRound scores every submission of the round that has no complete
// result set yet, then applies the pass policy per participant. Submissions
// fan out across workers; the browser session cap inside the evaluator
// bounds actual page loads.
func (c *Controller) EvaluateRound(ctx context.Context, round int) ([]EvalOutcome, error) {
	c.setPhase(PhaseEvaluating, round)

	pending, err := c.st.ListUnevaluatedSubmissions(round)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	c.logger.Info("evaluating round", "round", round, "pending", len(pending))

	evalErrs := make([]error, len(pending))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallel)
	for i, sub := range pending {
		i, sub := i, sub
		g.Go(func() error {
			if _, err := c.evaluator.Evaluate(gCtx, sub); err != nil {
				evalErrs[i] = err
				c.logger.Error("evaluation failed",
					"participant", sub.Participant, "task", sub.TaskID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	subs, err := c.st.ListSubmissionsByRound(round)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	outcomes := make([]EvalOutcome, 0, len(subs))
	anyAdvanced := false
	for _, sub := range subs {
		out := EvalOutcome{Participant: sub.Participant}
		for i, p := range pending {
			if p.ID == sub.ID && evalErrs[i] != nil {
				out.Err = evalErrs[i]
			}
		}
		results, err := c.st.ListResultsForParticipantRound(sub.Participant, round)
		if err != nil {
			out.Err = fmt.Errorf("list results for %s: %w", sub.Participant, err)
			outcomes = append(outcomes, out)
			continue
		}
		out.Results = results
		out.Advanced = out.Err == nil && c.policy(results)
		if out.Advanced {
			anyAdvanced = true
		}
		outcomes = append(outcomes, out)
	}

	if anyAdvanced {
		c.setPhase(PhaseAdvanced, round)
	} else {
		c.setPhase(PhaseClosed, round)
	}
	return outcomes, ctx.Err()
}

// EligibleForRound returns the participants a given round should be issued
// to. Round 1 takes every registered participant; later rounds take those
// whose previous-round results satisfy the pass policy. Eligibility is
// recomputed from stored results, never cached, so a re-evaluation changes
// the next issuing pass.
func (c *Controller) EligibleForRound(round int) ([]*store.Participant, error) {
	all, err := c.st.ListParticipants()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	if round <= 1 {
		return all, nil
	}

	var eligible []*store.Participant
	for _, p := range all {
		results, err := c.st.ListResultsForParticipantRound(p.ID, round-1)
		if err != nil {
			return nil, fmt.Errorf("list results for %s: %w", p.ID, err)
		}
		if c.policy(results) {
			eligible = append(eligible, p)
		}
	}
	return eligible, nil
}
