// Package evaluate scores submissions against the checks carried by the task
// they answer. Static checks fetch artifact files over HTTP; interactive
// checks drive a browser session against the rendered page. Results for a
// submission are written as one complete set.
package evaluate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"practicum/internal/logging"
	"practicum/internal/store"
)

// infraPrefix marks a result whose check could not complete, as opposed to
// one that completed and found the feature absent.
const infraPrefix = "infrastructure failure: "

// ReachabilityCheck is the implicit first check run for every submission.
const ReachabilityCheck = "artifact_reachable"

const (
	defaultSessionLimit = 2
	defaultCheckTimeout = 30 * time.Second
	maxEvidenceBytes    = 500
)

// Harness runs the full check pipeline for submissions.
type Harness struct {
	st         store.Store
	browser    Browser
	httpClient *http.Client
	sessions   chan struct{}
	timeout    time.Duration
	logger     *slog.Logger
}

// Option customizes a Harness.
type Option func(*Harness)

// WithHTTPClient overrides the client used for static fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Harness) { h.httpClient = c }
}

// WithSessionLimit caps concurrent browser sessions.
func WithSessionLimit(n int) Option {
	return func(h *Harness) {
		if n > 0 {
			h.sessions = make(chan struct{}, n)
		}
	}
}

// WithCheckTimeout bounds each individual check.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Harness) { h.timeout = d }
}

// NewHarness creates a Harness over the given store and browser capability.
func NewHarness(st store.Store, browser Browser, opts ...Option) *Harness {
	h := &Harness{
		st:         st,
		browser:    browser,
		httpClient: &http.Client{Timeout: defaultCheckTimeout},
		sessions:   make(chan struct{}, defaultSessionLimit),
		timeout:    defaultCheckTimeout,
		logger:     logging.New("evaluate"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Evaluate runs every check for one submission and replaces its stored result
// set atomically. The returned results always start with the implicit
// reachability check.
func (h *Harness) Evaluate(ctx context.Context, sub *store.Submission) ([]*store.CheckResult, error) {
	task, err := h.st.GetTaskByNonce(sub.Nonce)
	if err != nil {
		return nil, fmt.Errorf("look up task for submission %d: %w", sub.ID, err)
	}
	if task == nil {
		return nil, fmt.Errorf("no task for nonce %s", sub.Nonce)
	}

	h.logger.Info("evaluating submission",
		"participant", sub.Participant, "task", sub.TaskID, "round", sub.Round)

	var results []*store.CheckResult

	reachable, reach := h.checkReachable(ctx, sub)
	results = append(results, reach)

	// An unreachable page skips interactive assertions. The infra prefix is
	// reserved for fetches that never completed; a completed non-2xx status
	// is the participant's page and the skip reason carries that status.
	skipReason := reach.Reason + ", assertion skipped"
	if strings.HasPrefix(reach.Reason, infraPrefix) {
		skipReason = infraPrefix + "rendered page unreachable, assertion skipped"
	}

	for _, check := range task.Checks {
		switch check.Kind {
		case store.CheckExistence:
			results = append(results, h.checkExistence(ctx, sub, &check))
		case store.CheckContent:
			results = append(results, h.checkContent(ctx, sub, &check))
		case store.CheckInteractive:
			if !reachable {
				for _, a := range check.Assertions {
					results = append(results, result(sub, a.Name, 0, skipReason, ""))
				}
				continue
			}
			results = append(results, h.checkInteractive(ctx, sub, &check)...)
		default:
			results = append(results, result(sub, check.Name, 0,
				fmt.Sprintf("unknown check kind %q", check.Kind), ""))
		}
	}

	if err := h.st.ReplaceResults(sub.ID, results); err != nil {
		return nil, fmt.Errorf("store results for submission %d: %w", sub.ID, err)
	}
	h.logger.Info("evaluation complete",
		"participant", sub.Participant, "task", sub.TaskID, "checks", len(results))
	return results, nil
}

// checkReachable fetches the rendered page once. Any failure to complete the
// fetch is an infrastructure failure; a non-2xx status is a completed check.
func (h *Harness) checkReachable(ctx context.Context, sub *store.Submission) (bool, *store.CheckResult) {
	status, _, err := h.fetch(ctx, sub.RenderedURL)
	if err != nil {
		return false, result(sub, ReachabilityCheck, 0, infraPrefix+err.Error(), "")
	}
	if status < 200 || status > 299 {
		return false, result(sub, ReachabilityCheck, 0,
			fmt.Sprintf("rendered page returned HTTP %d", status), "")
	}
	return true, result(sub, ReachabilityCheck, 1.0,
		fmt.Sprintf("rendered page returned HTTP %d", status), "")
}

func (h *Harness) checkExistence(ctx context.Context, sub *store.Submission, check *store.Check) *store.CheckResult {
	target, err := url.JoinPath(sub.RenderedURL, check.Path)
	if err != nil {
		return result(sub, check.Name, 0, infraPrefix+err.Error(), "")
	}
	status, _, err := h.fetch(ctx, target)
	if err != nil {
		return result(sub, check.Name, 0, infraPrefix+err.Error(), "")
	}
	if status >= 200 && status <= 299 {
		return result(sub, check.Name, 1.0, fmt.Sprintf("%s present", check.Path), "")
	}
	return result(sub, check.Name, 0,
		fmt.Sprintf("%s not found: HTTP %d", check.Path, status), "")
}

// checkContent scores a text artifact by length and markdown section count,
// each contributing half the score.
func (h *Harness) checkContent(ctx context.Context, sub *store.Submission, check *store.Check) *store.CheckResult {
	target, err := url.JoinPath(sub.RenderedURL, check.Path)
	if err != nil {
		return result(sub, check.Name, 0, infraPrefix+err.Error(), "")
	}
	status, body, err := h.fetch(ctx, target)
	if err != nil {
		return result(sub, check.Name, 0, infraPrefix+err.Error(), "")
	}
	if status < 200 || status > 299 {
		return result(sub, check.Name, 0,
			fmt.Sprintf("%s not found: HTTP %d", check.Path, status), "")
	}

	content := string(body)
	score := 0.0
	var reasons []string

	if check.MinLength <= 0 || len(content) >= check.MinLength {
		score += 0.5
		reasons = append(reasons, fmt.Sprintf("length %d ok", len(content)))
	} else {
		reasons = append(reasons, fmt.Sprintf("length %d below %d", len(content), check.MinLength))
	}
	sections := countSections(content)
	if check.MinSections <= 0 || sections >= check.MinSections {
		score += 0.5
		reasons = append(reasons, fmt.Sprintf("%d sections ok", sections))
	} else {
		reasons = append(reasons, fmt.Sprintf("%d sections below %d", sections, check.MinSections))
	}

	return result(sub, check.Name, score, strings.Join(reasons, "; "), evidence(content))
}

// checkInteractive acquires a bounded browser session and runs every
// assertion of the check against the rendered page. One result per assertion.
func (h *Harness) checkInteractive(ctx context.Context, sub *store.Submission, check *store.Check) []*store.CheckResult {
	select {
	case h.sessions <- struct{}{}:
	case <-ctx.Done():
		return infraAll(sub, check, "browser session wait aborted: "+ctx.Err().Error())
	}
	defer func() { <-h.sessions }()

	sessCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	session, err := h.browser.NewSession(sessCtx, sub.RenderedURL)
	if err != nil {
		return infraAll(sub, check, err.Error())
	}
	defer session.Close()

	var results []*store.CheckResult
	for _, a := range check.Assertions {
		aCtx, aCancel := context.WithTimeout(ctx, h.timeout)
		results = append(results, h.runAssertion(aCtx, session, sub, &a))
		aCancel()
	}
	return results
}

func (h *Harness) runAssertion(ctx context.Context, session Session, sub *store.Submission, a *store.Assertion) *store.CheckResult {
	switch a.Kind {
	case store.AssertElementPresent:
		count, err := session.CountElements(ctx, a.Selector)
		if err != nil {
			return result(sub, a.Name, 0, infraPrefix+err.Error(), "")
		}
		min := a.MinCount
		if min <= 0 {
			min = 1
		}
		if count >= min {
			return result(sub, a.Name, 1.0,
				fmt.Sprintf("found %d elements matching %q", count, a.Selector), "")
		}
		return result(sub, a.Name, 0,
			fmt.Sprintf("found %d elements matching %q, expected at least %d", count, a.Selector, min), "")

	case store.AssertClick:
		ok, err := session.Click(ctx, a.Selector, a.ExpectSelector)
		if err != nil {
			return result(sub, a.Name, 0, infraPrefix+err.Error(), "")
		}
		if ok {
			return result(sub, a.Name, 1.0,
				fmt.Sprintf("click on %q produced expected state", a.Selector), "")
		}
		return result(sub, a.Name, 0,
			fmt.Sprintf("click on %q did not reveal %q", a.Selector, a.ExpectSelector), "")

	case store.AssertResponsive:
		widths := a.Widths
		if len(widths) == 0 {
			widths = []int64{768, 1024}
		}
		passed, err := session.Responsive(ctx, widths)
		if err != nil {
			return result(sub, a.Name, 0, infraPrefix+err.Error(), "")
		}
		score := float64(passed) / float64(len(widths))
		return result(sub, a.Name, score,
			fmt.Sprintf("content visible at %d/%d viewport widths", passed, len(widths)), "")

	case store.AssertTextContains:
		text, err := session.Text(ctx, a.Selector)
		if err != nil {
			return result(sub, a.Name, 0, infraPrefix+err.Error(), "")
		}
		if strings.Contains(strings.ToLower(text), strings.ToLower(a.Text)) {
			return result(sub, a.Name, 1.0,
				fmt.Sprintf("%q contains %q", a.Selector, a.Text), evidence(text))
		}
		return result(sub, a.Name, 0,
			fmt.Sprintf("%q does not contain %q", a.Selector, a.Text), evidence(text))

	default:
		return result(sub, a.Name, 0, fmt.Sprintf("unknown assertion kind %q", a.Kind), "")
	}
}

func (h *Harness) fetch(ctx context.Context, target string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s: %w", target, err)
	}
	return resp.StatusCode, body, nil
}

func infraAll(sub *store.Submission, check *store.Check, reason string) []*store.CheckResult {
	results := make([]*store.CheckResult, 0, len(check.Assertions))
	for _, a := range check.Assertions {
		results = append(results, result(sub, a.Name, 0, infraPrefix+reason, ""))
	}
	return results
}

func result(sub *store.Submission, check string, score float64, reason, ev string) *store.CheckResult {
	return &store.CheckResult{
		SubmissionID: sub.ID,
		Check:        check,
		Score:        score,
		Reason:       reason,
		Evidence:     ev,
	}
}

// countSections counts markdown headings at the start of a line.
func countSections(content string) int {
	count := 0
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			count++
		}
	}
	return count
}

func evidence(s string) string {
	if len(s) > maxEvidenceBytes {
		return s[:maxEvidenceBytes]
	}
	return s
}
