package submit

import (
	"encoding/json"
	"strings"
	"testing"

	"practicum/internal/store"
)

func seedTask(t *testing.T, st store.Store) *store.Task {
	t.Helper()
	task := &store.Task{
		Participant: "alice@example.com",
		TaskID:      "calc-ab12f",
		Round:       1,
		Nonce:       "nonce-alice-1",
	}
	if _, err := st.CreateTask(task); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	return task
}

func validCallback(task *store.Task) *Callback {
	return &Callback{
		ParticipantID:    task.Participant,
		TaskID:           task.TaskID,
		Round:            task.Round,
		Nonce:            task.Nonce,
		ArtifactLocation: "/artifacts/alice-calc",
		ContentID:        "c1",
		RenderedURL:      "http://host/artifacts/alice-calc",
	}
}

func TestAccept_HappyPath(t *testing.T) {
	st := store.NewMemStore()
	task := seedTask(t, st)
	v := NewValidator(st)

	body, _ := json.Marshal(validCallback(task))
	res, err := v.Accept(body)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if !res.Accepted || res.Submission == nil {
		t.Fatalf("result: %+v", res)
	}
	if res.Submission.ID == 0 {
		t.Errorf("accepted submission has no store id: %+v", res.Submission)
	}

	stored, err := st.GetSubmission(task.Participant, task.TaskID, task.Round)
	if err != nil || stored == nil || stored.ContentID != "c1" {
		t.Fatalf("submission not stored: %+v err %v", stored, err)
	}
	if stored.ID != res.Submission.ID {
		t.Errorf("stored id %d != returned id %d", stored.ID, res.Submission.ID)
	}
}

func TestAccept_TaskNotFound(t *testing.T) {
	st := store.NewMemStore()
	v := NewValidator(st)

	cb := &Callback{
		ParticipantID: "nobody@example.com", TaskID: "calc-ab12f", Round: 2,
		Nonce: "n", ArtifactLocation: "a", ContentID: "c", RenderedURL: "r",
	}
	res, err := v.AcceptCallback(cb)
	if err != nil {
		t.Fatalf("AcceptCallback: %v", err)
	}
	if res.Accepted || res.Reason != ReasonTaskNotFound {
		t.Fatalf("result: %+v", res)
	}
}

func TestAccept_NonceMismatch(t *testing.T) {
	st := store.NewMemStore()
	task := seedTask(t, st)
	v := NewValidator(st)

	cb := validCallback(task)
	cb.Nonce = "someone-elses-nonce"
	res, err := v.AcceptCallback(cb)
	if err != nil {
		t.Fatalf("AcceptCallback: %v", err)
	}
	if res.Accepted || res.Reason != ReasonNonceMismatch {
		t.Fatalf("result: %+v", res)
	}
	if sub, _ := st.GetSubmission(task.Participant, task.TaskID, task.Round); sub != nil {
		t.Error("rejected callback created a submission")
	}
}

func TestAccept_MissingFields(t *testing.T) {
	st := store.NewMemStore()
	task := seedTask(t, st)
	v := NewValidator(st)

	mutations := map[string]func(*Callback){
		"participant_id":    func(c *Callback) { c.ParticipantID = "" },
		"task_id":           func(c *Callback) { c.TaskID = "" },
		"round":             func(c *Callback) { c.Round = 0 },
		"nonce":             func(c *Callback) { c.Nonce = "" },
		"artifact_location": func(c *Callback) { c.ArtifactLocation = "" },
		"content_id":        func(c *Callback) { c.ContentID = "" },
		"rendered_url":      func(c *Callback) { c.RenderedURL = "" },
	}
	for field, mutate := range mutations {
		cb := validCallback(task)
		mutate(cb)
		res, err := v.AcceptCallback(cb)
		if err != nil {
			t.Fatalf("%s: %v", field, err)
		}
		if res.Accepted || !strings.HasPrefix(res.Reason, ReasonMissingField) {
			t.Errorf("%s: result %+v", field, res)
		}
		if !strings.Contains(res.Reason, field) {
			t.Errorf("%s: reason %q does not name the field", field, res.Reason)
		}
	}
}

func TestAccept_MalformedBody(t *testing.T) {
	v := NewValidator(store.NewMemStore())
	res, err := v.Accept([]byte("{not json"))
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Accepted || !strings.HasPrefix(res.Reason, ReasonMissingField) {
		t.Fatalf("result: %+v", res)
	}
}

func TestAccept_ReplaySameContentIsIdempotent(t *testing.T) {
	st := store.NewMemStore()
	task := seedTask(t, st)
	v := NewValidator(st)

	first, err := v.AcceptCallback(validCallback(task))
	if err != nil || !first.Accepted {
		t.Fatalf("first: %+v err %v", first, err)
	}
	second, err := v.AcceptCallback(validCallback(task))
	if err != nil || !second.Accepted {
		t.Fatalf("replay: %+v err %v", second, err)
	}
	if second.Reason != "duplicate" {
		t.Errorf("replay reason: %q", second.Reason)
	}
	if second.Submission.ID != first.Submission.ID {
		t.Error("replay created a second submission")
	}
}

func TestAccept_ConflictingResubmission(t *testing.T) {
	st := store.NewMemStore()
	task := seedTask(t, st)
	v := NewValidator(st)

	if res, err := v.AcceptCallback(validCallback(task)); err != nil || !res.Accepted {
		t.Fatalf("first: %+v err %v", res, err)
	}
	conflicting := validCallback(task)
	conflicting.ContentID = "c2-different-build"
	res, err := v.AcceptCallback(conflicting)
	if err != nil {
		t.Fatalf("conflicting: %v", err)
	}
	if res.Accepted || res.Reason != ReasonConflictingResubmission {
		t.Fatalf("result: %+v", res)
	}

	stored, _ := st.GetSubmission(task.Participant, task.TaskID, task.Round)
	if stored.ContentID != "c1" {
		t.Errorf("canonical submission overwritten: %+v", stored)
	}
}
