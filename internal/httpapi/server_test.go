package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"practicum/internal/forge"
	"practicum/internal/notify"
	"practicum/internal/secrets"
	"practicum/internal/store"
	"practicum/internal/submit"
)

type testEnv struct {
	st       store.Store
	server   *httptest.Server
	artifact string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st := store.NewMemStore()
	registry := secrets.NewRegistry(st)
	if err := registry.Register("alice@example.com", "http://alice/build", "alices-long-secret"); err != nil {
		t.Fatalf("register: %v", err)
	}

	dir := t.TempDir()
	srv := NewServer(
		submit.NewValidator(st),
		registry,
		forge.NewStaticGenerator(),
		forge.NewDirPublisher(dir, "http://host/artifacts"),
		notify.New(notify.WithMaxAttempts(2), notify.WithBaseDelay(time.Millisecond)),
		WithArtifactDir(dir),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{st: st, server: ts, artifact: dir}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func buildBody(callbackURL string) map[string]any {
	return map[string]any{
		"participant_id": "alice@example.com",
		"credential":     "alices-long-secret",
		"task_id":        "calc-ab12f",
		"round":          1,
		"nonce":          "nonce-1",
		"brief":          "Create a calculator web application.",
		"checks": []map[string]any{
			{"kind": "existence", "name": "index_present", "path": "index.html"},
		},
		"callback_url": callbackURL,
	}
}

func TestBuild_HappyPathNotifiesCallback(t *testing.T) {
	env := newTestEnv(t)

	var gotCallback submit.Callback
	cb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotCallback)
		w.WriteHeader(http.StatusOK)
	}))
	defer cb.Close()

	resp, body := postJSON(t, env.server.URL+"/tasks/build", buildBody(cb.URL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["notified"] != true {
		t.Errorf("notified: %v", body)
	}
	if body["content_id"] == "" || body["artifact_location"] == "" {
		t.Errorf("response incomplete: %v", body)
	}
	if !strings.HasPrefix(body["rendered_url"].(string), "http://host/artifacts/") {
		t.Errorf("rendered_url: %v", body["rendered_url"])
	}

	// The callback carried the same identity and locations.
	if gotCallback.ParticipantID != "alice@example.com" || gotCallback.Nonce != "nonce-1" ||
		gotCallback.ContentID != body["content_id"] {
		t.Errorf("callback: %+v", gotCallback)
	}

	// Files actually landed under the artifact dir.
	matches, _ := filepath.Glob(filepath.Join(env.artifact, "*", "index.html"))
	if len(matches) != 1 {
		t.Errorf("published index.html: %v", matches)
	}
}

func TestBuild_BadCredential(t *testing.T) {
	env := newTestEnv(t)
	body := buildBody("")
	body["credential"] = "wrong-secret"
	resp, _ := postJSON(t, env.server.URL+"/tasks/build", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestBuild_MissingField(t *testing.T) {
	env := newTestEnv(t)
	body := buildBody("")
	delete(body, "brief")
	resp, decoded := postJSON(t, env.server.URL+"/tasks/build", body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(decoded["error"].(string), "brief") {
		t.Errorf("error: %v", decoded["error"])
	}
}

func TestBuild_UnreachableCallbackStillBuilds(t *testing.T) {
	env := newTestEnv(t)
	// Nothing listens on this port; delivery exhausts its two attempts.
	resp, body := postJSON(t, env.server.URL+"/tasks/build", buildBody("http://127.0.0.1:1/cb"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["notified"] != false {
		t.Errorf("notified should be false: %v", body)
	}
}

func TestRevise_BuildsOnPreviousPublication(t *testing.T) {
	env := newTestEnv(t)

	if resp, _ := postJSON(t, env.server.URL+"/tasks/build", buildBody("")); resp.StatusCode != http.StatusOK {
		t.Fatalf("initial build failed: %d", resp.StatusCode)
	}
	// Drop an extra file into the published r1 target; revision must keep it.
	matches, _ := filepath.Glob(filepath.Join(env.artifact, "*-r1"))
	if len(matches) != 1 {
		t.Fatalf("r1 target: %v", matches)
	}
	if err := os.WriteFile(filepath.Join(matches[0], "notes.txt"), []byte("keep me"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	body := buildBody("")
	body["round"] = 2
	body["nonce"] = "nonce-2"
	body["brief"] = "Add keyboard support to the calculator."
	resp, decoded := postJSON(t, env.server.URL+"/tasks/revise", body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, decoded)
	}

	r2, _ := filepath.Glob(filepath.Join(env.artifact, "*-r2", "notes.txt"))
	if len(r2) != 1 {
		t.Errorf("revision dropped the extra file: %v", r2)
	}
}

func TestSubmissions_AcceptAndReject(t *testing.T) {
	env := newTestEnv(t)
	task := &store.Task{
		Participant: "alice@example.com", TaskID: "calc-ab12f", Round: 1, Nonce: "n1",
	}
	if _, err := env.st.CreateTask(task); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	callback := map[string]any{
		"participant_id":    "alice@example.com",
		"task_id":           "calc-ab12f",
		"round":             1,
		"nonce":             "n1",
		"artifact_location": "/artifacts/alice",
		"content_id":        "c1",
		"rendered_url":      "http://host/artifacts/alice",
	}
	resp, body := postJSON(t, env.server.URL+"/submissions", callback)
	if resp.StatusCode != http.StatusOK || body["status"] != "accepted" {
		t.Fatalf("accept: %d %v", resp.StatusCode, body)
	}

	// Replay with the same content is accepted again.
	resp, body = postJSON(t, env.server.URL+"/submissions", callback)
	if resp.StatusCode != http.StatusOK || body["status"] != "accepted" {
		t.Fatalf("replay: %d %v", resp.StatusCode, body)
	}

	callback["nonce"] = "wrong"
	resp, body = postJSON(t, env.server.URL+"/submissions", callback)
	if resp.StatusCode != http.StatusBadRequest || body["reason"] != submit.ReasonNonceMismatch {
		t.Fatalf("nonce mismatch: %d %v", resp.StatusCode, body)
	}
}

func TestSubmissions_ForwardsAcceptedToEvaluationURL(t *testing.T) {
	st := store.NewMemStore()
	if _, err := st.CreateTask(&store.Task{
		Participant: "alice@example.com", TaskID: "calc-ab12f", Round: 1, Nonce: "n1",
	}); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	forwarded := make(chan submit.Callback, 1)
	eval := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cb submit.Callback
		_ = json.NewDecoder(r.Body).Decode(&cb)
		forwarded <- cb
		w.WriteHeader(http.StatusOK)
	}))
	defer eval.Close()

	dir := t.TempDir()
	srv := NewServer(
		submit.NewValidator(st),
		secrets.NewRegistry(st),
		forge.NewStaticGenerator(),
		forge.NewDirPublisher(dir, "http://host/artifacts"),
		notify.New(notify.WithMaxAttempts(2), notify.WithBaseDelay(time.Millisecond)),
		WithForwardURL(eval.URL),
	)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, body := postJSON(t, ts.URL+"/submissions", map[string]any{
		"participant_id":    "alice@example.com",
		"task_id":           "calc-ab12f",
		"round":             1,
		"nonce":             "n1",
		"artifact_location": "/artifacts/alice",
		"content_id":        "c1",
		"rendered_url":      "http://host/artifacts/alice",
	})
	if resp.StatusCode != http.StatusOK || body["status"] != "accepted" {
		t.Fatalf("accept: %d %v", resp.StatusCode, body)
	}

	select {
	case cb := <-forwarded:
		if cb.ParticipantID != "alice@example.com" || cb.ContentID != "c1" || cb.Nonce != "n1" {
			t.Errorf("forwarded payload: %+v", cb)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accepted submission was not forwarded")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status: %d", resp.StatusCode)
	}
}

func TestArtifacts_Served(t *testing.T) {
	env := newTestEnv(t)
	if resp, _ := postJSON(t, env.server.URL+"/tasks/build", buildBody("")); resp.StatusCode != http.StatusOK {
		t.Fatalf("build failed: %d", resp.StatusCode)
	}
	matches, _ := filepath.Glob(filepath.Join(env.artifact, "*-r1"))
	if len(matches) != 1 {
		t.Fatalf("target: %v", matches)
	}
	target := filepath.Base(matches[0])

	resp, err := http.Get(env.server.URL + "/artifacts/" + target + "/index.html")
	if err != nil {
		t.Fatalf("artifact fetch: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("artifact status: %d", resp.StatusCode)
	}
}
